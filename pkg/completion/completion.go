// Package completion finds jobs whose results never made it to disk so they
// can be rerun.
package completion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"cpdispatch/pkg/models"
)

// Reasons reported for an incomplete job.
const (
	ReasonNoOutputDir = "output directory missing"
	ReasonNoResults   = "no results database"
	ReasonEmptyDB     = "results database has no tables"
)

var resultExts = []string{".sqlite", ".db"}

type Missing struct {
	Job    models.JobDescriptor
	Reason string
}

type Report struct {
	Checked    int
	Incomplete []Missing
}

func (r *Report) Complete() int { return r.Checked - len(r.Incomplete) }

// Check inspects every job's output directory in batch order. A job is
// complete when its output holds at least one SQLite results file that opens
// and has a table.
func Check(ctx context.Context, batch *models.Batch) (*Report, error) {
	report := &Report{}
	for _, job := range batch.Jobs() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		reason, err := checkJob(ctx, job.OutputDir)
		if err != nil {
			return report, fmt.Errorf("job %q: %w", job.Name, err)
		}
		if reason != "" {
			report.Incomplete = append(report.Incomplete, Missing{Job: job, Reason: reason})
		}
	}
	return report, nil
}

func checkJob(ctx context.Context, dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ReasonNoOutputDir, nil
		}
		return "", err
	}

	found := false
	for _, e := range entries {
		if e.IsDir() || !isResultFile(e.Name()) {
			continue
		}
		found = true
		if n, err := countTables(ctx, filepath.Join(dir, e.Name())); err == nil && n > 0 {
			return "", nil
		}
	}
	if found {
		return ReasonEmptyDB, nil
	}
	return ReasonNoResults, nil
}

func isResultFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range resultExts {
		if ext == want {
			return true
		}
	}
	return false
}

func countTables(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	dsn := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table'`).Scan(&n)
	return n, err
}

// WriteLoadfile writes one "name<TAB>input_dir<TAB>output_dir" line per
// missing job, creating parent directories as needed.
func WriteLoadfile(path string, missing []Missing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create loadfile directory: %w", err)
	}
	var b strings.Builder
	for _, m := range missing {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", m.Job.Name, m.Job.InputDir, m.Job.OutputDir)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
