// Package manifest loads batch definitions from YAML.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"cpdispatch/pkg/models"
)

var (
	ErrNoRunName = errors.New("manifest: run_name is required")
	ErrNoJobs    = errors.New("manifest: at least one job is required")
)

// scheduleParser accepts standard 5-field cron expressions and descriptors
// such as @daily.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression the way the scheduler will.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

// Defaults apply to every job that leaves the field empty.
type Defaults struct {
	Program    string  `yaml:"program"`
	Pipeline   string  `yaml:"pipeline"`
	PluginsDir *string `yaml:"plugins_dir"`
}

type Job struct {
	Name      string   `yaml:"name"`
	Program   string   `yaml:"program,omitempty"`
	Pipeline  string   `yaml:"pipeline,omitempty"`
	InputDir  string   `yaml:"input_dir"`
	OutputDir string   `yaml:"output_dir"`
	Args      []string `yaml:"args,omitempty"`
	// nil inherits the default, "" clears it.
	PluginsDir *string `yaml:"plugins_dir,omitempty"`
}

type Manifest struct {
	RunName  string   `yaml:"run_name"`
	Schedule string   `yaml:"schedule,omitempty"`
	Defaults Defaults `yaml:"defaults"`
	Jobs     []Job    `yaml:"jobs"`

	// baseDir anchors relative paths.
	baseDir string
}

// Load reads a manifest file. Relative paths inside it resolve against the
// file's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(data []byte, baseDir string) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	m.baseDir = baseDir

	if strings.TrimSpace(m.RunName) == "" {
		return nil, ErrNoRunName
	}
	if len(m.Jobs) == 0 {
		return nil, ErrNoJobs
	}
	if m.Schedule != "" {
		if _, err := ParseSchedule(m.Schedule); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (m *Manifest) BaseDir() string { return m.baseDir }

// Descriptors merges defaults into each job and resolves paths.
func (m *Manifest) Descriptors() []models.JobDescriptor {
	out := make([]models.JobDescriptor, 0, len(m.Jobs))
	for _, j := range m.Jobs {
		d := models.JobDescriptor{
			Name:         j.Name,
			Program:      m.resolveProgram(firstNonEmpty(j.Program, m.Defaults.Program)),
			PipelinePath: m.resolve(firstNonEmpty(j.Pipeline, m.Defaults.Pipeline)),
			InputDir:     m.resolve(j.InputDir),
			OutputDir:    m.resolve(j.OutputDir),
			ExtraArgs:    j.Args,
		}

		plugins := m.Defaults.PluginsDir
		if j.PluginsDir != nil {
			plugins = j.PluginsDir
		}
		if plugins != nil && *plugins != "" {
			p := m.resolve(*plugins)
			d.PluginsDir = &p
		}
		out = append(out, d)
	}
	return out
}

// Batch builds a batch in manifest order. Duplicate job names are an error.
func (m *Manifest) Batch() (*models.Batch, error) {
	return models.BatchFromJobs(m.Descriptors())
}

// Request builds a batch request with a fresh run id.
func (m *Manifest) Request() models.BatchRequest {
	return models.BatchRequest{
		RunID:   uuid.New(),
		RunName: m.RunName,
		Jobs:    m.Descriptors(),
	}
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.baseDir == "" {
		return p
	}
	return filepath.Join(m.baseDir, p)
}

// resolveProgram leaves bare names for PATH lookup.
func (m *Manifest) resolveProgram(p string) string {
	if !strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	return m.resolve(p)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
