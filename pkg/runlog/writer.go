// Package runlog turns job outcomes into durable per-job log files and a
// console report.
package runlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cpdispatch/pkg/metrics"
	"cpdispatch/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05,000"

// Writer writes one log file per job into a fixed directory:
// <dir>/<job>_<run>_run.log
type Writer struct {
	dir     string
	runName string
	clock   zapcore.Clock
	pid     int
}

type WriterOption func(*Writer)

// WithClock fixes the timestamp source.
func WithClock(c zapcore.Clock) WriterOption {
	return func(w *Writer) { w.clock = c }
}

// NewWriter creates dir if needed.
func NewWriter(dir, runName string, opts ...WriterOption) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if runName == "" {
		return nil, fmt.Errorf("run name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &Writer{
		dir:     dir,
		runName: runName,
		clock:   zapcore.DefaultClock,
		pid:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Writer) Dir() string { return w.dir }

func (w *Writer) RunName() string { return w.runName }

// Path returns the log file path for a job.
func (w *Writer) Path(job string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s_run.log", job, w.runName))
}

// WriteAll writes each outcome's log exactly once. A failed file does not
// stop the rest; the returned paths hold only the files that were written,
// in outcome order, and the error joins every failure.
func (w *Writer) WriteAll(outcomes []models.Outcome) ([]string, error) {
	paths := make([]string, 0, len(outcomes))
	var errs []error
	for _, o := range outcomes {
		path, err := w.Write(o)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}

// Write creates (or truncates) the job's log file and writes its record.
func (w *Writer) Write(o models.Outcome) (string, error) {
	path := w.Path(o.JobName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create run log for %q: %w", o.JobName, err)
	}
	defer f.Close()

	pid := o.Pid
	if pid == 0 {
		pid = w.pid
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(f), zapcore.InfoLevel)
	l := zap.New(core, zap.WithClock(w.clock)).Named(fmt.Sprintf("Process ID: %d", pid))

	l.Info("Job Name: " + o.JobName)
	l.Info("Output String: " + string(o.Stderr))

	if err := l.Sync(); err != nil {
		return "", fmt.Errorf("failed to flush run log for %q: %w", o.JobName, err)
	}
	metrics.LogsWritten.Inc()
	return path, nil
}

// encoderConfig renders lines as "[<time>] [Process ID: <pid>] <message>".
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:    "time",
		NameKey:    "logger",
		MessageKey: "message",
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.Format(timeLayout) + "]")
		},
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		},
		ConsoleSeparator: " ",
	}
}
