// Package report renders and persists orchestration reports.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/logging"
)

// Output formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Config configures the report writer.
type Config struct {
	Dir     string
	Formats []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:     ".quorum-sweep/reports",
		Formats: []string{FormatJSON, FormatMarkdown},
	}
}

// Writer persists reports under Dir/<run id>/. It implements core.ReportSink.
type Writer struct {
	cfg    Config
	logger *logging.Logger
}

// NewWriter creates a writer. A nil logger discards logs.
func NewWriter(cfg Config, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{cfg: cfg, logger: logger}
}

// RunDir returns the directory reports for runID are written to.
func (w *Writer) RunDir(runID string) string {
	return filepath.Join(w.cfg.Dir, sanitizeFilename(runID))
}

// Paths returns the files WriteReport produces for runID, in format order.
func (w *Writer) Paths(runID string) []string {
	var paths []string
	for _, f := range w.cfg.Formats {
		switch f {
		case FormatJSON:
			paths = append(paths, filepath.Join(w.RunDir(runID), "report.json"))
		case FormatMarkdown:
			paths = append(paths, filepath.Join(w.RunDir(runID), "report.md"))
		}
	}
	return paths
}

// WriteReport implements core.ReportSink. Each file is replaced atomically.
func (w *Writer) WriteReport(ctx context.Context, r *core.Report) error {
	for _, f := range w.cfg.Formats {
		if err := ctx.Err(); err != nil {
			return err
		}
		var (
			data []byte
			name string
			err  error
		)
		switch f {
		case FormatJSON:
			name = "report.json"
			data, err = json.MarshalIndent(r, "", "  ")
		case FormatMarkdown:
			name = "report.md"
			var md string
			md, err = RenderMarkdown(r)
			data = []byte(md)
		default:
			return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown report format %q", f))
		}
		if err != nil {
			return fmt.Errorf("rendering %s report: %w", f, err)
		}
		path := filepath.Join(w.RunDir(r.RunID), name)
		if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
			return err
		}
		w.logger.Debug("report written", "run_id", r.RunID, "path", path)
	}
	return nil
}

// sanitizeFilename keeps run ids usable as directory names.
func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 || string(out) == "." || string(out) == ".." {
		return "run"
	}
	return string(out)
}
