// Package export is the local report export service. It renders a
// report plan to a file in the export directory and serves the
// result back by download reference.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wesm/botsview/internal/derive"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
	"github.com/wesm/botsview/internal/report"
)

// ErrNotFound is returned for unknown download references.
var ErrNotFound = errors.New("download not found")

// Deriver produces derived views for an arbitrary filter without
// touching the dashboard's live state.
type Deriver interface {
	Derive(ctx context.Context, spec filter.Spec) (derive.Views, error)
}

// createdAtLayout is the history timestamp format.
const createdAtLayout = "2006-01-02 15:04"

type artifact struct {
	ext         string
	contentType string
}

var artifacts = map[report.Format]artifact{
	report.FormatPDF: {ext: ".html", contentType: "text/html; charset=utf-8"},
	report.FormatCSV: {ext: ".csv", contentType: "text/csv; charset=utf-8"},
}

// FileService writes exports to a directory.
type FileService struct {
	dir       string
	deriver   Deriver
	createdBy string
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a FileService.
type Option func(*FileService)

// WithCreatedBy sets the author recorded in history entries.
func WithCreatedBy(name string) Option {
	return func(s *FileService) {
		if name != "" {
			s.createdBy = name
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *FileService) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *FileService) { s.logger = l }
}

// NewFileService creates dir if needed and returns a service
// writing into it.
func NewFileService(
	dir string, d Deriver, opts ...Option,
) (*FileService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	s := &FileService{
		dir:       dir,
		deriver:   d,
		createdBy: "botsview",
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate derives the report content for spec, writes it in the
// requested format and returns the history entry.
func (s *FileService) Generate(
	ctx context.Context, spec report.Spec,
) (model.ReportEntry, error) {
	art, ok := artifacts[spec.OutputFormat]
	if !ok {
		return model.ReportEntry{}, fmt.Errorf(
			"unsupported output format %q", spec.OutputFormat,
		)
	}
	views, err := s.deriver.Derive(ctx, spec.Filter())
	if err != nil {
		return model.ReportEntry{}, fmt.Errorf("deriving report views: %w", err)
	}
	plan := report.Preview(spec, views)
	created := s.now()

	ref := uuid.NewString()
	doc := document{
		Plan:      plan,
		Range:     spec.Range.Label(),
		Bots:      strings.Join(spec.Bots.IDs(), ", "),
		CreatedBy: s.createdBy,
		CreatedAt: created.Format(createdAtLayout),
	}
	err = s.writeAtomic(ctx, ref+art.ext, func(w io.Writer) error {
		if spec.OutputFormat == report.FormatCSV {
			return writeCSV(w, doc)
		}
		return writeHTML(w, doc)
	})
	if err != nil {
		return model.ReportEntry{}, err
	}

	entry := model.ReportEntry{
		ID:             "RPT-" + strings.ToUpper(uuid.NewString()[:8]),
		Name:           spec.Template,
		DateRangeLabel: spec.Range.Label(),
		CreatedBy:      s.createdBy,
		CreatedAt:      doc.CreatedAt,
	}
	if spec.OutputFormat == report.FormatCSV {
		entry.Downloads.CSV = ref
	} else {
		entry.Downloads.PDF = ref
	}
	s.logger.Debug().
		Str("report_id", entry.ID).
		Str("ref", ref).
		Str("format", string(spec.OutputFormat)).
		Msg("export written")
	return entry, nil
}

// writeAtomic writes name through a temp file so a cancelled or
// failed export never leaves a partial download behind.
func (s *FileService) writeAtomic(
	ctx context.Context, name string, fill func(io.Writer) error,
) error {
	tmp, err := os.CreateTemp(s.dir, ".export-*")
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("rendering export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("publishing export file: %w", err)
	}
	return nil
}

// Download is an open export artifact.
type Download struct {
	io.ReadCloser
	Name        string
	ContentType string
}

// Open returns the artifact for ref. Unknown or malformed
// references return ErrNotFound.
func (s *FileService) Open(ref string) (*Download, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, ErrNotFound
	}
	for _, f := range []report.Format{report.FormatPDF, report.FormatCSV} {
		art := artifacts[f]
		name := id.String() + art.ext
		fh, err := os.Open(filepath.Join(s.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening export %s: %w", ref, err)
		}
		return &Download{
			ReadCloser:  fh,
			Name:        "report-" + name,
			ContentType: art.contentType,
		}, nil
	}
	return nil, ErrNotFound
}
