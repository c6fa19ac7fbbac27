package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/wesm/botsview/internal/export"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/report"
)

// builderPatchRequest updates builder fields. Every field is
// validated before any is applied.
type builderPatchRequest struct {
	Template     *string       `json:"template,omitempty"`
	OutputFormat *string       `json:"output_format,omitempty"`
	Scope        *report.Scope `json:"scope,omitempty"`
}

type toggleSectionRequest struct {
	Section report.Section `json:"section"`
}

func (s *Server) handleGetBuilder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Builder.Status())
}

func (s *Server) handlePatchBuilder(w http.ResponseWriter, r *http.Request) {
	var req builderPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateBuilderPatch(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	b := s.deps.Builder
	var err error
	if req.Template != nil {
		err = b.SetTemplate(*req.Template)
	}
	if err == nil && req.OutputFormat != nil {
		err = b.SetOutputFormat(report.Format(*req.OutputFormat))
	}
	if err == nil && req.Scope != nil {
		err = b.SetScope(*req.Scope)
	}
	if err != nil {
		writeBuilderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b.Status())
}

func validateBuilderPatch(req *builderPatchRequest) error {
	if req.Template != nil && !slices.Contains(report.Templates, *req.Template) {
		return fmt.Errorf("%w: %q", report.ErrUnknownTemplate, *req.Template)
	}
	if req.OutputFormat != nil {
		if _, err := report.ParseFormat(*req.OutputFormat); err != nil {
			return err
		}
	}
	if sc := req.Scope; sc != nil {
		if sc.Channel != nil {
			ch, err := filter.ParseChannel(string(*sc.Channel))
			if err != nil {
				return err
			}
			sc.Channel = &ch
		}
		if sc.Range != nil && !sc.Range.Valid() {
			return errors.New("invalid date range: use YYYY-MM-DD with from <= to")
		}
		if sc.Range != nil && sc.Range.TooLong() {
			return errRangeTooLong
		}
	}
	return nil
}

func (s *Server) handleToggleSection(w http.ResponseWriter, r *http.Request) {
	var req toggleSectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Builder.ToggleSection(req.Section); err != nil {
		writeBuilderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Builder.Status())
}

func (s *Server) handleResetBuilder(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Builder.Reset(); err != nil {
		writeBuilderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Builder.Status())
}

// handlePreview derives views for the report's own scope, leaving
// the live dashboard selection untouched.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	spec := s.deps.Builder.Spec()
	views, err := s.deps.Dashboard.Derive(r.Context(), spec.Filter())
	if err != nil {
		if handleContextError(r, err) {
			return
		}
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, report.Preview(spec, views))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	// The outcome channel is buffered; the export completes and
	// records itself without a reader.
	if _, err := s.deps.Builder.RequestGenerate(r.Context()); err != nil {
		writeBuilderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, s.deps.Builder.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.History.List())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	dl, err := s.deps.Downloads.Open(ref)
	if errors.Is(err, export.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "download not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	defer dl.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set(
		"Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", dl.Name),
	)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).
			Str("ref", ref).Msg("streaming download")
	}
}

// writeBuilderError maps builder errors to status codes.
func writeBuilderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, report.ErrNoSections):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, report.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusBadRequest, err.Error())
	}
}
