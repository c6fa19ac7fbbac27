package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wesm/botsview/internal/catalog"
	"github.com/wesm/botsview/internal/dashboard"
	"github.com/wesm/botsview/internal/filter"
)

// isValidDate checks that s is a well-formed YYYY-MM-DD string.
func isValidDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// filterPatchRequest is a filter.Patch plus an optional advanced
// filter expression such as `locale=en-US queue="Tier 2"`. Pairs
// from the expression override the advanced map.
type filterPatchRequest struct {
	filter.Patch
	AdvancedExpr *string `json:"advanced_expr,omitempty"`
}

func (s *Server) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Dashboard.Filter())
}

func (s *Server) handlePatchFilters(w http.ResponseWriter, r *http.Request) {
	var req filterPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	patch, err := validatePatch(req, s.deps.Dashboard.Filter())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.deps.Dashboard.Update(r.Context(), patch)
	s.writeSnapshot(w, r, snap, err)
}

// validatePatch checks req against the current selection cur. The
// range that results from applying it must not exceed
// filter.MaxRangeDays.
func validatePatch(req filterPatchRequest, cur filter.Spec) (filter.Patch, error) {
	p := req.Patch
	for _, d := range []*string{p.From, p.To} {
		if d != nil && !isValidDate(*d) {
			return p, errors.New("invalid date format: use YYYY-MM-DD")
		}
	}
	if p.Channel != nil {
		ch, err := filter.ParseChannel(string(*p.Channel))
		if err != nil {
			return p, err
		}
		p.Channel = &ch
	}
	for k := range p.Advanced {
		if !k.Valid() {
			return p, errors.New("unknown advanced filter " + string(k))
		}
	}
	if req.AdvancedExpr != nil {
		parsed, err := filter.ParseAdvanced(*req.AdvancedExpr)
		if err != nil {
			return p, err
		}
		merged := make(map[filter.AdvancedKey]string, len(p.Advanced)+len(parsed))
		for k, v := range p.Advanced {
			merged[k] = v
		}
		for k, v := range parsed {
			merged[k] = v
		}
		p.Advanced = merged
	}
	if filter.Apply(cur, p).Range.TooLong() {
		return p, errRangeTooLong
	}
	return p, nil
}

var errRangeTooLong = fmt.Errorf(
	"date range too long: at most %d days", filter.MaxRangeDays,
)

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Dashboard.Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Dashboard.Refresh(r.Context())
	s.writeSnapshot(w, r, snap, err)
}

// writeSnapshot maps a dashboard load result to a response. A
// failed fetch still returns the snapshot, which keeps the last
// good views and carries the retryable error.
func (s *Server) writeSnapshot(
	w http.ResponseWriter, r *http.Request,
	snap dashboard.Snapshot, err error,
) {
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, snap)
	case errors.Is(err, dashboard.ErrSuperseded):
		writeJSON(w, r, http.StatusConflict, snap)
	case handleContextError(r, err):
		return
	default:
		writeJSON(w, r, http.StatusBadGateway, snap)
	}
}

func (s *Server) handleKPIInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := catalog.Lookup(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "no info for metric "+id)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.deps.Dashboard.SessionDetail(r.Context(), id)
	if err != nil {
		if handleContextError(r, err) {
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}
