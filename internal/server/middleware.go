package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// jsonError is the body of every error response.
type jsonError struct {
	Error string `json:"error"`
}

// withTimeout bounds h by the configured write timeout. The 503
// written on expiry carries a JSON body and Content-Type.
func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	body, _ := json.Marshal(jsonError{Error: "request timed out"})
	if d := s.handlerDelay; d > 0 {
		next := h
		h = func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(d)
			next(w, r)
		}
	}
	th := http.TimeoutHandler(h, s.cfg.WriteTimeout, string(body))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		th.ServeHTTP(&timeoutJSON{ResponseWriter: w}, r)
	})
}

// timeoutJSON labels the bare 503 from http.TimeoutHandler as JSON.
// Handler responses already set their own Content-Type.
type timeoutJSON struct {
	http.ResponseWriter
	wrote bool
}

func (w *timeoutJSON) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.wrote = true
	h := w.Header()
	if code == http.StatusServiceUnavailable && h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timeoutJSON) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// requestLogger attaches a request-scoped logger to the context and
// logs each API request once it completes.
func requestLogger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqLogger := logger.With().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", req.RemoteAddr).
				Logger()
			req = req.WithContext(reqLogger.WithContext(req.Context()))

			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)

			if strings.HasPrefix(req.URL.Path, "/api/") {
				reqLogger.Debug().
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", time.Since(start)).
					Msg("request")
			}
		})
	}
}

// corsHeaders are set on every API response.
var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PATCH, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type",
}

// corsMiddleware opens the API to browser clients on other origins
// and answers preflight requests directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
