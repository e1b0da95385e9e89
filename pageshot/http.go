package pageshot

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/shotkit/kit"
	"github.com/hazyhaar/shotkit/pageshot/internal/store"
	"github.com/hazyhaar/shotkit/pageshot/shot"
	"github.com/hazyhaar/shotkit/shield"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// Handler returns the HTTP API.
//
//	GET  /health
//	POST /api/capture              {action, format?, area?, url?}
//	GET  /api/preferences/format
//	PUT  /api/preferences/format   {format}
//	GET  /api/captures?limit=N
//	GET  /api/captures/{id}
//	GET  /api/notifications
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(maxRequestBody) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "busy": s.Busy()})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/capture", s.httpCapture)
		r.Get("/preferences/format", s.httpGetFormat)
		r.Put("/preferences/format", s.httpSetFormat)
		r.Get("/captures", s.httpHistory)
		r.Get("/captures/{id}", s.httpCaptureByID)
		r.Get("/notifications", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"notifications": s.Notifications()})
		})
	})
	return r
}

func (s *Service) httpCapture(w http.ResponseWriter, r *http.Request) {
	var req dispatchPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	if req.URL != "" {
		ctx = kit.WithTabURL(ctx, req.URL)
	}
	resp := s.Dispatch(ctx, req.Request)
	writeJSON(w, statusCode(resp), resp)
}

func (s *Service) httpGetFormat(w http.ResponseWriter, r *http.Request) {
	f, err := s.Format(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Error("pageshot: get format", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"format": f})
}

func (s *Service) httpSetFormat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Format string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := shot.ParseFormat(req.Format)
	if err == nil && f == "" {
		err = errors.New("format is required")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.SetFormat(r.Context(), f); err != nil {
		shield.GetLogger(r.Context()).Error("pageshot: set format", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"format": f})
}

func (s *Service) httpHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	caps, err := s.History(r.Context(), limit)
	if err != nil {
		shield.GetLogger(r.Context()).Error("pageshot: history", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"captures": caps})
}

func (s *Service) httpCaptureByID(w http.ResponseWriter, r *http.Request) {
	c, err := s.Lookup(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrCaptureNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		shield.GetLogger(r.Context()).Error("pageshot: lookup capture", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// statusCode maps a capture response to an HTTP status.
func statusCode(resp shot.Response) int {
	switch resp.Status {
	case shot.StatusStarted:
		return http.StatusAccepted
	case shot.StatusError:
	default:
		return http.StatusOK
	}
	switch resp.Kind {
	case shot.KindInvalidRequest:
		return http.StatusBadRequest
	case shot.KindRestrictedPage:
		return http.StatusForbidden
	case shot.KindNoActiveTab:
		return http.StatusNotFound
	case shot.KindBusy:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
