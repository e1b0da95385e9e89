package pageshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/shotkit/connectivity"
	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/kit"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// RegisterConnectivity registers pageshot handlers on a connectivity Router.
//
// Registered services:
//
//	pageshot_dispatch   : run a capture command ({action, format, area, url})
//	pageshot_format_get : read the default format
//	pageshot_format_set : change the default format ({format})
//	pageshot_history    : list recent captures ({limit})
func (s *Service) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("pageshot_dispatch", s.handleDispatch)
	router.RegisterLocal("pageshot_format_get", s.handleFormatGet)
	router.RegisterLocal("pageshot_format_set", s.handleFormatSet)
	router.RegisterLocal("pageshot_history", s.handleHistory)
}

// dispatchPayload is a shot.Request plus an optional page to open first.
type dispatchPayload struct {
	shot.Request
	URL string `json:"url,omitempty"`
}

func (s *Service) handleDispatch(ctx context.Context, payload []byte) ([]byte, error) {
	var req dispatchPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &connectivity.ErrBadPayload{Service: "pageshot_dispatch", Cause: err}
	}
	ctx = kit.WithRequestID(kit.WithTransport(ctx, "connectivity"), idgen.New())
	if req.URL != "" {
		ctx = kit.WithTabURL(ctx, req.URL)
	}
	return json.Marshal(s.Dispatch(ctx, req.Request))
}

func (s *Service) handleFormatGet(ctx context.Context, _ []byte) ([]byte, error) {
	f, err := s.Format(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"format": f})
}

func (s *Service) handleFormatSet(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &connectivity.ErrBadPayload{Service: "pageshot_format_set", Cause: err}
	}
	f, err := shot.ParseFormat(req.Format)
	if err != nil || f == "" {
		return nil, &connectivity.ErrBadPayload{Service: "pageshot_format_set", Cause: fmt.Errorf("format %q", req.Format)}
	}
	if err := s.SetFormat(ctx, f); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"format": f})
}

func (s *Service) handleHistory(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Limit int `json:"limit"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, &connectivity.ErrBadPayload{Service: "pageshot_history", Cause: err}
		}
	}
	caps, err := s.History(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"captures": caps})
}

// RPCRouter builds a connectivity router with the pageshot services
// registered. Calls are bounded by http.rpc_timeout and the services named
// in http.disabled answer without running.
func (s *Service) RPCRouter() *connectivity.Router {
	router := connectivity.New(
		connectivity.WithLogger(s.logger),
		connectivity.WithMiddleware(
			connectivity.Recovery(s.logger),
			connectivity.Logging(s.logger),
			connectivity.Timeout(s.cfg.HTTP.RPCTimeout),
		),
	)
	s.RegisterConnectivity(router)
	for _, name := range s.cfg.HTTP.Disabled {
		router.SetEnabled(name, false)
	}
	return router
}

// RPCHandler exposes router over HTTP: POST /{service} with the payload as
// the body. Mount it under a prefix such as /rpc.
func RPCHandler(router *connectivity.Router) http.Handler {
	r := chi.NewRouter()
	r.Post("/{service}", func(w http.ResponseWriter, req *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		resp, err := router.Call(req.Context(), chi.URLParam(req, "service"), payload)
		var notFound *connectivity.ErrServiceNotFound
		var bad *connectivity.ErrBadPayload
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, err)
			return
		case errors.As(err, &bad):
			writeError(w, http.StatusBadRequest, err)
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if len(resp) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write(resp)
	})
	return r
}
