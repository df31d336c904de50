package blurwatch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/internal/config"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/blurwatch/status"
	"github.com/hazyhaar/blurkit/shield"
)

// Routes returns the control API. srv, when non-nil, is served at /mcp.
func (w *Watcher) Routes(srv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(w.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", w.metrics.Handler())
	if srv != nil {
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}

	r.Route("/pages", func(r chi.Router) {
		r.Get("/", func(rw http.ResponseWriter, req *http.Request) {
			writeJSON(rw, http.StatusOK, w.Pages(req.Context()))
		})
		r.Post("/", w.handleAddPage)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", func(rw http.ResponseWriter, req *http.Request) {
				if err := w.StopPage(chi.URLParam(req, "id")); err != nil {
					writeError(rw, statusFor(err), err)
					return
				}
				writeJSON(rw, http.StatusOK, map[string]string{"status": "stopped"})
			})
			r.Get("/videos", func(rw http.ResponseWriter, req *http.Request) {
				rep, err := w.Videos(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					writeError(rw, statusFor(err), err)
					return
				}
				writeJSON(rw, http.StatusOK, rep)
			})
			r.Post("/commands", w.handleCommand)
			r.Post("/nodes/{node}/status", w.handleStatus)
		})
	})
	r.Post("/commands", w.handleCommand)

	r.Get("/settings", func(rw http.ResponseWriter, _ *http.Request) {
		f, loaded := w.Settings()
		writeJSON(rw, http.StatusOK, map[string]any{"settings": f, "loaded": loaded})
	})
	r.Post("/settings", func(rw http.ResponseWriter, req *http.Request) {
		var f settings.Flags
		if err := json.NewDecoder(req.Body).Decode(&f); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		if err := w.LoadSettings(req.Context(), f); err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		writeJSON(rw, http.StatusOK, f)
	})
	r.Post("/toggle", func(rw http.ResponseWriter, req *http.Request) {
		f, err := w.Toggle(req.Context())
		if err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		writeJSON(rw, http.StatusOK, f)
	})

	return r
}

func (w *Watcher) handleAddPage(rw http.ResponseWriter, req *http.Request) {
	var body struct {
		ID           string `json:"id"`
		URL          string `json:"url"`
		StealthLevel string `json:"stealth_level"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if body.URL == "" {
		writeError(rw, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	pc, err := w.AddPage(req.Context(), config.PageConfig{
		ID:           body.ID,
		URL:          body.URL,
		StealthLevel: body.StealthLevel,
	})
	if err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]string{"id": pc.ID, "status": "observing"})
}

// handleCommand serves both /commands (broadcast) and
// /pages/{id}/commands.
func (w *Watcher) handleCommand(rw http.ResponseWriter, req *http.Request) {
	var cmd mutation.Command
	if err := json.NewDecoder(req.Body).Decode(&cmd); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	pageID := chi.URLParam(req, "id")
	if pageID == "" {
		pageID = cmd.PageID
	}
	cmd.PageID = pageID

	n, err := w.Command(req.Context(), pageID, cmd)
	if err != nil {
		shield.GetLogger(req.Context()).Warn("blurwatch: command failed", "type", cmd.Type, "error", err)
		writeError(rw, statusFor(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, commandResp{Matched: n})
}

func (w *Watcher) handleStatus(rw http.ResponseWriter, req *http.Request) {
	var body struct {
		Status status.Status `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	err := w.UpdateStatus(req.Context(), chi.URLParam(req, "id"),
		dom.NodeID(chi.URLParam(req, "node")), body.Status)
	if err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": string(body.Status)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, ErrPageExists):
		return http.StatusConflict
	case errors.Is(err, mutation.ErrUnknownCommand), errors.Is(err, ErrUnknownStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
