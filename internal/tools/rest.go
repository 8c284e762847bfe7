package tools

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the body of every non-2xx REST reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewRESTHandler exposes the registry as
//
//	GET  /mcp/tools         list tool definitions
//	POST /mcp/tools/{name}  call a tool with a JSON object body
func NewRESTHandler(reg *Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &restHandler{reg: reg, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/mcp/tools", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/{name}", h.call)
	})
	return r
}

type restHandler struct {
	reg    *Registry
	logger *slog.Logger
}

func (h *restHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.Definitions())
}

func (h *restHandler) call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		h.logger.WarnContext(r.Context(), "invalid tool request body", "tool", name, "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	out, err := h.reg.Call(r.Context(), name, args)
	switch {
	case errors.Is(err, ErrUnknownTool):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrInvalidArguments):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case err != nil:
		h.logger.ErrorContext(r.Context(), "tool failed", "tool", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "tool failed"})
	default:
		h.logger.DebugContext(r.Context(), "tool called", "tool", name)
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
