package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/eugenenazirov/buildcfg/internal/descriptor"
	"github.com/eugenenazirov/buildcfg/internal/render"
	"github.com/eugenenazirov/buildcfg/internal/signing"
	"github.com/eugenenazirov/buildcfg/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Reloader re-resolves the descriptor on demand.
type Reloader interface {
	Reload(ctx context.Context) (storage.Snapshot, error)
}

// Handler wires storage and reload dependencies into HTTP handlers.
type Handler struct {
	storage  storage.Storage
	reloader Reloader

	clock clockwork.Clock
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock clockwork.Clock) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies. A nil
// reloader disables POST /api/reload.
func NewHandler(store storage.Storage, reloader Reloader, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage:  store,
		reloader: reloader,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDescriptor(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.currentSnapshot(w)
	if !ok {
		return
	}

	if raw := r.URL.Query().Get("format"); raw != "" {
		format, err := render.ParseFormat(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid format", err.Error(), "use json or yaml")
			return
		}
		if format == render.FormatYAML {
			var buf bytes.Buffer
			if err := render.Encode(&buf, snap.Descriptor, format); err != nil {
				writeInternalError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/yaml")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(buf.Bytes())
			return
		}
	}

	writeJSON(w, http.StatusOK, descriptorResponse{
		Descriptor: snap.Descriptor.Redacted(),
		Revision:   snap.Revision,
		UpdatedAt:  snap.UpdatedAt,
	})
}

func (h *Handler) handleGetSigning(w http.ResponseWriter, r *http.Request) {
	_ = r
	snap, ok := h.currentSnapshot(w)
	if !ok {
		return
	}

	sc, found := snap.Descriptor.SigningConfig(signing.ReleaseName)
	if !found {
		writeError(w, http.StatusNotFound, "Signing config not found", "no release signing config is declared")
		return
	}

	missing := sc.Missing()
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, signingResponse{
		SigningConfig: sc.Redacted(),
		Complete:      len(missing) == 0,
		Missing:       missing,
		UpdatedAt:     snap.UpdatedAt,
	})
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		writeError(w, http.StatusNotImplemented, "Reload unavailable", "this server was started without a resolver")
		return
	}

	snap, err := h.reloader.Reload(r.Context())
	if err != nil {
		if errors.Is(err, descriptor.ErrInvalidDescriptor) || errors.Is(err, signing.ErrIncomplete) ||
			errors.Is(err, signing.ErrStoreFileMissing) {
			writeError(w, http.StatusUnprocessableEntity, "Resolution failed", err.Error(),
				"fix key.properties or relax strict mode, then reload")
			return
		}
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, descriptorResponse{
		Descriptor: snap.Descriptor.Redacted(),
		Revision:   snap.Revision,
		UpdatedAt:  snap.UpdatedAt,
		Message:    "Descriptor reloaded successfully",
	})
}

func (h *Handler) currentSnapshot(w http.ResponseWriter) (storage.Snapshot, bool) {
	snap, err := h.storage.Current()
	if err != nil {
		if errors.Is(err, storage.ErrEmpty) {
			writeError(w, http.StatusServiceUnavailable, "Not ready", err.Error())
			return storage.Snapshot{}, false
		}
		writeInternalError(w, err)
		return storage.Snapshot{}, false
	}
	return snap, true
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type descriptorResponse struct {
	Descriptor descriptor.Descriptor `json:"descriptor"`
	Revision   uint64                `json:"revision"`
	UpdatedAt  time.Time             `json:"updatedAt"`
	Message    string                `json:"message,omitempty"`
}

type signingResponse struct {
	SigningConfig signing.Config `json:"signingConfig"`
	Complete      bool           `json:"complete"`
	Missing       []string       `json:"missing"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
