// Package api exposes the session engine over a local HTTP surface and an
// MCP server. The HTTP routes map one-to-one onto session operations; the
// handlers translate session errors into OpenAI-style JSON error envelopes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calmind-app/calmind/internal/chat"
	"github.com/calmind-app/calmind/internal/identity"
)

const maxRequestBodySize = 1 << 20 // 1MB

// SessionAPI is the slice of chat.Session the transport layer needs.
type SessionAPI interface {
	Snapshot() chat.Snapshot
	ResolveIdentity(ctx context.Context, email, desiredName string) (chat.Snapshot, error)
	SetCompanionName(name string) (chat.Snapshot, error)
	Begin(ctx context.Context) (chat.Snapshot, error)
	SendMessage(ctx context.Context, text string) (chat.Snapshot, error)
	RenameCompanion(name string) (chat.Snapshot, error)
	ClearScreen() (chat.Snapshot, error)
	DeleteHistory(confirm chat.WipeConfirmation) (int64, error)
	SignOut() chat.Snapshot
}

// NewHandler returns the HTTP surface for a single session.
func NewHandler(session SessionAPI) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/session", handleSnapshot(session))
	r.Post("/session/identity", handleIdentity(session))
	r.Post("/session/name", handleSessionName(session))
	r.Post("/session/begin", handleBegin(session))
	r.Post("/session/clear", handleClear(session))
	r.Post("/session/signout", handleSignOut(session))
	r.Post("/messages", handleSendMessage(session))
	r.Delete("/messages", handleDeleteHistory(session))
	r.Post("/companion/name", handleRename(session))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSnapshot(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSnapshot(w, session.Snapshot())
	}
}

func handleIdentity(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email         string `json:"email"`
			CompanionName string `json:"companion_name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		snap, err := session.ResolveIdentity(r.Context(), req.Email, req.CompanionName)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeSnapshot(w, snap)
	}
}

func handleSessionName(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		snap, err := session.SetCompanionName(req.Name)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeSnapshot(w, snap)
	}
}

func handleBegin(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := session.Begin(r.Context())
		if err != nil {
			sessionError(w, err)
			return
		}
		writeSnapshot(w, snap)
	}
}

func handleSendMessage(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		snap, err := session.SendMessage(r.Context(), req.Text)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeSnapshot(w, snap)
	}
}

func handleRename(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		snap, err := session.RenameCompanion(req.Name)
		if err != nil {
			sessionError(w, err)
			return
		}
		writeSnapshot(w, snap)
	}
}

func handleClear(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := session.ClearScreen()
		if err != nil {
			sessionError(w, err)
			return
		}
		writeSnapshot(w, snap)
	}
}

func handleDeleteHistory(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Confirm string `json:"confirm"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		confirm, err := chat.ConfirmWipe(req.Confirm)
		if err != nil {
			sessionError(w, err)
			return
		}

		deleted, err := session.DeleteHistory(confirm)
		if err != nil {
			sessionError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"deleted": deleted})
	}
}

func handleSignOut(session SessionAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSnapshot(w, session.SignOut())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeSnapshot(w http.ResponseWriter, snap chat.Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// sessionError maps session errors onto HTTP statuses. Anything the caller
// can fix is a 4xx; a store failure during a wipe is the one 5xx.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidIdentity):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, chat.ErrWipeNotConfirmed):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, chat.ErrWrongState):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
