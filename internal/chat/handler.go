package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	myMiddleware "chatline/internal/middleware"
	"chatline/internal/message"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Native clients send no Origin; browsers are authenticated by token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub     *Hub
	repo    RecordStore
	metrics *Metrics
	log     *slog.Logger
}

func NewHandler(hub *Hub, repo RecordStore, metrics *Metrics, log *slog.Logger) *Handler {
	return &Handler{hub: hub, repo: repo, metrics: metrics, log: log}
}

// Push returns a fresh store-issued key.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	key, err := h.repo.Push(r.Context(), message.Node)
	if err != nil {
		h.fail(w, r, "push key", err)
		return
	}
	writeJSON(w, http.StatusOK, PushResponse{Key: key})
}

// Snapshot returns the whole conversation in store order.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	children, err := h.repo.Snapshot(r.Context(), message.Node)
	if err != nil {
		h.fail(w, r, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, message.Snapshot{Children: children})
}

// Set writes the request body as the value of {key}.
func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	key := chi.URLParam(r, "key")

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(value) {
		http.Error(w, ErrBadValue.Error(), http.StatusBadRequest)
		return
	}
	if author, ok := recordOwner(value); ok && author != userID {
		http.Error(w, ErrForbidden.Error(), http.StatusForbidden)
		return
	}
	if err := h.checkOwner(r, key, userID); err != nil {
		h.deny(w, r, err)
		return
	}

	if err := h.repo.Set(r.Context(), message.Node, key, value); err != nil {
		h.fail(w, r, "set record", err)
		return
	}
	h.metrics.Mutations.WithLabelValues("set").Inc()
	h.hub.Notify(r.Context(), message.Node)
	w.WriteHeader(http.StatusNoContent)
}

// Remove deletes {key}. Removing a missing key succeeds.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	key := chi.URLParam(r, "key")

	if err := h.checkOwner(r, key, userID); err != nil {
		h.deny(w, r, err)
		return
	}

	removed, err := h.repo.Remove(r.Context(), message.Node, key)
	if err != nil {
		h.fail(w, r, "remove record", err)
		return
	}
	if removed {
		h.metrics.Mutations.WithLabelValues("remove").Inc()
		h.hub.Notify(r.Context(), message.Node)
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkOwner refuses to touch a stored record authored by someone else.
func (h *Handler) checkOwner(r *http.Request, key, userID string) error {
	current, err := h.repo.Get(r.Context(), message.Node, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if author, ok := recordOwner(current); ok && author != userID {
		return ErrForbidden
	}
	return nil
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrForbidden) {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	h.fail(w, r, "load record", err)
}

// ServeWs upgrades to the snapshot stream. The first frame is the current
// snapshot; every later change sends a new one.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		Hub:      h.hub,
		Conn:     conn,
		Send:     make(chan []byte, 16),
		UserID:   userID,
		Username: username,
		log:      h.log,
	}
	if err := h.hub.Attach(r.Context(), client, message.Node); err != nil {
		h.log.ErrorContext(r.Context(), "attach subscriber failed", "user_id", userID, "error", err)
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.ErrorContext(r.Context(), op+" failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
