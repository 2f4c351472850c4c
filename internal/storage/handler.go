package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"chatline/internal/message"
	myMiddleware "chatline/internal/middleware"
)

type Handler struct {
	store *Store
	log   *slog.Logger
}

func NewHandler(store *Store, log *slog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// Upload stores the request body at the wildcard path.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	p := chi.URLParam(r, "*")
	if !mayWrite(userID, p) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	obj, err := h.store.Put(p, r.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.InfoContext(r.Context(), "object stored", "path", obj.Path, "size", obj.Size, "user_id", userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(obj)
}

// Download serves a blob publicly, as a download URL would.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	f, err := h.store.Open(p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.ServeContent(w, r, path.Base(p), info.ModTime(), f)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	p := chi.URLParam(r, "*")
	if !mayWrite(userID, p) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := h.store.Delete(p); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List returns object names under ?prefix=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List(r.URL.Query().Get("prefix"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"items": names})
}

// mayWrite keeps avatar/{id}.jpg writable by its owner only.
func mayWrite(userID, p string) bool {
	if strings.HasPrefix(strings.TrimPrefix(p, "/"), message.AvatarPrefix) {
		return strings.TrimPrefix(p, "/") == message.AvatarPath(userID)
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrNotImage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	default:
		h.log.ErrorContext(r.Context(), "storage request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
