// Package session holds the signed-in user's state. A Session is built once
// at sign-in and handed to every component that needs it.
package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"chatline/internal/backend"
	"chatline/internal/message"
)

// Feed is a live stream of full conversation snapshots.
type Feed interface {
	Snapshots() <-chan message.Snapshot
	Err() error
	Close() error
}

// Records is the conversation node of the record store.
type Records interface {
	Push(ctx context.Context) (string, error)
	Set(ctx context.Context, key string, v any) error
	Remove(ctx context.Context, key string) error
	Subscribe(ctx context.Context) (Feed, error)
}

// Blobs is the binary object store.
type Blobs interface {
	Upload(ctx context.Context, path string, r io.Reader) (backend.Object, error)
	DeleteByURL(ctx context.Context, downloadURL string) error
	List(ctx context.Context, prefix string) ([]string, error)
	DownloadURL(path string) string
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type remote struct {
	*backend.Client
}

func (r remote) Subscribe(ctx context.Context) (Feed, error) {
	sub, err := r.Client.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Remote exposes a backend client as the session's stores.
func Remote(c *backend.Client) (Records, Blobs) {
	return remote{c}, c
}

// Session is the explicit replacement for process-wide user state.
type Session struct {
	Records Records
	Blobs   Blobs

	userID      string
	displayName string

	mu        sync.RWMutex
	avatarURL string
}

// New requires a user id; a session cannot exist before sign-in.
func New(records Records, blobs Blobs, userID, displayName, defaultAvatar string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session: empty user id")
	}
	if records == nil || blobs == nil {
		return nil, errors.New("session: missing store")
	}
	return &Session{
		Records:     records,
		Blobs:       blobs,
		userID:      userID,
		displayName: displayName,
		avatarURL:   defaultAvatar,
	}, nil
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) DisplayName() string { return s.displayName }

func (s *Session) AvatarURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avatarURL
}

func (s *Session) SetAvatarURL(u string) {
	s.mu.Lock()
	s.avatarURL = u
	s.mu.Unlock()
}

// ResolveAvatar looks for avatar/{userId}.jpg and adopts its URL. Without an
// uploaded avatar the current (default) URL stays.
func (s *Session) ResolveAvatar(ctx context.Context) (string, error) {
	names, err := s.Blobs.List(ctx, message.AvatarPrefix)
	if err != nil {
		return s.AvatarURL(), err
	}
	want := s.userID + ".jpg"
	for _, name := range names {
		if name == want {
			u := s.Blobs.DownloadURL(message.AvatarPath(s.userID))
			s.SetAvatarURL(u)
			return u, nil
		}
	}
	return s.AvatarURL(), nil
}
