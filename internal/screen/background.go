package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"chatline/internal/message"
)

// UploadAvatar replaces the user's avatar and uses it for new messages.
func (s *Screen) UploadAvatar(ctx context.Context, r io.Reader) error {
	return s.do(ctx, OpAvatar, func(ctx context.Context, sc scoped) error {
		obj, err := sc.sess.Blobs.Upload(ctx, message.AvatarPath(sc.sess.UserID()), r)
		if err != nil {
			return fmt.Errorf("upload avatar: %w", err)
		}
		sc.images.Forget(obj.DownloadURL)
		sc.sess.SetAvatarURL(obj.DownloadURL)
		return nil
	})
}

// ChangeBackground uploads a new chat background and keeps a local copy.
func (s *Screen) ChangeBackground(ctx context.Context, r io.Reader) error {
	return s.do(ctx, OpBackground, func(ctx context.Context, sc scoped) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read background: %w", err)
		}
		obj, err := sc.sess.Blobs.Upload(ctx, message.BackgroundPath, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("upload background: %w", err)
		}
		sc.images.Forget(obj.DownloadURL)
		return s.cacheBackground(data)
	})
}

// Background returns the chat background, from the local copy when there
// is one and through the image loader otherwise.
func (s *Screen) Background(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.do(ctx, OpBackground, func(ctx context.Context, sc scoped) error {
		if s.opts.DataDir != "" {
			b, err := os.ReadFile(s.backgroundFile())
			if err == nil {
				data = b
				return nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				s.log.Warn("background cache unreadable", "error", err)
			}
		}
		b, err := sc.images.Load(ctx, sc.sess.Blobs.DownloadURL(message.BackgroundPath))
		if err != nil {
			return fmt.Errorf("fetch background: %w", err)
		}
		data = b
		return s.cacheBackground(b)
	})
	return data, err
}

func (s *Screen) backgroundFile() string {
	return filepath.Join(s.opts.DataDir, message.BackgroundCached)
}

func (s *Screen) cacheBackground(data []byte) error {
	if s.opts.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.opts.DataDir, 0o755); err != nil {
		return fmt.Errorf("cache background: %w", err)
	}
	if err := os.WriteFile(s.backgroundFile(), data, 0o644); err != nil {
		return fmt.Errorf("cache background: %w", err)
	}
	return nil
}
