// Package composer builds outgoing messages and writes them to the store.
package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"chatline/internal/message"
	"chatline/internal/session"
)

var ErrEmptyMessage = errors.New("empty message")

type Composer struct {
	sess *session.Session
	log  *slog.Logger
	now  func() time.Time
}

func New(sess *session.Session, log *slog.Logger) *Composer {
	return &Composer{sess: sess, log: log, now: time.Now}
}

// WithClock replaces the time source used for timestamps and image paths.
func (c *Composer) WithClock(now func() time.Time) *Composer {
	c.now = now
	return c
}

// SendText writes a text message. Blank input is rejected before anything
// touches the network.
func (c *Composer) SendText(ctx context.Context, text string) (message.Message, error) {
	if strings.TrimSpace(text) == "" {
		return message.Message{}, ErrEmptyMessage
	}
	m := c.base()
	m.Text = message.Ptr(text)
	if err := c.write(ctx, &m); err != nil {
		return message.Message{}, err
	}
	return m, nil
}

// SendImage uploads r to a fresh images/ path and, once the upload is done,
// writes a message pointing at its download URL. If the write fails the
// uploaded blob stays behind.
func (c *Composer) SendImage(ctx context.Context, r io.Reader) (message.Message, error) {
	path := message.ImagePath(c.now())
	obj, err := c.sess.Blobs.Upload(ctx, path, r)
	if err != nil {
		return message.Message{}, fmt.Errorf("upload image: %w", err)
	}

	m := c.base()
	m.PhotoURL = message.Ptr(obj.DownloadURL)
	if err := c.write(ctx, &m); err != nil {
		c.log.Warn("image uploaded but message not written", "path", path, "error", err)
		return message.Message{}, err
	}
	return m, nil
}

func (c *Composer) base() message.Message {
	return message.Message{
		Name:        message.Ptr(c.sess.DisplayName()),
		UserID:      message.Ptr(c.sess.UserID()),
		TimeMessage: message.Ptr(message.FormatTime(c.now())),
		AvatarURL:   message.Ptr(c.sess.AvatarURL()),
	}
}

func (c *Composer) write(ctx context.Context, m *message.Message) error {
	key, err := c.sess.Records.Push(ctx)
	if err != nil {
		return fmt.Errorf("new message key: %w", err)
	}
	m.ID = message.Ptr(key)
	if err := c.sess.Records.Set(ctx, key, m); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.log.Debug("message written", "key", key, "image", m.HasImage())
	return nil
}
