package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"chatline/internal/message"
)

// Push asks the store for a fresh record key.
func (c *Client) Push(ctx context.Context) (string, error) {
	var res struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/"+message.Node, nil, "", &res); err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	return res.Key, nil
}

// Set writes v as the value of key.
func (c *Client) Set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	path := "/api/" + message.Node + "/" + escapePath(key)
	if err := c.do(ctx, http.MethodPut, path, strings.NewReader(string(b)), "application/json", nil); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key from the conversation.
func (c *Client) Remove(ctx context.Context, key string) error {
	path := "/api/" + message.Node + "/" + escapePath(key)
	if err := c.do(ctx, http.MethodDelete, path, nil, "", nil); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Snapshot reads the whole conversation once.
func (c *Client) Snapshot(ctx context.Context) (message.Snapshot, error) {
	var s message.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/"+message.Node, nil, "", &s); err != nil {
		return message.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return s, nil
}

// Subscription is a live snapshot stream. Snapshots closes when the stream
// ends; Err then reports why.
type Subscription struct {
	snapshots chan message.Snapshot
	conn      *websocket.Conn
	err       error
	done      chan struct{}
	closed    atomic.Bool
}

func (s *Subscription) Snapshots() <-chan message.Snapshot { return s.snapshots }

// Err is valid after Snapshots has closed. A nil error means the stream was
// closed by the caller.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

func (s *Subscription) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

// Subscribe opens the change feed. The first snapshot is the current state.
// The stream stops when ctx is done.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws?token=" + url.QueryEscape(c.Token())
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if res != nil {
			defer res.Body.Close()
			if serr := checkStatus(res); serr != nil {
				return nil, fmt.Errorf("subscribe: %w", serr)
			}
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &Subscription{
		snapshots: make(chan message.Snapshot),
		conn:      conn,
		done:      make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer close(sub.done)
		defer close(sub.snapshots)
		defer stop()
		defer conn.Close()

		for {
			var fr message.Frame
			if err := conn.ReadJSON(&fr); err != nil {
				if ctx.Err() == nil && !sub.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					sub.err = fmt.Errorf("change feed: %w", err)
				}
				return
			}
			if fr.Type != message.FrameSnapshot {
				continue
			}
			select {
			case sub.snapshots <- message.Snapshot{Children: fr.Children}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}
