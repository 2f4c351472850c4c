// Package listener turns the change feed into decoded message lists.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatline/internal/message"
	"chatline/internal/session"
)

// ErrFeedClosed is returned by Run when the feed ends without a reason.
var ErrFeedClosed = errors.New("change feed closed")

// Subscriber opens the feed. session.Records satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context) (session.Feed, error)
}

// Sink receives every decoded list as a total replacement.
type Sink interface {
	Submit(list []message.Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func([]message.Message)

func (f SinkFunc) Submit(list []message.Message) { f(list) }

type Listener struct {
	sub  Subscriber
	sink Sink
	log  *slog.Logger
}

func New(sub Subscriber, sink Sink, log *slog.Logger) *Listener {
	return &Listener{sub: sub, sink: sink, log: log}
}

// Decode reads children in delivery order. Children that fail to decode or
// hold null are skipped; skipped reports how many.
func Decode(s message.Snapshot) (list []message.Message, skipped int) {
	list = make([]message.Message, 0, len(s.Children))
	for _, c := range s.Children {
		m, ok, err := message.Decode(c.Value)
		if err != nil || !ok {
			skipped++
			continue
		}
		list = append(list, m)
	}
	return list, skipped
}

// Run subscribes once and publishes every snapshot until ctx ends or the
// feed stops. A cancelled ctx returns ctx.Err(); a failed feed returns its
// error.
func (l *Listener) Run(ctx context.Context) error {
	feed, err := l.sub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer feed.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-feed.Snapshots():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := feed.Err(); err != nil {
					return fmt.Errorf("listen: %w", err)
				}
				return ErrFeedClosed
			}
			list, skipped := Decode(snap)
			if skipped > 0 {
				l.log.Debug("skipped undecodable children", "skipped", skipped, "kept", len(list))
			}
			l.sink.Submit(list)
		}
	}
}
