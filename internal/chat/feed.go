package chat

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Feed carries "node changed" notices between server instances.
type Feed interface {
	Publish(ctx context.Context, node string) error
	Subscribe(ctx context.Context) <-chan string
}

const feedChannel = "chatline:changes"

type RedisFeed struct {
	redis *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{redis: client}
}

func (f *RedisFeed) Publish(ctx context.Context, node string) error {
	return f.redis.Publish(ctx, feedChannel, node).Err()
}

// Subscribe returns node names as they change. The channel closes when ctx
// is done.
func (f *RedisFeed) Subscribe(ctx context.Context) <-chan string {
	pubsub := f.redis.Subscribe(ctx, feedChannel)
	out := make(chan string)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
