package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"chatline/internal/message"
)

// Hub owns the set of change-feed subscribers. Run is the only goroutine
// that touches clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan frame
	Register   chan *Client
	Unregister chan *Client
	unicast    chan delivery
	done       chan struct{}

	// loads numbers snapshot reads in the order they start. A client never
	// receives a frame older than one it already got.
	loads atomic.Uint64

	feed    Feed
	repo    RecordStore
	metrics *Metrics
	log     *slog.Logger
}

func NewHub(feed Feed, repo RecordStore, metrics *Metrics, log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan frame),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		unicast:    make(chan delivery),
		done:       make(chan struct{}),
		feed:       feed,
		repo:       repo,
		metrics:    metrics,
		log:        log,
	}
}

type frame struct {
	seq  uint64
	data []byte
}

type delivery struct {
	client *Client
	frame  frame
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.Register:
			h.clients[client] = true
			h.metrics.Clients.Inc()

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case d := <-h.unicast:
			if _, ok := h.clients[d.client]; ok {
				h.deliver(d.client, d.frame)
			}

		case f := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, f)
			}
			h.metrics.Broadcasts.Inc()
		}
	}
}

// deliver sends f unless client already has a newer snapshot. Only Run
// calls it.
func (h *Hub) deliver(client *Client, f frame) {
	if f.seq <= client.lastSeq {
		return
	}
	select {
	case client.Send <- f.data:
		client.lastSeq = f.seq
	default:
		// slow consumer; it can reconnect and get a fresh snapshot
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.metrics.Clients.Dec()
}

// Attach registers client and sends it the current snapshot of node.
func (h *Hub) Attach(ctx context.Context, client *Client, node string) error {
	select {
	case h.Register <- client:
	case <-h.done:
		return context.Canceled
	}
	f, err := h.load(ctx, node)
	if err != nil {
		h.Detach(client)
		return err
	}
	select {
	case h.unicast <- delivery{client: client, frame: f}:
	case <-h.done:
	}
	return nil
}

// Detach unregisters client; safe to call after Run has returned.
func (h *Hub) Detach(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Notify tells every instance, this one included, that node changed.
func (h *Hub) Notify(ctx context.Context, node string) {
	if err := h.feed.Publish(ctx, node); err != nil {
		h.log.ErrorContext(ctx, "publish change notice failed", "node", node, "error", err)
	}
}

// SubscribeToFeed reloads and broadcasts a full snapshot for every notice.
// It returns when ctx is done or the feed closes.
func (h *Hub) SubscribeToFeed(ctx context.Context) {
	for node := range h.feed.Subscribe(ctx) {
		if node != message.Node {
			continue
		}
		f, err := h.load(ctx, node)
		if err != nil {
			h.log.ErrorContext(ctx, "load snapshot failed", "node", node, "error", err)
			continue
		}
		select {
		case h.broadcast <- f:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) load(ctx context.Context, node string) (frame, error) {
	seq := h.loads.Add(1)
	data, err := h.snapshotFrame(ctx, node)
	if err != nil {
		return frame{}, err
	}
	return frame{seq: seq, data: data}, nil
}

// snapshotFrame encodes the current contents of node as a feed frame.
func (h *Hub) snapshotFrame(ctx context.Context, node string) ([]byte, error) {
	children, err := h.repo.Snapshot(ctx, node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(message.Frame{Type: message.FrameSnapshot, Children: children})
}
