// Package sessiontest provides in-memory stores for exercising client
// components without a server.
package sessiontest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"chatline/internal/backend"
	"chatline/internal/message"
	"chatline/internal/session"
)

const baseURL = "mem://blobs/files/"

// Records is an in-memory conversation node. Every mutation pushes a full
// snapshot to all open feeds.
type Records struct {
	mu     sync.Mutex
	next   int
	keys   []string
	values map[string]json.RawMessage
	feeds  []*Feed

	// Injected failures, checked on every call.
	PushErr   error
	SetErr    error
	RemoveErr error
	SubErr    error
}

func NewRecords() *Records {
	return &Records{values: map[string]json.RawMessage{}}
}

func (r *Records) Push(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PushErr != nil {
		return "", r.PushErr
	}
	r.next++
	return fmt.Sprintf("key%04d", r.next), nil
}

func (r *Records) Set(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.SetRaw(key, b)
}

// SetRaw stores a value without marshalling, e.g. a malformed record.
func (r *Records) SetRaw(key string, raw json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SetErr != nil {
		return r.SetErr
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = raw
	r.publishLocked()
	return nil
}

func (r *Records) Remove(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RemoveErr != nil {
		return r.RemoveErr
	}
	if _, ok := r.values[key]; !ok {
		return nil
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
	r.publishLocked()
	return nil
}

// Keys returns stored keys in store order.
func (r *Records) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// Message decodes the record at key.
func (r *Records) Message(key string) (message.Message, bool) {
	r.mu.Lock()
	raw, ok := r.values[key]
	r.mu.Unlock()
	if !ok {
		return message.Message{}, false
	}
	m, ok, err := message.Decode(raw)
	return m, ok && err == nil
}

func (r *Records) snapshotLocked() message.Snapshot {
	children := make([]message.Child, 0, len(r.keys))
	for _, k := range r.keys {
		children = append(children, message.Child{Key: k, Value: r.values[k]})
	}
	return message.Snapshot{Children: children}
}

func (r *Records) publishLocked() {
	snap := r.snapshotLocked()
	for _, f := range r.feeds {
		f.push(snap)
	}
}

func (r *Records) Subscribe(ctx context.Context) (session.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SubErr != nil {
		return nil, r.SubErr
	}
	f := newFeed(ctx)
	r.feeds = append(r.feeds, f)
	f.push(r.snapshotLocked())
	return f, nil
}

// Fail ends every open feed with err.
func (r *Records) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		f.fail(err)
	}
	r.feeds = nil
}

// Feed delivers snapshots in order, never dropping one.
type Feed struct {
	ch      chan message.Snapshot
	in      chan message.Snapshot
	done    chan struct{}
	stop    chan struct{}
	once    sync.Once
	errOnce sync.Once
	err     error
}

func newFeed(ctx context.Context) *Feed {
	f := &Feed{
		ch:   make(chan message.Snapshot),
		in:   make(chan message.Snapshot, 256),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go f.run(ctx)
	return f
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			// drain what was queued before the failure
			for {
				select {
				case s := <-f.in:
					select {
					case f.ch <- s:
					case <-ctx.Done():
						return
					}
				default:
					return
				}
			}
		case s := <-f.in:
			select {
			case f.ch <- s:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (f *Feed) push(s message.Snapshot) {
	select {
	case f.in <- s:
	default:
	}
}

func (f *Feed) fail(err error) {
	f.errOnce.Do(func() { f.err = err })
	f.Close()
}

func (f *Feed) Snapshots() <-chan message.Snapshot { return f.ch }

func (f *Feed) Err() error {
	<-f.done
	return f.err
}

func (f *Feed) Close() error {
	f.once.Do(func() { close(f.stop) })
	return nil
}

// Blobs is an in-memory blob store with mem:// download URLs.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte

	UploadErr error
	DeleteErr error
	ListErr   error
	FetchErr  error
}

func NewBlobs() *Blobs {
	return &Blobs{objects: map[string][]byte{}}
}

func (b *Blobs) Upload(_ context.Context, path string, r io.Reader) (backend.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return backend.Object{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.UploadErr != nil {
		return backend.Object{}, b.UploadErr
	}
	b.objects[path] = data
	return backend.Object{Path: path, Size: int64(len(data)), DownloadURL: baseURL + path}, nil
}

func (b *Blobs) DeleteByURL(_ context.Context, downloadURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DeleteErr != nil {
		return b.DeleteErr
	}
	p := strings.TrimPrefix(downloadURL, baseURL)
	if _, ok := b.objects[p]; !ok {
		return backend.ErrNotFound
	}
	delete(b.objects, p)
	return nil
}

func (b *Blobs) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	var names []string
	for p := range b.objects {
		if rest, ok := strings.CutPrefix(p, prefix); ok && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Blobs) DownloadURL(path string) string { return baseURL + path }

func (b *Blobs) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FetchErr != nil {
		return nil, b.FetchErr
	}
	data, ok := b.objects[strings.TrimPrefix(rawURL, baseURL)]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return bytes.Clone(data), nil
}

// Has reports whether a blob exists at path.
func (b *Blobs) Has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok
}

// Put seeds a blob directly.
func (b *Blobs) Put(path string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = data
}
