// Package imageload fetches remote images in the background so that row
// rendering never waits on the network.
package imageload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"chatline/internal/backend"
)

// Status is what a row shows for its image.
type Status int

const (
	Loading Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "loading"
	}
}

// Fetcher downloads a blob by URL. session.Blobs satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type Options struct {
	MaxItems   int
	TTL        time.Duration
	FailureTTL time.Duration
	MaxTries   uint
	// NewBackOff builds the retry schedule for one load.
	NewBackOff func() backoff.BackOff
	// OnReady is called from the loading goroutine after a URL settles.
	OnReady func(url string, status Status)
}

func (o *Options) defaults() {
	if o.MaxItems == 0 {
		o.MaxItems = 256
	}
	if o.TTL == 0 {
		o.TTL = 30 * time.Minute
	}
	if o.FailureTTL == 0 {
		o.FailureTTL = 30 * time.Second
	}
	if o.MaxTries == 0 {
		o.MaxTries = 4
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
}

type Loader struct {
	fetch Fetcher
	opts  Options
	cache *cache
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(fetch Fetcher, opts Options, log *slog.Logger) *Loader {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		fetch:    fetch,
		opts:     opts,
		cache:    newCache(opts.MaxItems),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Status never blocks. An unknown URL starts loading in the background.
func (l *Loader) Status(url string) Status {
	if e, ok := l.cache.get(url); ok {
		if e.err != nil {
			return Failed
		}
		return Ready
	}
	l.start(url)
	return Loading
}

// Get returns the bytes of a loaded image.
func (l *Loader) Get(url string) ([]byte, bool) {
	e, ok := l.cache.get(url)
	if !ok || e.err != nil {
		return nil, false
	}
	return e.data, true
}

// Load fetches url now, going through the cache.
func (l *Loader) Load(ctx context.Context, url string) ([]byte, error) {
	if e, ok := l.cache.get(url); ok {
		return e.data, e.err
	}
	data, err := l.load(ctx, url)
	l.store(url, data, err)
	return data, err
}

// Forget drops url from the cache, e.g. after the blob was replaced.
func (l *Loader) Forget(url string) {
	l.cache.delete(url)
}

// Close stops background loads and waits for them.
func (l *Loader) Close() {
	l.cancel()
	l.wg.Wait()
}

func (l *Loader) start(url string) {
	l.mu.Lock()
	if _, ok := l.inflight[url]; ok || l.ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	l.inflight[url] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		data, err := l.load(l.ctx, url)

		l.mu.Lock()
		delete(l.inflight, url)
		l.mu.Unlock()
		if l.ctx.Err() != nil {
			return
		}
		status := l.store(url, data, err)
		if l.opts.OnReady != nil {
			l.opts.OnReady(url, status)
		}
	}()
}

func (l *Loader) load(ctx context.Context, url string) ([]byte, error) {
	return backoff.Retry(ctx, func() ([]byte, error) {
		data, err := l.fetch.Fetch(ctx, url)
		if errors.Is(err, backend.ErrNotFound) || errors.Is(err, backend.ErrForbidden) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	},
		backoff.WithBackOff(l.opts.NewBackOff()),
		backoff.WithMaxTries(l.opts.MaxTries),
	)
}

func (l *Loader) store(url string, data []byte, err error) Status {
	if err != nil {
		l.log.Debug("image load failed", "url", url, "error", err)
		l.cache.set(url, nil, err, l.opts.FailureTTL)
		return Failed
	}
	l.cache.set(url, data, nil, l.opts.TTL)
	return Ready
}
