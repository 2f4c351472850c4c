package imageload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/backend"
	"chatline/internal/logger"
)

type flakyFetcher struct {
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if n <= f.failures {
		return nil, errors.New("timeout")
	}
	return []byte("img:" + url), nil
}

func testOptions(onReady func(string, Status)) Options {
	return Options{
		MaxTries:   3,
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		OnReady:    onReady,
	}
}

func TestStatusLoadsInBackground(t *testing.T) {
	f := &flakyFetcher{failures: 1}
	settled := make(chan Status, 1)
	l := New(f, testOptions(func(_ string, s Status) { settled <- s }), logger.Discard())
	defer l.Close()

	assert.Equal(t, Loading, l.Status("a"))
	select {
	case s := <-settled:
		assert.Equal(t, Ready, s)
	case <-time.After(2 * time.Second):
		t.Fatal("load did not settle")
	}
	assert.Equal(t, Ready, l.Status("a"))
	data, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, "img:a", string(data))
	assert.Equal(t, int32(2), f.calls.Load(), "one retry after the first failure")
}

func TestNotFoundIsNotRetried(t *testing.T) {
	f := &flakyFetcher{err: backend.ErrNotFound}
	l := New(f, testOptions(nil), logger.Discard())
	defer l.Close()

	_, err := l.Load(context.Background(), "gone")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, Failed, l.Status("gone"))
}

func TestRetriesAreBounded(t *testing.T) {
	f := &flakyFetcher{failures: 100}
	l := New(f, testOptions(nil), logger.Discard())
	defer l.Close()

	_, err := l.Load(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestConcurrentStatusStartsOneLoad(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := fetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("ok"), nil
	})
	l := New(fetch, testOptions(nil), logger.Discard())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Status("same")
		}()
	}
	wg.Wait()
	close(release)
	l.Close()
	assert.Equal(t, int32(1), calls.Load())
}

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache(2)
	c.set("a", []byte("1"), nil, 0)
	c.set("b", []byte("2"), nil, 0)
	_, ok := c.get("a")
	require.True(t, ok)
	c.set("c", []byte("3"), nil, 0)

	_, ok = c.get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestCacheExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newCache(0)
	c.now = func() time.Time { return now }
	c.set("a", []byte("1"), nil, time.Minute)

	_, ok := c.get("a")
	assert.True(t, ok)
	now = now.Add(2 * time.Minute)
	_, ok = c.get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}
