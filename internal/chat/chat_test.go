package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/logger"
	"chatline/internal/message"
	myMiddleware "chatline/internal/middleware"
)

type memRecords struct {
	mu   sync.Mutex
	next int
	vals map[string]json.RawMessage
	seq  map[string]int
}

func newMemRecords() *memRecords {
	return &memRecords{vals: map[string]json.RawMessage{}, seq: map[string]int{}}
}

func (m *memRecords) Push(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return fmt.Sprintf("k%03d", m.next), nil
}

func (m *memRecords) Get(_ context.Context, _, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memRecords) Set(_ context.Context, _, key string, v json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; !ok {
		m.next++
		m.seq[key] = m.next
	}
	m.vals[key] = v
	return nil
}

func (m *memRecords) Remove(_ context.Context, _, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vals[key]
	delete(m.vals, key)
	delete(m.seq, key)
	return ok, nil
}

func (m *memRecords) Snapshot(context.Context, string) ([]message.Child, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.vals))
	for k := range m.vals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m.seq[keys[i]] < m.seq[keys[j]] })
	out := []message.Child{}
	for _, k := range keys {
		out = append(out, message.Child{Key: k, Value: m.vals[k]})
	}
	return out, nil
}

// memFeed has a single subscriber whose channel exists before anyone
// subscribes, so no notice is lost to startup ordering.
type memFeed struct {
	ch chan string
}

func newMemFeed() *memFeed { return &memFeed{ch: make(chan string, 64)} }

func (f *memFeed) Publish(_ context.Context, node string) error {
	f.ch <- node
	return nil
}

func (f *memFeed) Subscribe(context.Context) <-chan string { return f.ch }

type fixture struct {
	srv *httptest.Server
}

// asUser stands in for the JWT middleware: the X-User header names the caller.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := r.Header.Get("X-User")
		if u == "" {
			u = r.URL.Query().Get("user")
		}
		next.ServeHTTP(w, r.WithContext(myMiddleware.WithIdentity(r.Context(), u, u)))
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, newMemRecords())
}

func newFixtureWith(t *testing.T, repo RecordStore) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	metrics := NewMetrics(nil)
	hub := NewHub(newMemFeed(), repo, metrics, logger.Discard())
	go hub.Run(ctx)
	go hub.SubscribeToFeed(ctx)

	h := NewHandler(hub, repo, metrics, logger.Discard())
	r := chi.NewRouter()
	r.Use(asUser)
	r.Post("/api/message", h.Push)
	r.Get("/api/message", h.Snapshot)
	r.Put("/api/message/{key}", h.Set)
	r.Delete("/api/message/{key}", h.Remove)
	r.Get("/ws", h.ServeWs)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("X-User", user)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (f *fixture) push(t *testing.T, user string) string {
	res := f.do(t, http.MethodPost, "/api/message", user, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var p PushResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&p))
	return p.Key
}

func (f *fixture) snapshot(t *testing.T) []message.Child {
	res := f.do(t, http.MethodGet, "/api/message", "u1", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var s message.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&s))
	return s.Children
}

func TestSetAndSnapshotKeepOrder(t *testing.T) {
	f := newFixture(t)
	k1 := f.push(t, "u1")
	k2 := f.push(t, "u1")

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/"+k1, "u1", `{"message":"first","userId":"u1"}`).StatusCode)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/"+k2, "u2", `{"message":"second","userId":"u2"}`).StatusCode)

	children := f.snapshot(t)
	require.Len(t, children, 2)
	assert.Equal(t, k1, children[0].Key)
	assert.Equal(t, k2, children[1].Key)
}

func TestSetRejectsBadValues(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/message/k", "u1", `{not json`).StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPut, "/api/message/k", "u1", `{"userId":"u2"}`).StatusCode)
	big := `"` + strings.Repeat("a", maxValueBytes) + `"`
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(t, http.MethodPut, "/api/message/k", "u1", big).StatusCode)
	assert.Empty(t, f.snapshot(t))
}

func TestRemoveDeletesExactlyOneRecord(t *testing.T) {
	f := newFixture(t)
	for _, k := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/"+k, "u1", `{"userId":"u1"}`).StatusCode)
	}

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/message/b", "u1", "").StatusCode)

	children := f.snapshot(t)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Key)
	assert.Equal(t, "c", children[1].Key)

	// removing again is not an error
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/message/b", "u1", "").StatusCode)
}

func TestRemoveForeignRecordIsForbidden(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/a", "u1", `{"userId":"u1"}`).StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/api/message/a", "u2", "").StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPut, "/api/message/a", "u2", `{"message":"hijack"}`).StatusCode)
	assert.Len(t, f.snapshot(t), 1)
}

func readFrame(t *testing.T, conn *websocket.Conn) message.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var fr message.Frame
	require.NoError(t, conn.ReadJSON(&fr))
	return fr
}

func TestSubscriberReceivesFullSnapshots(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?user=u2"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, message.FrameSnapshot, first.Type)
	assert.Empty(t, first.Children)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/a", "u1", `{"message":"hello"}`).StatusCode)
	second := readFrame(t, conn)
	require.Len(t, second.Children, 1)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/b", "u1", `{"message":"again"}`).StatusCode)
	third := readFrame(t, conn)
	require.Len(t, third.Children, 2)
	assert.Equal(t, "b", third.Children[1].Key)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/message/a", "u1", "").StatusCode)
	fourth := readFrame(t, conn)
	require.Len(t, fourth.Children, 1)
	assert.Equal(t, "b", fourth.Children[0].Key)
}

// gatedRecords holds the first Snapshot call until release is closed.
type gatedRecords struct {
	*memRecords
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	served  atomic.Int32
}

func (g *gatedRecords) Snapshot(ctx context.Context, node string) ([]message.Child, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	defer g.served.Add(1)
	return g.memRecords.Snapshot(ctx, node)
}

func TestSlowInitialSnapshotDoesNotOverrideNewerBroadcast(t *testing.T) {
	repo := &gatedRecords{
		memRecords: newMemRecords(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	f := newFixtureWith(t, repo)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?user=u2"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscriber's initial read is stuck while a write is broadcast
	select {
	case <-repo.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("initial snapshot never requested")
	}
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/a", "u1", `{"message":"hello"}`).StatusCode)
	require.Eventually(t, func() bool { return repo.served.Load() >= 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(repo.release)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/message/b", "u1", `{"message":"again"}`).StatusCode)

	// snapshots may be skipped but never go backwards
	latest := -1
	for latest < 2 {
		fr := readFrame(t, conn)
		require.GreaterOrEqual(t, len(fr.Children), latest, "subscriber got an older snapshot")
		latest = len(fr.Children)
	}
}
