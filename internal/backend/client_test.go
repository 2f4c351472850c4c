package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/message"
)

func newServer(t *testing.T, mux *http.ServeMux) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, New(srv.URL + "/")
}

func TestLoginKeepsToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Identity{Token: "tok", UserID: "u1", Username: "alice"})
	})
	mux.HandleFunc("POST /api/message", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"key":"k1"}`))
	})
	_, c := newServer(t, mux)
	ctx := context.Background()

	_, err := c.Push(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	id, err := c.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	key, err := c.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestRegisterTreatsConflictAsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "username already taken", http.StatusConflict)
	})
	_, c := newServer(t, mux)
	assert.NoError(t, c.Register(context.Background(), "alice", "pw"))
}

func TestSetRemoveAndErrors(t *testing.T) {
	var gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/message/{key}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /api/message/{key}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("key") {
		case "theirs":
			http.Error(w, "nope", http.StatusForbidden)
		case "broken":
			http.Error(w, "db down", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	_, c := newServer(t, mux)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", message.Message{Text: message.Ptr("hi")}))
	assert.Contains(t, gotBody, `"message":"hi"`)
	assert.Contains(t, gotBody, `"photoUrl":null`)

	assert.NoError(t, c.Remove(ctx, "k1"))
	assert.ErrorIs(t, c.Remove(ctx, "theirs"), ErrForbidden)

	err := c.Remove(ctx, "broken")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "db down", se.Body)
}

func TestSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/message", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"children":[{"key":"a","value":{"message":"hi"}},{"key":"b","value":null}]}`))
	})
	_, c := newServer(t, mux)

	s, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Children, 2)
	assert.Equal(t, "a", s.Children[0].Key)
	assert.JSONEq(t, `{"message":"hi"}`, string(s.Children[0].Value))
}

func TestBlobs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/storage/", func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(r.URL.Path, "/api/storage/")
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Object{Path: p, Size: int64(len(b)), DownloadURL: "http://" + r.Host + "/files/" + p})
	})
	var deleted string
	mux.HandleFunc("DELETE /api/storage/", func(w http.ResponseWriter, r *http.Request) {
		deleted = strings.TrimPrefix(r.URL.Path, "/api/storage/")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/storage", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "avatar/", r.URL.Query().Get("prefix"))
		w.Write([]byte(`{"items":["u1.jpg","u2.jpg"]}`))
	})
	mux.HandleFunc("GET /files/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes of " + strings.TrimPrefix(r.URL.Path, "/files/")))
	})
	_, c := newServer(t, mux)
	ctx := context.Background()

	obj, err := c.Upload(ctx, "images/image_1.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), obj.Size)
	assert.Equal(t, c.DownloadURL("images/image_1.jpg"), obj.DownloadURL)

	p, err := c.PathFromURL(obj.DownloadURL)
	require.NoError(t, err)
	assert.Equal(t, "images/image_1.jpg", p)

	require.NoError(t, c.DeleteByURL(ctx, obj.DownloadURL))
	assert.Equal(t, "images/image_1.jpg", deleted)

	names, err := c.List(ctx, "avatar/")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1.jpg", "u2.jpg"}, names)

	b, err := c.Fetch(ctx, c.DownloadURL("avatar/u1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "bytes of avatar/u1.jpg", string(b))

	_, err = c.PathFromURL("http://elsewhere/pics/a.jpg")
	assert.Error(t, err)
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(message.Frame{Type: message.FrameSnapshot})
		conn.WriteJSON(message.Frame{Type: "noise"})
		conn.WriteJSON(message.Frame{Type: message.FrameSnapshot, Children: []message.Child{
			{Key: "a", Value: json.RawMessage(`{"message":"x"}`)},
		}})
		<-release
	})
	_, c := newServer(t, mux)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	c.SetToken("tok")
	sub, err := c.Subscribe(ctx)
	require.NoError(t, err)

	first := <-sub.Snapshots()
	assert.Empty(t, first.Children)
	second := <-sub.Snapshots()
	require.Len(t, second.Children, 1)
	assert.Equal(t, "a", second.Children[0].Key)

	// server drops the connection: the stream ends with an error
	close(release)
	_, open := <-sub.Snapshots()
	assert.False(t, open)
	assert.Error(t, sub.Err())
}

func TestSubscriptionCloseIsClean(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	})
	_, c := newServer(t, mux)

	sub, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	for range sub.Snapshots() {
	}
	assert.NoError(t, sub.Err())
}
