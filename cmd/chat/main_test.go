package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/adapter"
	"chatline/internal/backend"
	"chatline/internal/imageload"
	"chatline/internal/logger"
	"chatline/internal/message"
	"chatline/internal/screen"
	"chatline/internal/session"
	"chatline/internal/session/sessiontest"
)

type testAuth struct{}

func (testAuth) Login(_ context.Context, username, _ string) (backend.Identity, error) {
	return backend.Identity{Token: "tok", UserID: "id-" + username, Username: username}, nil
}

type harness struct {
	screen  *screen.Screen
	records *sessiontest.Records
	blobs   *sessiontest.Blobs
	view    *view
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		records: sessiontest.NewRecords(),
		blobs:   sessiontest.NewBlobs(),
		view:    newView(&bytes.Buffer{}, 40),
	}
	connect := func() (session.Records, session.Blobs) { return h.records, h.blobs }
	h.screen = screen.New(testAuth{}, connect, screen.Options{
		DataDir:       t.TempDir(),
		DefaultAvatar: "mem://default",
	}, logger.Discard())
	t.Cleanup(h.screen.SignOut)
	h.view.screen = h.screen
	require.NoError(t, h.screen.SignIn(context.Background(), "alice", "pw"))
	res := <-h.screen.Results()
	require.Equal(t, screen.OpSignIn, res.Op)
	return h
}

func TestBlankLineIsNotSent(t *testing.T) {
	h := newHarness(t)

	assert.False(t, handle(context.Background(), h.screen, h.view, "   "))
	assert.Empty(t, h.records.Keys())
	assert.Equal(t, screen.Idle, h.screen.State())
	select {
	case res := <-h.screen.Results():
		t.Fatalf("unexpected result %v: %v", res.Op, res.Err)
	case <-time.After(50 * time.Millisecond):
	}

	assert.False(t, handle(context.Background(), h.screen, h.view, "hello"))
	require.Len(t, h.records.Keys(), 1)
	m, ok := h.records.Message(h.records.Keys()[0])
	require.True(t, ok)
	assert.Equal(t, "hello", *m.Text)
}

func TestFormatShowsLoadedImageSize(t *testing.T) {
	h := newHarness(t)
	h.blobs.Put("chat/photo.jpg", bytes.Repeat([]byte{1}, 1500))
	url := h.blobs.DownloadURL("chat/photo.jpg")

	_, err := h.screen.Images().Load(context.Background(), url)
	require.NoError(t, err)

	row := adapter.Rendered{Kind: message.OtherImage, ImageURL: url, ImageStatus: imageload.Ready}
	assert.Equal(t, []string{"  2 (?) [image 1.5 kB]"}, h.view.format(2, row))

	row.ImageURL = h.blobs.DownloadURL("chat/missing.jpg")
	assert.Equal(t, []string{"  2 (?) [image ready]"}, h.view.format(2, row))
}
