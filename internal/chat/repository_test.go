package chat

import (
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqForOrdersByFirstWrite(t *testing.T) {
	repo, err := NewRepository(nil, 1)
	require.NoError(t, err)

	pushed, err := repo.Push(t.Context(), "message")
	require.NoError(t, err)
	pushedSeq := repo.seqFor(pushed)
	assert.Equal(t, pushed, strconv.FormatInt(pushedSeq, 10), "a pushed key is its own position")

	// client-chosen keys go after everything written before them
	for _, key := range []string{"5", "a", "0012", "-3"} {
		seq := repo.seqFor(key)
		assert.Greater(t, seq, pushedSeq, key)
		pushedSeq = seq
	}
}

func TestPushedKey(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fresh := node.Generate().String()

	tests := []struct {
		key  string
		want bool
	}{
		{fresh, true},
		{"5", false},
		{"k001", false},
		{"0" + fresh, false},
		{"", false},
	}
	for _, tt := range tests {
		_, ok := pushedKey(tt.key, time.Now())
		assert.Equal(t, tt.want, ok, "key %q", tt.key)
	}

	// a key claiming to come from the far future is not trusted
	future := snowflake.ID((now.Add(48*time.Hour).UnixMilli() - snowflake.Epoch) << (snowflake.NodeBits + snowflake.StepBits))
	_, ok := pushedKey(future.String(), now)
	assert.False(t, ok)
	_, ok = pushedKey(future.String(), now.Add(72*time.Hour))
	assert.True(t, ok)
}
