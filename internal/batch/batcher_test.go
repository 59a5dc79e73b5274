package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"odin-ws-server/internal/room"
)

func TestEnqueueCursorLastWriteWins(t *testing.T) {
	b := New()
	b.EnqueueCursor("r1", room.Cursor{UserID: "u1", X: 1})
	b.EnqueueCursor("r1", room.Cursor{UserID: "u1", X: 2})
	b.EnqueueCursor("r1", room.Cursor{UserID: "u2", X: 9})

	flushes := b.FlushCursors()
	require := assert.New(t)
	require.Len(flushes, 1)
	require.Equal("r1", flushes[0].RoomID)
	require.Len(flushes[0].Cursors, 2)

	byUser := map[string]room.Cursor{}
	for _, c := range flushes[0].Cursors {
		byUser[c.UserID] = c
	}
	require.Equal(2.0, byUser["u1"].X)
	require.Equal(9.0, byUser["u2"].X)
}

func TestFlushCursorsDrainsAndSkipsEmpty(t *testing.T) {
	b := New()
	b.EnqueueCursor("r1", room.Cursor{UserID: "u1"})

	flushes := b.FlushCursors()
	assert.Len(t, flushes, 1)

	flushes = b.FlushCursors()
	assert.Empty(t, flushes, "a second flush with nothing new enqueued must be empty")
}

func TestEnqueueReactionPreservesOrder(t *testing.T) {
	b := New()
	b.EnqueueReaction("r1", room.Reaction{ID: "1"})
	b.EnqueueReaction("r1", room.Reaction{ID: "2"})
	b.EnqueueReaction("r1", room.Reaction{ID: "3"})

	flushes := b.FlushReactions()
	require := assert.New(t)
	require.Len(flushes, 1)
	require.Equal([]string{"1", "2", "3"}, []string{
		flushes[0].Reactions[0].ID,
		flushes[0].Reactions[1].ID,
		flushes[0].Reactions[2].ID,
	})
}

func TestBatchersAreIndependentPerRoom(t *testing.T) {
	b := New()
	b.EnqueueCursor("r1", room.Cursor{UserID: "u1"})
	b.EnqueueCursor("r2", room.Cursor{UserID: "u1"})

	flushes := b.FlushCursors()
	assert.Len(t, flushes, 2)
}
