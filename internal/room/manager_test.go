package room

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odin-ws-server/internal/kvstore"
)

func newTestManager() *Manager {
	return New(kvstore.NewLocalPort(), Config{}, zerolog.Nop())
}

func TestCreateRoomIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	r1, err := m.CreateRoom(ctx, "r1", "alice", CreateOptions{})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	r2, err := m.CreateRoom(ctx, "r1", "bob", CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, r1.CreatedAt, r2.CreatedAt, "concurrent creates must collapse to the first writer")
	assert.Equal(t, "alice", r2.CreatedBy)
}

func TestCreateRoomDefaults(t *testing.T) {
	m := newTestManager()
	r, err := m.CreateRoom(context.Background(), "r1", "alice", CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Room r1", r.Name)
	assert.Equal(t, defaultMaxUsers, r.MaxUsers)
	assert.True(t, r.IsPublic)
}

func TestGetRoomAbsent(t *testing.T) {
	m := newTestManager()
	_, ok := m.GetRoom(context.Background(), "missing")
	assert.False(t, ok)
}

func TestDeleteRoomRemovesEverything(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.CreateRoom(ctx, "r1", "alice", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, m.AddUserToRoom(ctx, "r1", User{ID: "u1"}))
	require.NoError(t, m.UpdateCursor(ctx, "r1", "u1", Cursor{UserID: "u1"}))
	_, err = m.SetVideoState(ctx, "r1", VideoStatePartial{})
	require.NoError(t, err)

	m.DeleteRoom(ctx, "r1")

	_, ok := m.GetRoom(ctx, "r1")
	assert.False(t, ok)
	assert.Empty(t, m.GetRoomUsers(ctx, "r1"))
	assert.Empty(t, m.GetRoomCursors(ctx, "r1"))
	for _, r := range m.GetAllRooms(ctx) {
		assert.NotEqual(t, "r1", r.ID)
	}
}

func TestAddRemoveUser(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.AddUserToRoom(ctx, "r1", User{ID: "u1"}))
	require.NoError(t, m.AddUserToRoom(ctx, "r1", User{ID: "u2"}))
	assert.Equal(t, 2, m.GetRoomUserCount(ctx, "r1"))

	m.RemoveUserFromRoom(ctx, "r1", "u1")
	assert.Equal(t, 1, m.GetRoomUserCount(ctx, "r1"))
}

func TestGetVideoStateDefaultsWhenAbsent(t *testing.T) {
	m := newTestManager()
	vs := m.GetVideoState(context.Background(), "r1")

	assert.False(t, vs.IsPlaying)
	assert.Equal(t, 0.0, vs.CurrentTime)
	assert.Equal(t, defaultDuration, vs.Duration)
}

func TestSetVideoStateMergesPartial(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	playing := true
	vs, err := m.SetVideoState(ctx, "r1", VideoStatePartial{IsPlaying: &playing})
	require.NoError(t, err)
	assert.True(t, vs.IsPlaying)
	assert.Equal(t, 0.0, vs.CurrentTime)

	ct := 42.0
	vs, err = m.SetVideoState(ctx, "r1", VideoStatePartial{CurrentTime: &ct})
	require.NoError(t, err)
	assert.True(t, vs.IsPlaying, "unset fields in the partial must not be clobbered")
	assert.Equal(t, 42.0, vs.CurrentTime)
}

func TestSetVideoStateClampsCurrentTime(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	over := m.defaultDuration + 1000
	vs, err := m.SetVideoState(ctx, "r1", VideoStatePartial{CurrentTime: &over})
	require.NoError(t, err)
	assert.Equal(t, m.defaultDuration, vs.CurrentTime)
}

func TestSeekClamps(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	vs, err := m.Seek(ctx, "r1", -10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vs.CurrentTime)

	vs, err = m.Seek(ctx, "r1", vs.Duration+10)
	require.NoError(t, err)
	assert.Equal(t, vs.Duration, vs.CurrentTime)
}

func TestUpdateVideoTimeAdvancesWhilePlaying(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	playing := true
	_, err := m.SetVideoState(ctx, "r1", VideoStatePartial{IsPlaying: &playing})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	vs, err := m.UpdateVideoTime(ctx, "r1")
	require.NoError(t, err)
	assert.Greater(t, vs.CurrentTime, 0.0)
}

func TestUpdateVideoTimeDoesNotAdvanceWhilePaused(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	time.Sleep(20 * time.Millisecond)
	vs, err := m.UpdateVideoTime(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, vs.CurrentTime)
}

func TestUpdateVideoTimeLoopsAtDuration(t *testing.T) {
	m := New(kvstore.NewLocalPort(), Config{DefaultDuration: 1}, zerolog.Nop())
	ctx := context.Background()

	playing := true
	_, err := m.SetVideoState(ctx, "r1", VideoStatePartial{IsPlaying: &playing})
	require.NoError(t, err)

	time.Sleep(1200 * time.Millisecond)
	vs, err := m.UpdateVideoTime(ctx, "r1")
	require.NoError(t, err)
	assert.Less(t, vs.CurrentTime, 1.0, "currentTime must wrap back below duration")
	assert.GreaterOrEqual(t, vs.CurrentTime, 0.0)
}

func TestCursorOverwrite(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.UpdateCursor(ctx, "r1", "u1", Cursor{UserID: "u1", X: 1, Y: 1}))
	require.NoError(t, m.UpdateCursor(ctx, "r1", "u1", Cursor{UserID: "u1", X: 2, Y: 2}))

	cursors := m.GetRoomCursors(ctx, "r1")
	require.Len(t, cursors, 1)
	assert.Equal(t, 2.0, cursors["u1"].X)
}

func TestCleanupEmptyRoomsSkipsLobbyAndYoungRooms(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.EnsureDefaultRoom(ctx))
	_, err := m.CreateRoom(ctx, "young", "alice", CreateOptions{})
	require.NoError(t, err)

	reaped := m.CleanupEmptyRooms(ctx, time.Hour)
	assert.Empty(t, reaped)

	reaped = m.CleanupEmptyRooms(ctx, -time.Hour) // force "old enough"
	assert.Contains(t, reaped, "young")
	assert.NotContains(t, reaped, m.LobbyID())
}

func TestCleanupEmptyRoomsSkipsRoomsWithUsers(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.CreateRoom(ctx, "occupied", "alice", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, m.AddUserToRoom(ctx, "occupied", User{ID: "u1"}))

	reaped := m.CleanupEmptyRooms(ctx, -time.Hour)
	assert.NotContains(t, reaped, "occupied")
}

func TestEnsureDefaultRoomIsIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.EnsureDefaultRoom(ctx))
	first, _ := m.GetRoom(ctx, m.LobbyID())

	require.NoError(t, m.EnsureDefaultRoom(ctx))
	second, _ := m.GetRoom(ctx, m.LobbyID())

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}
