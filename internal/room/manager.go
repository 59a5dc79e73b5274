package room

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"odin-ws-server/internal/kvstore"
)

const (
	allRoomsKey = "rooms:all"

	defaultDuration = 596.0
	defaultMaxUsers = 10000

	defaultRoomID       = "main-lobby"
	defaultRoomName     = "Main Lobby"
	defaultRoomMaxUsers = 100000
)

func metaKey(id string) string    { return fmt.Sprintf("room:%s:meta", id) }
func usersKey(id string) string   { return fmt.Sprintf("room:%s:users", id) }
func videoKey(id string) string   { return fmt.Sprintf("room:%s:video", id) }
func cursorsKey(id string) string { return fmt.Sprintf("room:%s:cursors", id) }

// Manager is the authoritative store of rooms, membership, playback
// state, and cursors, per spec.md §4.3. Every operation is expressed in
// terms of the KV port, so it behaves identically whether the port is
// standalone or clustered.
type Manager struct {
	port   kvstore.Port
	ttl    time.Duration
	logger zerolog.Logger

	defaultDuration float64
	defaultMaxUsers int
	lobbyID         string
	lobbyMaxUsers   int
}

// Config customizes room lifecycle constants; zero values fall back to
// spec.md's defaults.
type Config struct {
	TTL             time.Duration
	DefaultDuration float64
	DefaultMaxUsers int
	LobbyID         string
	LobbyMaxUsers   int
}

// New builds a room Manager backed by port.
func New(port kvstore.Port, cfg Config, logger zerolog.Logger) *Manager {
	m := &Manager{
		port:            port,
		ttl:             cfg.TTL,
		logger:          logger,
		defaultDuration: cfg.DefaultDuration,
		defaultMaxUsers: cfg.DefaultMaxUsers,
		lobbyID:         cfg.LobbyID,
		lobbyMaxUsers:   cfg.LobbyMaxUsers,
	}
	if m.ttl <= 0 {
		m.ttl = 24 * time.Hour
	}
	if m.defaultDuration <= 0 {
		m.defaultDuration = defaultDuration
	}
	if m.defaultMaxUsers <= 0 {
		m.defaultMaxUsers = defaultMaxUsers
	}
	if m.lobbyID == "" {
		m.lobbyID = defaultRoomID
	}
	if m.lobbyMaxUsers <= 0 {
		m.lobbyMaxUsers = defaultRoomMaxUsers
	}
	return m
}

// CreateRoom is idempotent: concurrent creates for the same id collapse
// to the first writer, per spec.md §3's Room invariant. The collapse is
// enforced by the port's CreateWithTTL primitive rather than a
// check-then-act Get+SetWithTTL pair, which would leave a race window
// where two concurrent callers both pass the initial GetRoom miss and
// then both unconditionally overwrite each other's meta.
func (m *Manager) CreateRoom(ctx context.Context, id, creator string, opts CreateOptions) (Room, error) {
	if existing, ok := m.GetRoom(ctx, id); ok {
		return existing, nil
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Room %s", id)
	}
	maxUsers := opts.MaxUsers
	if maxUsers <= 0 {
		maxUsers = m.defaultMaxUsers
	}
	isPublic := true
	if opts.IsPublic != nil {
		isPublic = *opts.IsPublic
	}

	r := Room{
		ID:        id,
		Name:      name,
		CreatedBy: creator,
		CreatedAt: nowMillis(),
		MaxUsers:  maxUsers,
		IsPublic:  isPublic,
	}

	data, err := json.Marshal(r)
	if err != nil {
		return Room{}, fmt.Errorf("room: marshal %s: %w", id, err)
	}

	stored, _, err := m.port.CreateWithTTL(ctx, metaKey(id), data, m.ttl)
	if err != nil {
		return Room{}, fmt.Errorf("room: persist meta %s: %w", id, err)
	}

	var winner Room
	if err := json.Unmarshal(stored, &winner); err != nil {
		return Room{}, fmt.Errorf("room: decode persisted meta %s: %w", id, err)
	}

	// Index with the winner's bytes: every concurrent caller now reads
	// back the same stored value, so this HashSet is idempotent across
	// the race instead of whichever caller's own copy happened to write
	// last.
	if err := m.port.HashSet(ctx, allRoomsKey, id, stored, 0); err != nil {
		m.logger.Warn().Err(err).Str("room", id).Msg("failed to index room in rooms:all")
	}

	return winner, nil
}

// GetRoom returns the room, or (zero, false) if absent.
func (m *Manager) GetRoom(ctx context.Context, id string) (Room, bool) {
	data, ok := m.port.Get(ctx, metaKey(id))
	if !ok {
		return Room{}, false
	}
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return Room{}, false
	}
	return r, true
}

// GetAllRooms returns every known room. Ordering is unspecified, per
// spec.md §4.3. In standalone mode this only reflects rooms created on
// this instance — spec.md §9 explicitly forbids gossiping to fake
// cross-instance enumeration.
func (m *Manager) GetAllRooms(ctx context.Context) []Room {
	fields := m.port.HashGetAll(ctx, allRoomsKey)
	rooms := make([]Room, 0, len(fields))
	for _, data := range fields {
		var r Room
		if err := json.Unmarshal(data, &r); err == nil {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

// DeleteRoom removes meta, users, video, and cursors entries and the
// rooms:all index field. Individual key failures do not abort the others,
// per spec.md §4.3's best-effort guarantee.
func (m *Manager) DeleteRoom(ctx context.Context, id string) {
	if err := m.port.Delete(ctx, metaKey(id)); err != nil {
		m.logger.Warn().Err(err).Str("room", id).Msg("failed to delete room meta")
	}
	if err := m.port.Delete(ctx, usersKey(id)); err != nil {
		m.logger.Warn().Err(err).Str("room", id).Msg("failed to delete room users")
	}
	if err := m.port.Delete(ctx, videoKey(id)); err != nil {
		m.logger.Warn().Err(err).Str("room", id).Msg("failed to delete room video state")
	}
	if err := m.port.Delete(ctx, cursorsKey(id)); err != nil {
		m.logger.Warn().Err(err).Str("room", id).Msg("failed to delete room cursors")
	}
	if err := m.port.HashDel(ctx, allRoomsKey, id); err != nil {
		m.logger.Warn().Err(err).Str("room", id).Msg("failed to unindex room")
	}
}

// AddUserToRoom hash-sets the user by id with the room TTL. The write
// refreshes the expiry of this user's entry only; other users' entries
// keep their own expiry.
func (m *Manager) AddUserToRoom(ctx context.Context, roomID string, u User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("room: marshal user %s: %w", u.ID, err)
	}
	return m.port.HashSet(ctx, usersKey(roomID), u.ID, data, m.ttl)
}

// RemoveUserFromRoom deletes the user and cursor entries for userID.
func (m *Manager) RemoveUserFromRoom(ctx context.Context, roomID, userID string) {
	_ = m.port.HashDel(ctx, usersKey(roomID), userID)
	_ = m.port.HashDel(ctx, cursorsKey(roomID), userID)
}

// GetRoomUsers returns every present user, keyed by id.
func (m *Manager) GetRoomUsers(ctx context.Context, roomID string) map[string]User {
	fields := m.port.HashGetAll(ctx, usersKey(roomID))
	users := make(map[string]User, len(fields))
	for id, data := range fields {
		var u User
		if err := json.Unmarshal(data, &u); err == nil {
			users[id] = u
		}
	}
	return users
}

// GetRoomUserCount reports the number of present users.
func (m *Manager) GetRoomUserCount(ctx context.Context, roomID string) int {
	return m.port.HashLen(ctx, usersKey(roomID))
}

// GetVideoState returns the current playback state, defaulting to paused
// at t=0 with the configured default duration when absent, per spec.md
// §3's VideoState lifecycle.
func (m *Manager) GetVideoState(ctx context.Context, roomID string) VideoState {
	data, ok := m.port.Get(ctx, videoKey(roomID))
	if !ok {
		return VideoState{
			IsPlaying:       false,
			CurrentTime:     0,
			Duration:        m.defaultDuration,
			ServerTimestamp: nowMillis(),
			LastUpdateTime:  nowMillis(),
		}
	}
	var vs VideoState
	if err := json.Unmarshal(data, &vs); err != nil {
		return VideoState{Duration: m.defaultDuration, ServerTimestamp: nowMillis(), LastUpdateTime: nowMillis()}
	}
	return vs
}

func (m *Manager) persistVideoState(ctx context.Context, roomID string, vs VideoState) error {
	data, err := json.Marshal(vs)
	if err != nil {
		return fmt.Errorf("room: marshal video state %s: %w", roomID, err)
	}
	return m.port.SetWithTTL(ctx, videoKey(roomID), data, m.ttl)
}

// SetVideoState merges partial into the current state, overwrites
// serverTimestamp to now, and persists with TTL, per spec.md §4.3.
func (m *Manager) SetVideoState(ctx context.Context, roomID string, partial VideoStatePartial) (VideoState, error) {
	vs := m.GetVideoState(ctx, roomID)

	if partial.IsPlaying != nil {
		vs.IsPlaying = *partial.IsPlaying
	}
	if partial.CurrentTime != nil {
		t := *partial.CurrentTime
		if t < 0 {
			t = 0
		}
		if t > vs.Duration {
			t = vs.Duration
		}
		vs.CurrentTime = t
	}
	vs.LastUpdateTime = nowMillis()
	vs.ServerTimestamp = nowMillis()

	if err := m.persistVideoState(ctx, roomID, vs); err != nil {
		return vs, err
	}
	return vs, nil
}

// Seek clamps t to [0, duration] and sets it as the current authoritative
// position, per spec.md §4.3's video:seek transition.
func (m *Manager) Seek(ctx context.Context, roomID string, t float64) (VideoState, error) {
	vs := m.GetVideoState(ctx, roomID)
	if t < 0 {
		t = 0
	}
	if t > vs.Duration {
		t = vs.Duration
	}
	vs.CurrentTime = t
	vs.LastUpdateTime = nowMillis()
	vs.ServerTimestamp = nowMillis()

	if err := m.persistVideoState(ctx, roomID, vs); err != nil {
		return vs, err
	}
	return vs, nil
}

// UpdateVideoTime advances currentTime if playing by the elapsed wall
// time since lastUpdateTime, clamping to duration and looping back to 0
// on overflow, per spec.md §3's VideoState invariant and §4.3's
// updateVideoTime contract.
func (m *Manager) UpdateVideoTime(ctx context.Context, roomID string) (VideoState, error) {
	vs := m.GetVideoState(ctx, roomID)
	now := nowMillis()

	if vs.IsPlaying {
		elapsedSeconds := float64(now-vs.LastUpdateTime) / 1000.0
		if elapsedSeconds > 0 {
			vs.CurrentTime += elapsedSeconds
		}
		if vs.Duration > 0 && vs.CurrentTime >= vs.Duration {
			vs.CurrentTime = 0
		}
	}

	vs.LastUpdateTime = now
	vs.ServerTimestamp = now

	if err := m.persistVideoState(ctx, roomID, vs); err != nil {
		return vs, err
	}
	return vs, nil
}

// UpdateCursor overwrites the cursor entry for userID.
func (m *Manager) UpdateCursor(ctx context.Context, roomID, userID string, c Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("room: marshal cursor %s: %w", userID, err)
	}
	return m.port.HashSet(ctx, cursorsKey(roomID), userID, data, m.ttl)
}

// GetRoomCursors returns every present cursor, keyed by userID.
func (m *Manager) GetRoomCursors(ctx context.Context, roomID string) map[string]Cursor {
	fields := m.port.HashGetAll(ctx, cursorsKey(roomID))
	cursors := make(map[string]Cursor, len(fields))
	for id, data := range fields {
		var c Cursor
		if err := json.Unmarshal(data, &c); err == nil {
			cursors[id] = c
		}
	}
	return cursors
}

// RemoveCursor deletes the cursor entry for userID.
func (m *Manager) RemoveCursor(ctx context.Context, roomID, userID string) {
	_ = m.port.HashDel(ctx, cursorsKey(roomID), userID)
}

// CleanupEmptyRooms deletes every room with zero users whose age exceeds
// minAge, per spec.md §4.3's cleanupEmptyRooms contract. The lobby room
// is never deleted. It returns the ids it deleted, mainly for
// logging/metrics.
func (m *Manager) CleanupEmptyRooms(ctx context.Context, minAge time.Duration) []string {
	var reaped []string
	now := nowMillis()

	for _, r := range m.GetAllRooms(ctx) {
		if r.ID == m.lobbyID {
			continue // the default room is never reaped
		}
		age := time.Duration(now-r.CreatedAt) * time.Millisecond
		if age <= minAge {
			continue
		}
		if m.GetRoomUserCount(ctx, r.ID) > 0 {
			continue
		}
		m.DeleteRoom(ctx, r.ID)
		reaped = append(reaped, r.ID)
	}
	return reaped
}

// EnsureDefaultRoom creates the lobby room with a system creator if it
// does not already exist, per spec.md §4.3.
func (m *Manager) EnsureDefaultRoom(ctx context.Context) error {
	if _, ok := m.GetRoom(ctx, m.lobbyID); ok {
		return nil
	}
	isPublic := true
	_, err := m.CreateRoom(ctx, m.lobbyID, "system", CreateOptions{
		Name:     defaultRoomName,
		MaxUsers: m.lobbyMaxUsers,
		IsPublic: &isPublic,
	})
	return err
}

// LobbyID returns the configured default room id.
func (m *Manager) LobbyID() string { return m.lobbyID }
