package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"odin-ws-server/internal/batch"
	"odin-ws-server/internal/config"
	"odin-ws-server/internal/geo"
	"odin-ws-server/internal/idgen"
	"odin-ws-server/internal/kvstore"
	"odin-ws-server/internal/metrics"
	"odin-ws-server/internal/ratelimit"
	"odin-ws-server/internal/room"
)

func roomChannel(roomID string) string { return fmt.Sprintf("room:%s:broadcast", roomID) }

func timeNowMillis() int64 { return time.Now().UnixMilli() }

// Hub owns every session on this instance and mediates room broadcasts
// through the KV/PubSub port's channel fan-out, per spec.md §4.5 and
// §9's "shared mutable state across instances" design note.
type Hub struct {
	cfg        config.Config
	instanceID string
	logger     zerolog.Logger

	port         kvstore.Port
	rooms        *room.Manager
	batchers     *batch.Batchers
	limiter      *ratelimit.Limiter
	tokenBuckets *ratelimit.Buckets
	metrics      *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*session            // userID -> session
	roomSubs map[string]map[string]*session // roomID -> userID -> session (local delivery index)
	unsubs   map[string]func()              // roomID -> pub/sub unsubscribe
}

// Deps bundles the already-constructed collaborators a Hub is wired
// against, so New stays a plain assembly step.
type Deps struct {
	Config   config.Config
	Port     kvstore.Port
	Rooms    *room.Manager
	Batchers *batch.Batchers
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
}

// New assembles a Hub from its dependencies.
func New(d Deps, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:          d.Config,
		instanceID:   d.Config.InstanceID,
		logger:       logger,
		port:         d.Port,
		rooms:        d.Rooms,
		batchers:     d.Batchers,
		limiter:      d.Limiter,
		tokenBuckets: ratelimit.NewBuckets(),
		metrics:      d.Metrics,
		sessions:     make(map[string]*session),
		roomSubs:     make(map[string]map[string]*session),
		unsubs:       make(map[string]func()),
	}
}

func (h *Hub) newUserID() string     { return idgen.UserID() }
func (h *Hub) newReactionID() string { return idgen.ReactionID() }

func (h *Hub) geo(timezone string) geo.Info { return geo.Lookup(timezone) }

// Accept registers and runs a freshly-upgraded session. Blocks until the
// session's connection closes or ctx is cancelled.
func (h *Hub) Accept(ctx context.Context, s *session, timezone, roomID string) {
	h.metrics.ConnectionsTotal.Inc()
	h.metrics.ConnectionsActive.Inc()
	defer h.metrics.ConnectionsActive.Dec()

	s.run(ctx, timezone, roomID)
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.userID)
}

// subscribeSession adds s to roomID's local delivery index, subscribing
// the room's pub/sub channel on this instance the first time anyone
// joins it here.
func (h *Hub) subscribeSession(roomID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s.userID] = s

	byUser, ok := h.roomSubs[roomID]
	if !ok {
		byUser = make(map[string]*session)
		h.roomSubs[roomID] = byUser
	}
	byUser[s.userID] = s

	if _, subscribed := h.unsubs[roomID]; subscribed {
		return
	}

	unsub, err := h.port.Subscribe(context.Background(), roomChannel(roomID), func(payload []byte) {
		h.deliverLocal(roomID, payload)
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("room", roomID).Msg("failed to subscribe to room channel")
		return
	}
	h.unsubs[roomID] = unsub
}

func (h *Hub) unsubscribeSession(roomID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byUser, ok := h.roomSubs[roomID]
	if !ok {
		return
	}
	delete(byUser, s.userID)
	if len(byUser) > 0 {
		return
	}

	delete(h.roomSubs, roomID)
	if unsub, ok := h.unsubs[roomID]; ok {
		unsub()
		delete(h.unsubs, roomID)
	}
}

// deliverLocal fans a raw broadcast payload out to every session this
// instance has joined to roomID. Invoked from the port's Subscribe
// callback, so it runs regardless of which instance originally
// published — this is the cross-instance fan-out spec.md §4.5 requires.
func (h *Hub) deliverLocal(roomID string, payload []byte) {
	h.mu.RLock()
	byUser := h.roomSubs[roomID]
	targets := make([]*session, 0, len(byUser))
	for _, s := range byUser {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.send <- payload:
		default:
			h.logger.Warn().Str("user", s.userID).Str("room", roomID).Msg("send buffer full, dropping broadcast")
		}
	}
}

// broadcastRoom publishes e to roomID's channel. Every instance with a
// local subscriber (including this one, via deliverLocal) receives and
// fans it out.
func (h *Hub) broadcastRoom(ctx context.Context, roomID string, e envelope) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", e.Type).Msg("failed to marshal broadcast")
		return
	}
	if err := h.port.Publish(ctx, roomChannel(roomID), data); err != nil {
		h.logger.Warn().Err(err).Str("room", roomID).Msg("failed to publish broadcast")
	}
}

// broadcastUsersList re-announces the full membership of roomID, called
// after any join/leave per spec.md §4.5.
func (h *Hub) broadcastUsersList(ctx context.Context, roomID string) {
	users := h.rooms.GetRoomUsers(ctx, roomID)
	list := make([]room.User, 0, len(users))
	for _, u := range users {
		list = append(list, u)
	}
	h.broadcastRoom(ctx, roomID, msg(evUsersList, usersListPayload{Users: list}))
}

// FlushCursorBatches and FlushReactionBatches are invoked by the periodic
// drivers (spec.md §4.7) to emit accumulated batches as room broadcasts.
func (h *Hub) FlushCursorBatches(ctx context.Context) {
	for _, f := range h.batchers.FlushCursors() {
		h.metrics.CursorBatchSize.Observe(float64(len(f.Cursors)))
		h.metrics.BatchFlushes.WithLabelValues("cursor").Inc()
		h.broadcastRoom(ctx, f.RoomID, msg(evCursorsBatch, cursorsBatchPayload{RoomID: f.RoomID, Cursors: f.Cursors}))
	}
}

func (h *Hub) FlushReactionBatches(ctx context.Context) {
	for _, f := range h.batchers.FlushReactions() {
		h.metrics.ReactionBatchSize.Observe(float64(len(f.Reactions)))
		h.metrics.BatchFlushes.WithLabelValues("reaction").Inc()
		h.broadcastRoom(ctx, f.RoomID, msg(evReactionBatch, reactionsBatchPayload{RoomID: f.RoomID, Reactions: f.Reactions}))
	}
}

// TickVideo advances the authoritative video state for every room this
// instance currently has sessions in, per spec.md §4.7's 500ms
// authoritative tick, and broadcasts it for the rooms that are playing.
// Paused rooms are not broadcast.
func (h *Hub) TickVideo(ctx context.Context) {
	h.mu.RLock()
	roomIDs := make([]string, 0, len(h.roomSubs))
	for roomID := range h.roomSubs {
		roomIDs = append(roomIDs, roomID)
	}
	h.mu.RUnlock()

	for _, roomID := range roomIDs {
		vs, err := h.rooms.UpdateVideoTime(ctx, roomID)
		if err != nil {
			h.logger.Warn().Err(err).Str("room", roomID).Msg("failed to advance video time")
			continue
		}
		if !vs.IsPlaying {
			continue
		}
		h.broadcastRoom(ctx, roomID, msg(evVideoState, videoStatePayload{VideoState: vs}))
	}
}

// BroadcastServerTime sends a coarse server:time message to every room
// this instance has sessions in, per spec.md §4.7's 1s server-time
// broadcast for client-side sanity checks.
func (h *Hub) BroadcastServerTime(ctx context.Context) {
	h.mu.RLock()
	roomIDs := make([]string, 0, len(h.roomSubs))
	for roomID := range h.roomSubs {
		roomIDs = append(roomIDs, roomID)
	}
	h.mu.RUnlock()

	now := serverTimePayload{ServerTime: timeNowMillis()}
	for _, roomID := range roomIDs {
		h.broadcastRoom(ctx, roomID, msg(evServerTime, now))
	}
}

// ReapEmptyRooms runs the 60s empty-room sweep from spec.md §4.7.
func (h *Hub) ReapEmptyRooms(ctx context.Context) {
	reaped := h.rooms.CleanupEmptyRooms(ctx, h.cfg.EmptyRoomMinAge)
	for range reaped {
		h.metrics.RoomsReaped.Inc()
	}
	if len(reaped) > 0 {
		h.logger.Info().Strs("rooms", reaped).Msg("reaped empty rooms")
	}
}

// RoomCount reports how many rooms are known to this instance, for the
// /health response.
func (h *Hub) RoomCount(ctx context.Context) int {
	return len(h.rooms.GetAllRooms(ctx))
}

// SessionCount reports the number of sessions registered on this
// instance.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every session registered on this instance and flushes
// any pending cursor/reaction batches, per spec.md §5's shutdown sequence
// (stop accepting new sessions, close existing sessions, flush pending
// batches, close the KV port, exit). Mirrors the teacher's
// pkg/websocket/hub.go Shutdown, which closes every client connection
// before returning. Closing each connection unblocks its session's read
// pump, which drives the normal teardown path (room leave, user:left
// broadcast, unregister) on its own goroutine.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.conn.Close()
	}

	h.FlushCursorBatches(ctx)
	h.FlushReactionBatches(ctx)
}
