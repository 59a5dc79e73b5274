package hub

import (
	"context"
	"encoding/json"
	"time"

	"odin-ws-server/internal/ratelimit"
	"odin-ws-server/internal/room"
	"odin-ws-server/internal/timesync"
)

// dispatch decodes one raw inbound frame and routes it to the matching
// handler, per the dispatch table in spec.md §4.5. Unknown actions are
// logged and dropped without client notification, per spec.md §7.
func (h *Hub) dispatch(ctx context.Context, s *session, raw []byte) {
	var in inboundEnvelope
	if err := json.Unmarshal(raw, &in); err != nil {
		h.logger.Debug().Err(err).Str("user", s.userID).Msg("failed to parse inbound message")
		return
	}

	switch in.Type {
	case evRoomJoin:
		h.handleRoomJoin(ctx, s, in.Payload)
	case evRoomLeave:
		h.handleRoomLeave(ctx, s)
	case evRoomsList:
		h.handleRoomsList(ctx, s)
	case evTimeSync:
		h.handleTimeSync(s, in.Payload)
	case evVideoPlay:
		h.handleVideoPlay(ctx, s, true)
	case evVideoPause:
		h.handleVideoPlay(ctx, s, false)
	case evVideoSeek:
		h.handleVideoSeek(ctx, s, in.Payload)
	case evCursorMove:
		h.handleCursorMove(ctx, s, in.Payload)
	case evReactionSend:
		h.handleReactionSend(ctx, s, in.Payload)
	case evHeartbeat:
		h.handleHeartbeat(ctx, s)
	default:
		h.logger.Debug().Str("type", in.Type).Str("user", s.userID).Msg("unknown inbound message type")
	}
}

// checkRateLimit runs the fixed-window limiter for action and, on
// denial, emits error:ratelimit to the originating session only, per
// spec.md §4.2 and §4.5.
func (h *Hub) checkRateLimit(ctx context.Context, s *session, action ratelimit.Action) bool {
	allowed, denial := h.limiter.Allow(ctx, action, s.userID)
	if allowed {
		return true
	}
	h.metrics.RateLimitDenials.WithLabelValues(string(action)).Inc()
	s.enqueue(msg(evErrorRateLimit, rateLimitErrorPayload{
		Action:  string(denial.Action),
		RetryIn: denial.RetryIn.Milliseconds(),
		Message: denial.Message,
	}))
	return false
}

func (h *Hub) handleRoomJoin(ctx context.Context, s *session, payload json.RawMessage) {
	if !h.checkRateLimit(ctx, s, ratelimit.ActionRoomJoin) {
		return
	}
	var req roomJoinRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomID == "" {
		return
	}
	if err := s.join(ctx, req.RoomID); err != nil {
		h.logger.Warn().Err(err).Str("room", req.RoomID).Str("user", s.userID).Msg("room:join failed")
	}
}

func (h *Hub) handleRoomLeave(ctx context.Context, s *session) {
	s.leaveCurrentRoom(ctx)
}

func (h *Hub) handleRoomsList(ctx context.Context, s *session) {
	rooms := h.rooms.GetAllRooms(ctx)
	summaries := make([]roomSummary, 0, len(rooms))
	for _, r := range rooms {
		summaries = append(summaries, roomSummary{
			Room:      r,
			UserCount: h.rooms.GetRoomUserCount(ctx, r.ID),
		})
	}
	s.enqueue(msg(evRoomsList, roomsListPayload{Rooms: summaries}))
}

// handleTimeSync implements the getSyncedTime contract from spec.md §8:
// no rate limiting, no state, delegates to the shared timesync package.
func (h *Hub) handleTimeSync(s *session, payload json.RawMessage) {
	var req timeSyncRequest
	_ = json.Unmarshal(payload, &req)

	ex := timesync.Handle(req.ClientTimestamp)
	s.enqueue(msg(evTimeSyncResp, timeSyncResponsePayload{
		ClientTimestamp:   ex.ClientSendTime,
		ServerReceiveTime: ex.ServerReceiveTime,
		ServerSendTime:    ex.ServerSendTime,
	}))
}

func (h *Hub) handleVideoPlay(ctx context.Context, s *session, playing bool) {
	if s.currentRoom == "" {
		return
	}
	if !h.checkRateLimit(ctx, s, ratelimit.ActionVideoControl) {
		return
	}

	// updateVideoTime first, so currentTime reflects elapsed playback
	// before the play/pause flag flips, per spec.md §4.3's state table.
	if _, err := h.rooms.UpdateVideoTime(ctx, s.currentRoom); err != nil {
		h.logger.Warn().Err(err).Str("room", s.currentRoom).Msg("failed to update video time")
		return
	}

	vs, err := h.rooms.SetVideoState(ctx, s.currentRoom, room.VideoStatePartial{IsPlaying: &playing})
	if err != nil {
		h.logger.Warn().Err(err).Str("room", s.currentRoom).Msg("failed to set video state")
		return
	}
	h.broadcastRoom(ctx, s.currentRoom, msg(evVideoState, videoStatePayload{VideoState: vs}))
}

func (h *Hub) handleVideoSeek(ctx context.Context, s *session, payload json.RawMessage) {
	if s.currentRoom == "" {
		return
	}
	if !h.checkRateLimit(ctx, s, ratelimit.ActionVideoControl) {
		return
	}
	var req videoSeekRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	vs, err := h.rooms.Seek(ctx, s.currentRoom, req.CurrentTime)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", s.currentRoom).Msg("failed to seek video")
		return
	}
	h.broadcastRoom(ctx, s.currentRoom, msg(evVideoState, videoStatePayload{VideoState: vs}))
}

func (h *Hub) handleCursorMove(ctx context.Context, s *session, payload json.RawMessage) {
	if s.currentRoom == "" {
		return
	}
	if !h.checkRateLimit(ctx, s, ratelimit.ActionCursor) {
		return
	}
	var req cursorMoveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}

	c := room.Cursor{
		UserID:    s.userID,
		City:      s.user.City,
		Flag:      s.user.Flag,
		X:         req.X,
		Y:         req.Y,
		Timestamp: time.Now().UnixMilli(),
	}

	h.batchers.EnqueueCursor(s.currentRoom, c)
	if err := h.rooms.UpdateCursor(ctx, s.currentRoom, s.userID, c); err != nil {
		h.logger.Warn().Err(err).Str("room", s.currentRoom).Msg("failed to persist cursor")
	}
}

func (h *Hub) handleReactionSend(ctx context.Context, s *session, payload json.RawMessage) {
	if s.currentRoom == "" {
		return
	}
	if !h.checkRateLimit(ctx, s, ratelimit.ActionReaction) {
		return
	}
	var req reactionSendRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}

	r := room.Reaction{
		ID:        h.newReactionID(),
		UserID:    s.userID,
		City:      s.user.City,
		Flag:      s.user.Flag,
		Emoji:     req.Emoji,
		X:         req.X,
		Y:         req.Y,
		VideoTime: req.VideoTime,
		Timestamp: time.Now().UnixMilli(),
	}
	h.batchers.EnqueueReaction(s.currentRoom, r)
}

func (h *Hub) handleHeartbeat(ctx context.Context, s *session) {
	s.user.LastSeen = time.Now().UnixMilli()
	if s.currentRoom == "" {
		return
	}
	if err := h.rooms.AddUserToRoom(ctx, s.currentRoom, s.user); err != nil {
		h.logger.Warn().Err(err).Str("room", s.currentRoom).Msg("failed to refresh heartbeat")
	}
}
