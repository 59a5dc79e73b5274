// Package hub implements the session layer from spec.md §4.5: connection
// lifecycle, the CONNECTED→IDENTIFIED→JOINED→LEAVING→CLOSED state
// machine, inbound message dispatch, and outbound room broadcast, wired
// through the room manager, batchers, and rate limiter.
package hub

import (
	"encoding/json"

	"odin-ws-server/internal/room"
)

// inbound/outbound event names. A typed sum replaces the teacher's
// string-keyed MessageType dispatch, per spec.md §9's "dynamic
// callback/event dispatch" design note.
const (
	evUserSelf      = "user:self"
	evRoomJoined    = "room:joined"
	evUserJoined    = "user:joined"
	evUserLeft      = "user:left"
	evUsersList     = "users:list"
	evRoomsList     = "rooms:list"
	evRoomJoin      = "room:join"
	evRoomLeave     = "room:leave"
	evTimeSync      = "time:sync"
	evTimeSyncResp  = "time:sync:response"
	evVideoPlay     = "video:play"
	evVideoPause    = "video:pause"
	evVideoSeek     = "video:seek"
	evVideoState    = "video:state"
	evCursorMove    = "cursor:move"
	evCursorsBatch  = "cursors:batch"
	evReactionSend  = "reaction:send"
	evReactionBatch = "reactions:batch"
	evHeartbeat     = "heartbeat"
	evErrorRateLimit = "error:ratelimit"
	evServerTime    = "server:time"
)

// envelope is the wire shape for every message in both directions: one
// event name and one payload value, per spec.md §6's wire protocol.
type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func msg(eventType string, payload interface{}) envelope {
	return envelope{Type: eventType, Payload: payload}
}

// inboundEnvelope is how a client message is first unmarshaled, before
// the payload is re-decoded into its concrete shape by the dispatcher.
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type userSelfPayload struct {
	UserID   string `json:"userId"`
	City     string `json:"city"`
	Flag     string `json:"flag"`
	Timezone string `json:"timezone"`
}

type roomJoinedPayload struct {
	RoomID     string               `json:"roomId"`
	Room       room.Room            `json:"room"`
	VideoState room.VideoState      `json:"videoState"`
	Users      []room.User          `json:"users"`
}

type userJoinedPayload struct {
	User room.User `json:"user"`
}

type userLeftPayload struct {
	UserID string `json:"userId"`
}

type usersListPayload struct {
	Users []room.User `json:"users"`
}

type roomSummary struct {
	room.Room
	UserCount int `json:"userCount"`
}

type roomsListPayload struct {
	Rooms []roomSummary `json:"rooms"`
}

type roomJoinRequest struct {
	RoomID string `json:"roomId"`
}

type timeSyncRequest struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
}

type timeSyncResponsePayload struct {
	ClientTimestamp   int64 `json:"clientTimestamp"`
	ServerReceiveTime int64 `json:"serverReceiveTime"`
	ServerSendTime    int64 `json:"serverSendTime"`
}

type videoSeekRequest struct {
	CurrentTime float64 `json:"currentTime"`
}

type videoStatePayload struct {
	room.VideoState
}

type cursorMoveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type cursorsBatchPayload struct {
	RoomID  string        `json:"roomId"`
	Cursors []room.Cursor `json:"cursors"`
}

type reactionSendRequest struct {
	Emoji     string  `json:"emoji"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VideoTime float64 `json:"videoTime"`
}

type reactionsBatchPayload struct {
	RoomID    string          `json:"roomId"`
	Reactions []room.Reaction `json:"reactions"`
}

type serverTimePayload struct {
	ServerTime int64 `json:"serverTime"`
}

type rateLimitErrorPayload struct {
	Action  string `json:"action"`
	RetryIn int64  `json:"retryIn"`
	Message string `json:"message"`
}
