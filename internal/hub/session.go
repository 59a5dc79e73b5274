package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"odin-ws-server/internal/room"
)

// Connection lifecycle constants, adapted from the teacher's
// pkg/websocket/client.go: write deadline, max frame size, and send
// buffer length. The ping interval and pong timeout (spec.md §5: ping
// ~25s / timeout ~60s) are not constants here; the hub wires them from
// config.
const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// state is the session lifecycle from spec.md §4.5.
type state int

const (
	stateConnected state = iota
	stateIdentified
	stateJoined
	stateLeaving
	stateClosed
)

// session is a single client connection's owned state: the socket, the
// assigned user record, and the current room. Per spec.md §9's design
// note, the session is the sole owner of its connection; the room
// manager only holds a serialized User record.
type session struct {
	conn *websocket.Conn
	send chan []byte

	userID      string
	user        room.User
	currentRoom string

	mu    sync.Mutex
	state state

	hub    *Hub
	logger zerolog.Logger

	pingInterval time.Duration
	pongTimeout  time.Duration
}

func newSession(conn *websocket.Conn, h *Hub, logger zerolog.Logger) *session {
	return &session{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		state:        stateConnected,
		hub:          h,
		logger:       logger,
		pingInterval: h.cfg.PingInterval,
		pongTimeout:  h.cfg.PongTimeout,
	}
}

func (s *session) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) getState() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enqueue delivers an outbound envelope to this session's send buffer,
// dropping the message (and logging it) if the buffer is full rather
// than blocking the writer pump, matching the teacher's client.go
// "send channel full" handling.
func (s *session) enqueue(e envelope) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn().Err(err).Str("type", e.Type).Msg("failed to marshal outbound message")
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn().Str("user", s.userID).Str("type", e.Type).Msg("send buffer full, dropping message")
	}
}

// run drives the session for its whole lifetime: identify, join, read
// pump, write pump, and the teardown path on exit. It blocks until the
// connection closes or ctx is cancelled by the server's shutdown.
func (s *session) run(ctx context.Context, timezone, roomID string) {
	defer s.teardown()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	s.identify(ctx, timezone)
	if err := s.join(ctx, roomID); err != nil {
		s.logger.Warn().Err(err).Str("room", roomID).Msg("failed to join room on connect")
		return
	}

	readErrs := make(chan error, 1)
	inbound := make(chan []byte, sendBuffer)
	go s.readPump(inbound, readErrs)

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			s.hub.metrics.MessagesSent.Inc()
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data := <-inbound:
			s.hub.metrics.MessagesReceived.Inc()
			s.hub.dispatch(ctx, s, data)
		case err := <-readErrs:
			if err != nil {
				return
			}
		}
	}
}

func (s *session) readPump(inbound chan<- []byte, errs chan<- error) {
	defer close(errs)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		select {
		case inbound <- data:
		default:
			s.logger.Warn().Str("user", s.userID).Msg("inbound channel full, dropping message")
		}
	}
}

// identify performs CONNECTED -> IDENTIFIED: assign a user id, derive
// presence metadata from the timezone hint, and announce it to self.
func (s *session) identify(ctx context.Context, timezone string) {
	now := time.Now().UnixMilli()
	info := s.hub.geo(timezone)

	s.userID = s.hub.newUserID()
	s.user = room.User{
		ID:          s.userID,
		City:        info.City,
		Timezone:    timezone,
		Flag:        info.Flag,
		ConnectedAt: now,
		LastSeen:    now,
		Instance:    s.hub.instanceID,
	}
	s.setState(stateIdentified)

	s.enqueue(msg(evUserSelf, userSelfPayload{
		UserID:   s.user.ID,
		City:     s.user.City,
		Flag:     s.user.Flag,
		Timezone: s.user.Timezone,
	}))
}

// join performs IDENTIFIED -> JOINED (or JOINED -> JOINED on a later
// room:join): leave any current room, then join targetRoom, per spec.md
// §4.5.
func (s *session) join(ctx context.Context, targetRoom string) error {
	if s.currentRoom != "" {
		s.leaveCurrentRoom(ctx)
	}

	if targetRoom == "" {
		targetRoom = s.hub.rooms.LobbyID()
	}

	if _, err := s.hub.rooms.CreateRoom(ctx, targetRoom, s.userID, room.CreateOptions{}); err != nil {
		return err
	}
	if err := s.hub.rooms.AddUserToRoom(ctx, targetRoom, s.user); err != nil {
		return err
	}

	s.currentRoom = targetRoom
	s.setState(stateJoined)
	s.hub.subscribeSession(targetRoom, s)

	r, _ := s.hub.rooms.GetRoom(ctx, targetRoom)
	vs := s.hub.rooms.GetVideoState(ctx, targetRoom)
	users := s.hub.rooms.GetRoomUsers(ctx, targetRoom)

	userList := make([]room.User, 0, len(users))
	for _, u := range users {
		userList = append(userList, u)
	}

	s.enqueue(msg(evRoomJoined, roomJoinedPayload{
		RoomID:     targetRoom,
		Room:       r,
		VideoState: vs,
		Users:      userList,
	}))

	s.hub.broadcastRoom(ctx, targetRoom, msg(evUserJoined, userJoinedPayload{User: s.user}))
	s.hub.broadcastUsersList(ctx, targetRoom)
	return nil
}

// leaveCurrentRoom performs the JOINED -> LEAVING half of a room switch
// or disconnect: remove membership and cursor, announce departure.
func (s *session) leaveCurrentRoom(ctx context.Context) {
	if s.currentRoom == "" {
		return
	}
	roomID := s.currentRoom

	s.hub.rooms.RemoveUserFromRoom(ctx, roomID, s.userID)
	s.hub.unsubscribeSession(roomID, s)
	s.hub.broadcastRoom(ctx, roomID, msg(evUserLeft, userLeftPayload{UserID: s.userID}))
	s.hub.broadcastUsersList(ctx, roomID)

	s.currentRoom = ""
}

// teardown runs the LEAVING -> CLOSED path: leave the room, close the
// socket, and unregister from the hub. Runs once, from a deferred call
// in run, regardless of why the session ended.
func (s *session) teardown() {
	s.setState(stateLeaving)
	ctx := context.Background()

	s.leaveCurrentRoom(ctx)
	s.hub.tokenBuckets.Remove(s.userID)
	s.hub.unregister(s)

	s.conn.Close()
	s.setState(stateClosed)
}
