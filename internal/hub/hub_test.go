package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odin-ws-server/internal/batch"
	"odin-ws-server/internal/config"
	"odin-ws-server/internal/kvstore"
	"odin-ws-server/internal/metrics"
	"odin-ws-server/internal/ratelimit"
	"odin-ws-server/internal/room"
)

// sharedMetrics is built once: promauto registers collectors on the
// global Prometheus registry, and a second New() in the same test binary
// would panic on a duplicate registration.
var (
	sharedMetrics     *metrics.Metrics
	sharedMetricsOnce sync.Once
)

func testMetrics() *metrics.Metrics {
	sharedMetricsOnce.Do(func() { sharedMetrics = metrics.New() })
	return sharedMetrics
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	port := kvstore.NewLocalPort()
	rooms := room.New(port, room.Config{}, zerolog.Nop())

	return New(Deps{
		Config:   config.Config{InstanceID: "test"},
		Port:     port,
		Rooms:    rooms,
		Batchers: batch.New(),
		Limiter:  ratelimit.New(port),
		Metrics:  testMetrics(),
	}, zerolog.Nop())
}

func TestMsgMarshalsEnvelope(t *testing.T) {
	e := msg(evUserSelf, userSelfPayload{UserID: "u1", City: "Berlin"})
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, evUserSelf, decoded["type"])
}

func TestRoomChannelIsPerRoom(t *testing.T) {
	assert.NotEqual(t, roomChannel("r1"), roomChannel("r2"))
}

func TestHubRoomCountReflectsRoomManager(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	assert.Equal(t, 0, h.RoomCount(ctx))
	_, err := h.rooms.CreateRoom(ctx, "r1", "system", room.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.RoomCount(ctx))
}

func TestHubSessionCountStartsAtZero(t *testing.T) {
	h := newTestHub(t)
	assert.Equal(t, 0, h.SessionCount())
}

func TestFlushCursorBatchesPublishesOnlyNonEmpty(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	_, err := h.port.Subscribe(ctx, roomChannel("r1"), func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	h.FlushCursorBatches(ctx) // nothing enqueued: must not publish
	select {
	case <-received:
		t.Fatal("should not publish an empty batch")
	default:
	}

	h.batchers.EnqueueCursor("r1", room.Cursor{UserID: "u1", X: 5})
	h.FlushCursorBatches(ctx)

	select {
	case payload := <-received:
		var e envelope
		require.NoError(t, json.Unmarshal(payload, &e))
		assert.Equal(t, evCursorsBatch, e.Type)
	default:
		t.Fatal("expected a published cursor batch")
	}
}

func TestReapEmptyRoomsLeavesLobbyAlone(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	require.NoError(t, h.rooms.EnsureDefaultRoom(ctx))
	h.ReapEmptyRooms(ctx)

	_, ok := h.rooms.GetRoom(ctx, h.rooms.LobbyID())
	assert.True(t, ok)
}

// serverSideConn upgrades an incoming test request to a websocket and
// hands the server-side *websocket.Conn back over the returned channel,
// mirroring the real upgrade in server.go's handleWebSocket.
func serverSideConn(t *testing.T) (*websocket.Conn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	conn := <-connCh
	return conn, func() {
		client.Close()
		srv.Close()
	}
}

func TestHubShutdownClosesSessionsAndFlushesBatches(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	conn, cleanup := serverSideConn(t)
	defer cleanup()

	s := newSession(conn, h, zerolog.Nop())
	s.userID = "u1"
	h.subscribeSession("r1", s)
	require.Equal(t, 1, h.SessionCount())

	h.batchers.EnqueueCursor("r1", room.Cursor{UserID: "u1", X: 5})

	received := make(chan []byte, 1)
	_, err := h.port.Subscribe(ctx, roomChannel("r1"), func(payload []byte) {
		received <- payload
	})
	require.NoError(t, err)

	h.Shutdown(ctx)

	// Shutdown closes the connection directly; WriteMessage on a closed
	// conn returns an error instead of blocking.
	assert.Error(t, conn.WriteMessage(websocket.TextMessage, []byte("after shutdown")))

	select {
	case payload := <-received:
		var e envelope
		require.NoError(t, json.Unmarshal(payload, &e))
		assert.Equal(t, evCursorsBatch, e.Type)
	default:
		t.Fatal("expected the pending cursor batch to be flushed on shutdown")
	}
}

func TestCheckRateLimitEmitsErrorOnDenial(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	s := &session{userID: "u1", send: make(chan []byte, 16), logger: zerolog.Nop(), hub: h}

	for i := 0; i < 5; i++ {
		assert.True(t, h.checkRateLimit(ctx, s, ratelimit.ActionReaction))
	}
	assert.False(t, h.checkRateLimit(ctx, s, ratelimit.ActionReaction))

	select {
	case data := <-s.send:
		var e envelope
		require.NoError(t, json.Unmarshal(data, &e))
		assert.Equal(t, evErrorRateLimit, e.Type)
	default:
		t.Fatal("expected an error:ratelimit message on denial")
	}
}
