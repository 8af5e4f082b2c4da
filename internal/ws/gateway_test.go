package ws

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easel-labs/easel/backend/internal/engine"
	"github.com/easel-labs/easel/backend/internal/metrics"
	"github.com/easel-labs/easel/backend/internal/presence"
	"github.com/easel-labs/easel/backend/internal/ratelimit"
	"github.com/easel-labs/easel/backend/internal/room"
)

func setupGateway(t *testing.T, wsMax int, grace time.Duration) (*room.Registry, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	limiter := ratelimit.NewSlidingWindow(wsMax, time.Minute)
	t.Cleanup(limiter.Stop)

	relay := engine.NewRelay(nil, logger)
	registry := room.NewRegistry(relay, nil, logger, grace)
	tracker := presence.NewTracker(registry, logger, presence.DefaultConfig())
	registry.SetOccupancy(tracker.HasUsers)

	gateway := NewGateway(limiter, registry, tracker, logger, time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(gateway.ServeWS))
	t.Cleanup(srv.Close)

	return registry, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readActiveUsers(t *testing.T, conn *websocket.Conn) presence.ActiveUsersMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg presence.ActiveUsersMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, presence.MessageActiveUsers, msg.Type)
	return msg
}

func userNames(msg presence.ActiveUsersMessage) []string {
	names := make([]string, len(msg.Users))
	for i, u := range msg.Users {
		names[i] = u.UserName
	}
	return names
}

func TestPresenceLifecycleEndToEnd(t *testing.T) {
	registry, srv := setupGateway(t, 100, 50*time.Millisecond)

	alice := dial(t, srv, "?room=AB12&type=awareness&username=Alice")
	defer alice.Close()

	msg := readActiveUsers(t, alice)
	assert.Equal(t, []string{"Alice"}, userNames(msg))
	assert.True(t, registry.Exists("AB12"))

	bob := dial(t, srv, "?room=AB12&type=awareness&username=Bob")

	msg = readActiveUsers(t, bob)
	assert.ElementsMatch(t, []string{"Alice", "Bob"}, userNames(msg))

	msg = readActiveUsers(t, alice)
	assert.Equal(t, []string{"Alice", "Bob"}, userNames(msg))

	bob.Close()

	msg = readActiveUsers(t, alice)
	assert.Equal(t, []string{"Alice"}, userNames(msg))
	assert.True(t, registry.Exists("AB12"))

	alice.Close()

	require.Eventually(t, func() bool {
		return !registry.Exists("AB12")
	}, 2*time.Second, 10*time.Millisecond, "room should be torn down after grace period")
}

func TestMissingRoomCodeRejected(t *testing.T) {
	_, srv := setupGateway(t, 100, time.Minute)

	conn := dial(t, srv, "?type=awareness")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected close 1000, got %v", err)
}

func TestUpgradeRateLimited(t *testing.T) {
	_, srv := setupGateway(t, 1, time.Minute)

	first := dial(t, srv, "?room=AB12&type=awareness")
	defer first.Close()
	readActiveUsers(t, first)

	second := dial(t, srv, "?room=AB12&type=awareness")
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected close 1008, got %v", err)
}

func TestSyncPathRelaysOpaqueFrames(t *testing.T) {
	_, srv := setupGateway(t, 100, time.Minute)

	a := dial(t, srv, "?room=S1")
	defer a.Close()
	b := dial(t, srv, "?room=S1")
	defer b.Close()

	// Give the second client time to attach before broadcasting
	time.Sleep(50 * time.Millisecond)

	// Garbage is dropped, valid frames relayed
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte{9, 9}))
	update := []byte{0, 2, 7, 7}
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, update))

	b.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, update, data)

	// Late joiners catch up from the stored update log
	late := dial(t, srv, "?room=S1")
	defer late.Close()

	late.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err = late.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, update, data)
}

func TestActiveConnectionsGaugeBalanced(t *testing.T) {
	_, srv := setupGateway(t, 100, time.Minute)

	baseline := testutil.ToFloat64(metrics.ActiveConnections)

	conn := dial(t, srv, "?room=AB12&type=awareness&username=Alice")
	readActiveUsers(t, conn)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveConnections) == baseline+1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveConnections) == baseline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresenceLivenessAckAccepted(t *testing.T) {
	registry, srv := setupGateway(t, 100, time.Minute)

	conn := dial(t, srv, "?room=AB12&type=awareness&username=Alice")
	defer conn.Close()
	readActiveUsers(t, conn)

	// Liveness acks and junk frames are both absorbed without closing
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, registry.Exists("AB12"))
}
