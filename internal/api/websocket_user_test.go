package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/internal/events"
)

// fakeClient registers a socketless client whose send channel the test reads
func fakeClient(hub *UserWSHub, userID string) *UserWSClient {
	client := &UserWSClient{
		send:      make(chan []byte, 4),
		hub:       hub,
		userID:    userID,
		closeChan: make(chan struct{}),
	}
	hub.register <- client
	return client
}

func receive(t *testing.T, client *UserWSClient) events.Event {
	t.Helper()
	select {
	case data, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		var e events.Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	return events.Event{}
}

func assertNothing(t *testing.T, client *UserWSClient) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUserWSHub_RoutesByUser(t *testing.T) {
	hub := NewUserWSHub(zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	alice := fakeClient(hub, "alice")
	aliceTab := fakeClient(hub, "alice")
	bob := fakeClient(hub, "bob")

	require.Eventually(t, func() bool { return hub.GetTotalClientCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.GetUserClientCount("alice"))
	assert.ElementsMatch(t, []string{"alice", "bob"}, hub.GetConnectedUsers())

	hub.BroadcastToUser("alice", events.Event{Type: events.EventUsageRecorded, UserID: "alice"})
	assert.Equal(t, events.EventUsageRecorded, receive(t, alice).Type)
	assert.Equal(t, events.EventUsageRecorded, receive(t, aliceTab).Type)
	assertNothing(t, bob)

	hub.BroadcastToAll(events.Event{Type: events.EventMaintenanceCompleted})
	assert.Equal(t, events.EventMaintenanceCompleted, receive(t, alice).Type)
	assert.Equal(t, events.EventMaintenanceCompleted, receive(t, bob).Type)
}

func TestUserWSHub_UnregisterForgetsUser(t *testing.T) {
	hub := NewUserWSHub(zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	client := fakeClient(hub, "alice")
	hub.unregister <- client

	require.Eventually(t, func() bool { return hub.GetTotalClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, hub.GetConnectedUsers())
	_, open := <-client.send
	assert.False(t, open)
}

func TestUserWSHub_DropsSlowClient(t *testing.T) {
	hub := NewUserWSHub(zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	slow := fakeClient(hub, "alice")
	for i := 0; i < cap(slow.send)+1; i++ {
		hub.BroadcastToUser("alice", events.Event{Type: events.EventUsageRecorded, UserID: "alice"})
	}

	require.Eventually(t, func() bool { return hub.GetUserClientCount("alice") == 0 }, time.Second, 5*time.Millisecond)
}

func TestUserWSHub_AttachRelaysBusEvents(t *testing.T) {
	hub := NewUserWSHub(zerolog.Nop())
	go hub.Run()
	defer hub.Stop()

	bus := events.NewEventBus()
	hub.Attach(bus)
	alice := fakeClient(hub, "alice")
	bob := fakeClient(hub, "bob")
	require.Eventually(t, func() bool { return hub.GetTotalClientCount() == 2 }, time.Second, 5*time.Millisecond)

	bus.PublishSettingsUpdated("alice", "limits")
	bus.Wait()

	e := receive(t, alice)
	assert.Equal(t, events.EventSettingsUpdated, e.Type)
	assert.Equal(t, "limits", e.Data["section"])
	assertNothing(t, bob)
}

func TestUserWebSocket_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	token, userID := env.register(t, "ws@example.com")

	go env.server.Hub().Run()
	defer env.server.Hub().Stop()

	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/user?token=" + token

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/user", nil)
	require.Error(t, err, "upgrade without a token must fail")
	if resp != nil {
		assert.Equal(t, 401, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "CONNECTED", welcome["type"])
	assert.Equal(t, userID, welcome["user_id"])

	require.Eventually(t, func() bool { return env.server.Hub().GetUserClientCount(userID) == 1 }, time.Second, 5*time.Millisecond)

	w := env.do(t, "POST", "/api/bot/start", token, nil)
	require.Equal(t, 200, w.Code, w.Body.String())

	// skip anything still in flight from registration
	var e events.Event
	for e.Type != events.EventBotStatusChanged {
		require.NoError(t, conn.ReadJSON(&e))
	}
	assert.Equal(t, userID, e.UserID)
}
