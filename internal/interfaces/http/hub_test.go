package http

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/agent"
)

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_BroadcastsCycleReports(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	sent := agent.CycleReport{Sequence: 3, Account: "paper", Equity: 10050, Submitted: 2}
	hub.OnCycle(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)

	var received agent.CycleReport
	require.NoError(t, json.Unmarshal(data, &received))
	assert.Equal(t, 3, received.Sequence)
	assert.Equal(t, 10050.0, received.Equity)
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	first := dialHub(t, ts)
	defer first.Close()
	second := dialHub(t, ts)
	defer second.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.OnCycle(agent.CycleReport{Sequence: 1})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), `"sequence":1`)
	}
}

func TestHub_DropsClosedClients(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// broadcasting to nobody is fine
	hub.OnCycle(agent.CycleReport{Sequence: 2})
}

func TestHub_ThroughServerRoute(t *testing.T) {
	hub := NewHub()
	server := New(DefaultConfig(), Deps{Hub: hub})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/cycles"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.OnCycle(agent.CycleReport{Sequence: 11, Account: "paper"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sequence":11`)
}
