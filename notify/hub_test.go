/*
hub_test.go - End-to-end tests for the websocket hub

Dials real websocket connections against an httptest server and
asserts the wire frames that browsers consume.
*/
package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovale/seedlot-engine/ledger"
	"github.com/agrovale/seedlot-engine/notify"
)

func newTestHub(t *testing.T) (*notify.Hub, *websocket.Conn) {
	t.Helper()

	hub := notify.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond, "client should register")
	return hub, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func TestDataChanged_BroadcastsUpdateFrame(t *testing.T) {
	hub, conn := newTestHub(t)

	// WHEN: a collection changes
	hub.DataChanged(ledger.KindLots)

	// THEN: the client receives a data:update frame naming it
	frame := readFrame(t, conn)
	assert.Equal(t, "data:update", frame["type"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, string(ledger.KindLots), data["type"])
	assert.NotEmpty(t, data["ts"])
}

func TestAlarm_CarriesMessageAndEvent(t *testing.T) {
	hub, conn := newTestHub(t)

	ev := ledger.AuditEvent{
		ID:     "ev-1",
		When:   time.Date(2025, 8, 12, 14, 30, 0, 0, time.UTC),
		By:     "maria",
		Entity: "movement",
		Action: "create",
		RefID:  "mov-1",
	}
	hub.Alarm(ev)

	frame := readFrame(t, conn)
	assert.Equal(t, "alarm", frame["type"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "[2025-08-12 14:30:00] maria create movement (mov-1)", data["message"])
	event := data["event"].(map[string]any)
	assert.Equal(t, "maria", event["by"])
	assert.Equal(t, "movement", event["entity"])
}

func TestHub_DisconnectedClientIsDropped(t *testing.T) {
	hub, conn := newTestHub(t)

	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 5*time.Millisecond, "closed client should unregister")
}

func TestHub_FanOutToMultipleClients(t *testing.T) {
	hub := notify.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		conns[i] = c
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 },
		time.Second, 5*time.Millisecond)

	hub.DataChanged(ledger.KindMovements)

	for _, c := range conns {
		frame := readFrame(t, c)
		assert.Equal(t, "data:update", frame["type"])
	}
}
