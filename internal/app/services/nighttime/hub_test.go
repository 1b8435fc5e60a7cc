package nighttime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"

	nightdom "github.com/arbiterfabric/cogrt/internal/app/domain/nighttime"
)

func TestHub_BroadcastsProgressEventToConnectedClient(t *testing.T) {
	h := newHub(logging.Default())
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.clientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.broadcast(nightdom.ProgressEvent{Kind: nightdom.EventSessionStarted, Session: "nightly"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev nightdom.ProgressEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, nightdom.EventSessionStarted, ev.Kind)
	require.Equal(t, "nightly", ev.Session)
}

func TestHub_ClientCountDropsAfterDisconnect(t *testing.T) {
	h := newHub(logging.Default())
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.clientCount() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return h.clientCount() == 0 }, time.Second, 5*time.Millisecond)
}
