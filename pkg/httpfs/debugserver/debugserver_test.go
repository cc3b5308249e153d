package debugserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/xrdhttp/curlfs/pkg/httpfs"
	"github.com/xrdhttp/curlfs/pkg/httpfs/debugserver"
)

func TestStatsSnapshot(t *testing.T) {
	hub := debugserver.NewHub()
	hub.OperationStarted("GET")
	hub.OperationSucceeded("GET", 10*time.Millisecond)
	hub.OperationFailed("PUT", httpfs.KindNotFound)

	srv := httptest.NewServer(hub.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap debugserver.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, int64(1), snap.Started)
	require.Equal(t, int64(1), snap.Succeeded)
	require.Equal(t, int64(1), snap.Failed)
}

func TestStreamBroadcastsEvents(t *testing.T) {
	hub := debugserver.NewHub()
	srv := httptest.NewServer(hub.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to register the subscriber before we publish.
	time.Sleep(50 * time.Millisecond)
	hub.OperationSucceeded("GET", 5*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt debugserver.Event
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, "GET", evt.Verb)
	require.True(t, evt.Succeeded)
}
