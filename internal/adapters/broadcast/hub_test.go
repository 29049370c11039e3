package broadcast_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/posmon/internal/adapters/broadcast"
	"github.com/alejandrodnm/posmon/internal/domain"
)

type envelope struct {
	Type domain.EventType    `json:"type"`
	At   int64               `json:"at"`
	Data jsoniter.RawMessage `json:"data"`
}

func startHub(t *testing.T, origins ...string) (*broadcast.Hub, *httptest.Server) {
	t.Helper()
	hub := broadcast.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub.Handler(origins))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishReachesClient(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	hub.Publish(domain.Event{Type: domain.EventPrices, At: at, Data: map[string]float64{"BBCA": 9125}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, jsoniter.Unmarshal(raw, &env))
	assert.Equal(t, domain.EventPrices, env.Type)
	assert.Equal(t, at.UnixMilli(), env.At)

	var prices map[string]float64
	require.NoError(t, jsoniter.Unmarshal(env.Data, &prices))
	assert.InDelta(t, 9125, prices["BBCA"], 1e-9)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, nil)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := broadcast.NewHub() // sin Run: nadie drena la cola

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(domain.Event{Type: domain.EventHeartbeat, At: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}
	assert.Positive(t, hub.Dropped())
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	_, srv := startHub(t, "https://dashboard.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, srv, http.Header{"Origin": {"https://dashboard.example.com"}})
	assert.NotNil(t, conn)
}
