package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	go h.Run(ctx)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func TestHub_LateClientReceivesLatestPerTopic(t *testing.T) {
	h, srv := newTestHub(t)

	h.Publish(TopicProcessing, map[string]string{"state": "stopped"})
	h.Publish(TopicRegistration, map[string]string{"status": "offline"})
	h.Publish(TopicProcessing, map[string]string{"state": "started"})

	// The hub applies publishes in order; give Run a moment before connecting.
	time.Sleep(50 * time.Millisecond)
	conn := dial(t, srv)

	first := read(t, conn)
	require.Equal(t, TopicProcessing, first.Topic)
	require.JSONEq(t, `{"state":"started"}`, string(first.Data))

	second := read(t, conn)
	require.Equal(t, TopicRegistration, second.Topic)
}

func TestHub_ForwardDeliversInOrder(t *testing.T) {
	h, srv := newTestHub(t)
	conn := dial(t, srv)
	time.Sleep(50 * time.Millisecond)

	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)
	Forward(h, TopicCallHistory, ch)

	for want := 1; want <= 3; want++ {
		m := read(t, conn)
		require.Equal(t, TopicCallHistory, m.Topic)
		require.JSONEq(t, strconv.Itoa(want), string(m.Data))
	}
}
