package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMessage is the payload decoded by the test handler.
type testMessage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// TestWebSocketServer records what the client sends and replays queued messages.
type TestWebSocketServer struct {
	server           *httptest.Server
	upgrader         websocket.Upgrader
	mu               sync.RWMutex
	connections      []*websocket.Conn
	messageQueue     []any
	receivedMessages [][]byte
	receivedHeaders  http.Header
	pingCount        atomic.Int64
	shouldRejectConn atomic.Bool
	handlerFunc      func(conn *websocket.Conn)
}

func NewTestWebSocketServer() *TestWebSocketServer {
	ts := &TestWebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	ts.server = httptest.NewServer(http.HandlerFunc(ts.handleWebSocket))
	return ts
}

func (ts *TestWebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if ts.shouldRejectConn.Load() {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	ts.mu.Lock()
	ts.receivedHeaders = r.Header.Clone()
	ts.mu.Unlock()

	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetPingHandler(func(data string) error {
		ts.pingCount.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	ts.mu.Lock()
	ts.connections = append(ts.connections, conn)
	ts.mu.Unlock()

	if ts.handlerFunc != nil {
		ts.handlerFunc(conn)
		return
	}
	ts.defaultHandler(conn)
}

func (ts *TestWebSocketServer) defaultHandler(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		ts.mu.Lock()
		ts.receivedMessages = append(ts.receivedMessages, data)
		queue := ts.messageQueue
		ts.messageQueue = nil
		ts.mu.Unlock()

		for _, msg := range queue {
			out, _ := json.Marshal(msg)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}
}

func (ts *TestWebSocketServer) URL() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *TestWebSocketServer) QueueMessage(msg any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.messageQueue = append(ts.messageQueue, msg)
}

func (ts *TestWebSocketServer) GetReceivedMessages() [][]byte {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([][]byte, len(ts.receivedMessages))
	copy(out, ts.receivedMessages)
	return out
}

func (ts *TestWebSocketServer) Close() {
	ts.mu.Lock()
	for _, conn := range ts.connections {
		conn.Close()
	}
	ts.mu.Unlock()
	ts.server.Close()
}

func createTestHandler() func([]byte, chan<- testMessage) error {
	return func(data []byte, out chan<- testMessage) error {
		var msg testMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if msg.Type == "event" {
			out <- msg
		}
		return nil
	}
}

func Test_NewClient_ConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config[testMessage]
		errorMsg string
	}{
		{
			name:     "Empty endpoint",
			config:   Config[testMessage]{Handler: createTestHandler()},
			errorMsg: "endpoint URL is required",
		},
		{
			name:     "Nil handler",
			config:   Config[testMessage]{Endpoint: "ws://localhost:1/ws"},
			errorMsg: "message handler is required",
		},
		{
			name: "Heartbeat without period",
			config: Config[testMessage]{
				Endpoint:  "ws://localhost:1/ws",
				Handler:   createTestHandler(),
				Heartbeat: func() []byte { return []byte("hb") },
			},
			errorMsg: "heartbeat period is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.config)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func Test_NewClient_ConnectionRejected(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()
	server.shouldRejectConn.Store(true)

	client, err := NewClient(context.Background(), Config[testMessage]{
		Endpoint: server.URL(),
		Handler:  createTestHandler(),
	})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "initial dial failed")
}

func Test_Client_SubscriptionAndMessages(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()

	server.QueueMessage(testMessage{Type: "event", Value: "first"})
	server.QueueMessage(testMessage{Type: "ignored"})
	server.QueueMessage(testMessage{Type: "event", Value: "second"})

	header := http.Header{}
	header.Set("apikey", "secret")

	client, err := NewClient(context.Background(), Config[testMessage]{
		Endpoint:             server.URL(),
		Handler:              createTestHandler(),
		Header:               header,
		SubscriptionMessages: [][]byte{[]byte(`{"type":"join"}`)},
	})
	require.NoError(t, err)
	defer client.Close()

	var got []string
	for len(got) < 2 {
		select {
		case msg := <-client.Messages:
			got = append(got, msg.Value)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	assert.Equal(t, []string{"first", "second"}, got)

	received := server.GetReceivedMessages()
	require.NotEmpty(t, received)
	assert.JSONEq(t, `{"type":"join"}`, string(received[0]))

	server.mu.RLock()
	assert.Equal(t, "secret", server.receivedHeaders.Get("apikey"))
	server.mu.RUnlock()
}

func Test_Client_HeartbeatAndPing(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()

	var beats atomic.Int64
	client, err := NewClient(context.Background(), Config[testMessage]{
		Endpoint:   server.URL(),
		Handler:    createTestHandler(),
		PingPeriod: 20 * time.Millisecond,
		Heartbeat: func() []byte {
			beats.Add(1)
			return []byte(`{"type":"heartbeat"}`)
		},
		HeartbeatPeriod: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Eventually(t, func() bool {
		return server.pingCount.Load() >= 2 && len(server.GetReceivedMessages()) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, beats.Load(), int64(2))
}

func Test_Client_HandlerErrorsAndPanics(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()

	server.QueueMessage(testMessage{Type: "boom"})
	server.QueueMessage(testMessage{Type: "error"})
	server.QueueMessage(testMessage{Type: "event", Value: "survived"})

	client, err := NewClient(context.Background(), Config[testMessage]{
		Endpoint:             server.URL(),
		SubscriptionMessages: [][]byte{[]byte(`{}`)},
		Handler: func(data []byte, out chan<- testMessage) error {
			var msg testMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return err
			}
			switch msg.Type {
			case "boom":
				panic("handler panic")
			case "error":
				return errors.New("handler error")
			}
			out <- msg
			return nil
		},
	})
	require.NoError(t, err)
	defer client.Close()

	select {
	case msg := <-client.Messages:
		assert.Equal(t, "survived", msg.Value, "Read loop must survive handler panics and errors")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func Test_Client_Close(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()

	client, err := NewClient(context.Background(), Config[testMessage]{
		Endpoint: server.URL(),
		Handler:  createTestHandler(),
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		client.Close()
		client.Close()
	})

	select {
	case <-client.DisconnectChan():
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect channel not closed")
	}

	_, open := <-client.Messages
	assert.False(t, open, "Messages is closed after shutdown")
	assert.ErrorIs(t, client.Send([]byte("late")), ErrClientShuttingDown)
}

func Test_Client_ContextCancel(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := NewClient(ctx, Config[testMessage]{
		Endpoint: server.URL(),
		Handler:  createTestHandler(),
	})
	require.NoError(t, err)

	cancel()

	select {
	case <-client.DisconnectChan():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop on context cancellation")
	}
}

func Test_Client_ServerDisconnect(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()
	server.handlerFunc = func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		conn.Close()
	}

	client, err := NewClient(context.Background(), Config[testMessage]{
		Endpoint: server.URL(),
		Handler:  createTestHandler(),
	})
	require.NoError(t, err)
	defer client.Close()

	select {
	case err := <-client.ErrChan():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a terminal read error")
	}
	<-client.DisconnectChan()
}

func Test_Client_ServerDisconnectStopsKeepalive(t *testing.T) {
	server := NewTestWebSocketServer()
	defer server.Close()
	server.handlerFunc = func(conn *websocket.Conn) {
		conn.Close()
	}

	client, err := NewClient(context.Background(), Config[testMessage]{
		Endpoint:   server.URL(),
		Handler:    createTestHandler(),
		PingPeriod: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	select {
	case <-client.DisconnectChan():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after the server dropped the connection")
	}

	assert.Eventually(t, func() bool {
		return errors.Is(client.Send([]byte("late")), ErrClientShuttingDown)
	}, time.Second, 10*time.Millisecond, "A dead connection should shut the client down")

	closed := make(chan struct{})
	go func() {
		client.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close should not wait for the goroutine timeout")
	}
}
