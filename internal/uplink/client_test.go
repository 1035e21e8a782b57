package uplink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ringlab/go-passage/internal/detect"
	"github.com/ringlab/go-passage/internal/protocol"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ReconnectBackoff <= 0 {
		t.Error("ReconnectBackoff should be positive")
	}
	if cfg.MaxBackoff <= 0 {
		t.Error("MaxBackoff should be positive")
	}
	if cfg.PingInterval <= 0 {
		t.Error("PingInterval should be positive")
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if client.IsConnected() {
		t.Error("Client should not be connected initially")
	}
}

func TestPublishNotConnected(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	if err := client.PublishDetection(detect.Result{ID: "x"}); err == nil {
		t.Error("PublishDetection should return error when not connected")
	}
	if err := client.PublishSensorStates(nil); err == nil {
		t.Error("PublishSensorStates should return error when not connected")
	}

	stats := client.GetStats()
	if stats.Dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", stats.Dropped)
	}
	if stats.MessagesSent != 0 {
		t.Errorf("expected 0 sent, got %d", stats.MessagesSent)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestConnectAndPublish(t *testing.T) {
	var detectionsReceived atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg protocol.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Logf("Parse error: %v", err)
				continue
			}
			if msg.Type == protocol.TypeDetection {
				detectionsReceived.Add(1)
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	cfg := DefaultConfig()
	cfg.URL = wsURL
	cfg.ReconnectBackoff = 100 * time.Millisecond

	client := NewClient(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Wait for connection
	time.Sleep(200 * time.Millisecond)

	if !client.IsConnected() {
		t.Fatal("Client should be connected")
	}

	res := detect.Result{
		ID:         "det-1",
		Direction:  detect.DirectionAToB,
		Confidence: 0.75,
		COMGapMs:   15,
	}
	if err := client.PublishDetection(res); err != nil {
		t.Errorf("PublishDetection() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if detectionsReceived.Load() != 1 {
		t.Errorf("expected server to receive 1 detection, got %d", detectionsReceived.Load())
	}

	stats := client.GetStats()
	if stats.MessagesSent != 1 {
		t.Errorf("expected 1 message sent, got %d", stats.MessagesSent)
	}

	client.Close()

	if client.IsConnected() {
		t.Error("Client should not be connected after Close()")
	}
}

func TestAnswersCollectorPing(t *testing.T) {
	var pongReceived atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ping, _ := protocol.NewMessage(protocol.TypePing, nil)
		data, _ := ping.Bytes()
		conn.WriteMessage(websocket.TextMessage, data)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg protocol.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Type == protocol.TypePong {
				pongReceived.Store(true)
			}
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.ReconnectBackoff = 100 * time.Millisecond

	client := NewClient(cfg, nil)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !pongReceived.Load() {
		time.Sleep(20 * time.Millisecond)
	}

	if !pongReceived.Load() {
		t.Error("client never answered the collector ping")
	}
}

func TestReconnectAfterServerRestart(t *testing.T) {
	// First server accepts, then closes the connection immediately
	var connects atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if connects.Add(1) == 1 {
			conn.Close() // force the client to reconnect
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.ReconnectBackoff = 50 * time.Millisecond

	client := NewClient(cfg, nil)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if connects.Load() >= 2 && client.IsConnected() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Errorf("client never re-established the connection (connects=%d)", connects.Load())
}
