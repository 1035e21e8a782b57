package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/ringlab/go-passage/internal/detect"
	"github.com/ringlab/go-passage/internal/pipeline"
	"github.com/ringlab/go-passage/internal/protocol"
)

// Sensor state broadcast cadence; detections are pushed as they happen.
const stateBroadcastInterval = 100 * time.Millisecond

// WSHub manages WebSocket connections and broadcasts detections plus
// per-sensor telemetry
type WSHub struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(pl *pipeline.Pipeline, logger *slog.Logger) *WSHub {
	return &WSHub{
		pipeline: pl,
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// Run starts the broadcast loop
func (h *WSHub) Run(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	defer close(h.done)

	if h.pipeline == nil {
		h.logger.Warn("websocket hub has no pipeline")
		<-ctx.Done()
		return
	}

	detections := h.pipeline.Subscribe()
	defer h.pipeline.Unsubscribe(detections)

	ticker := time.NewTicker(stateBroadcastInterval)
	defer ticker.Stop()

	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return
		case res, ok := <-detections:
			if !ok {
				return
			}
			h.broadcastDetection(res)
		case <-ticker.C:
			h.broadcastSensorState()
		}
	}
}

func (h *WSHub) broadcastDetection(res detect.Result) {
	msg, err := protocol.NewDetectionMessage(res)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}
	h.broadcast(msg)

	h.logger.Debug("detection broadcast",
		"id", res.ID,
		"direction", res.Direction.String(),
	)
}

func (h *WSHub) broadcastSensorState() {
	if h.ClientCount() == 0 {
		return
	}

	states := h.pipeline.SensorStates()
	if states == nil {
		return
	}

	msg, err := protocol.NewSensorStateMessage(states)
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}
	h.broadcast(msg)
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Will be cleaned up when connection closes
			h.logger.Debug("websocket write error", "error", err)
		}
	}
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the detection stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		h.handleCommand(c, msg)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, msg []byte) {
	var cmd struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(msg, &cmd); err != nil {
		return
	}

	switch cmd.Type {
	case "ping":
		c.WriteJSON(protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})
	case "get_stats":
		if h.pipeline != nil {
			if msg, err := protocol.NewMessage(protocol.TypeStats, h.pipeline.Stats()); err == nil {
				c.WriteJSON(msg)
			}
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
}
