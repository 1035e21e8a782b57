// Package protocol defines the WebSocket message envelope used on the
// detection uplink and the local stream endpoint.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ringlab/go-passage/internal/detect"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Device → upstream messages
	TypeDetection   MessageType = "detection"    // A resolved transit detection
	TypeSensorState MessageType = "sensor_state" // Per-sensor telemetry snapshot
	TypeStats       MessageType = "stats"        // Pipeline statistics

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// NewDetectionMessage wraps a detection result
func NewDetectionMessage(res detect.Result) (*Message, error) {
	return NewMessage(TypeDetection, res)
}

// GetDetection extracts a detection result from a message
func (m *Message) GetDetection() (*detect.Result, error) {
	var res detect.Result
	if err := m.ParseData(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// NewSensorStateMessage wraps per-sensor telemetry
func NewSensorStateMessage(states []detect.SensorState) (*Message, error) {
	return NewMessage(TypeSensorState, states)
}

// GetSensorStates extracts per-sensor telemetry from a message
func (m *Message) GetSensorStates() ([]detect.SensorState, error) {
	var states []detect.SensorState
	if err := m.ParseData(&states); err != nil {
		return nil, err
	}
	return states, nil
}
