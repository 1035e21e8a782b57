package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"
)

// USB identifiers for the sensor ring bridge MCU
const (
	VendorID  = 0x303A
	ProductID = 0x40C7
)

// Bridge control protocol
// A read is a vendor control transfer: wValue = 0x80|cmd, wIndex = sensor index.
// The device answers with one status byte followed by a little-endian uint16.
const (
	proximityCmdID = 0x11
	countCmdID     = 0x10
)

// USBSource reads the sensor ring through a USB-attached bridge MCU.
// The I2C/multiplexer fan-out behind the bridge is handled on-device.
type USBSource struct {
	logger *slog.Logger

	mu      sync.Mutex
	usbCtx  *gousb.Context
	dev     *gousb.Device
	closed  bool
	sensors int

	// Health tracking
	healthy           bool
	consecutiveErrors int
	maxErrors         int
	lastError         error
	lastErrorTime     time.Time

	// Reconnection
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
}

// USBSourceConfig configures the USB source
type USBSourceConfig struct {
	Sensors              int
	MaxConsecutiveErrors int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultUSBSourceConfig returns sensible defaults
func DefaultUSBSourceConfig() USBSourceConfig {
	return USBSourceConfig{
		Sensors:              4,
		MaxConsecutiveErrors: 5,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
	}
}

// NewUSBSource creates a new USB-backed sensor source
func NewUSBSource(logger *slog.Logger) (*USBSource, error) {
	return NewUSBSourceWithConfig(logger, DefaultUSBSourceConfig())
}

// NewUSBSourceWithConfig creates a USB source with custom configuration
func NewUSBSourceWithConfig(logger *slog.Logger, cfg USBSourceConfig) (*USBSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	source := &USBSource{
		logger:           logger,
		healthy:          true,
		sensors:          cfg.Sensors,
		maxErrors:        cfg.MaxConsecutiveErrors,
		reconnectBackoff: cfg.InitialBackoff,
		maxBackoff:       cfg.MaxBackoff,
	}

	source.usbCtx = gousb.NewContext()

	if err := source.openDevice(); err != nil {
		source.usbCtx.Close()
		return nil, err
	}

	logger.Info("USB sensor source initialized",
		"vendor_id", fmt.Sprintf("0x%04X", VendorID),
		"product_id", fmt.Sprintf("0x%04X", ProductID),
		"sensors", source.sensors,
	)

	return source, nil
}

func (u *USBSource) openDevice() error {
	dev, err := u.usbCtx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		return fmt.Errorf("failed to open sensor bridge: %w", err)
	}

	if dev == nil {
		return fmt.Errorf("sensor bridge not found (VID=0x%04X PID=0x%04X)", VendorID, ProductID)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		u.logger.Debug("SetAutoDetach failed (non-fatal)", "error", err)
	}

	u.dev = dev
	u.healthy = true
	u.consecutiveErrors = 0

	// Ask the bridge how many sensors it actually has wired
	if n, err := u.readSensorCount(); err == nil && n > 0 {
		u.sensors = n
	}

	return nil
}

// readSensorCount queries the bridge for its wired sensor count.
// Optional - errors leave the configured count in place.
func (u *USBSource) readSensorCount() (int, error) {
	data := make([]byte, 3) // 1 status byte + uint16

	n, err := u.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		0,
		0x80|countCmdID,
		0,
		data,
	)
	if err != nil {
		return 0, err
	}
	if n < 3 || data[0] != 0 {
		return 0, fmt.Errorf("bad sensor count response")
	}

	return int(binary.LittleEndian.Uint16(data[1:3])), nil
}

// ReadProximity returns the current proximity count for one sensor
func (u *USBSource) ReadProximity(ctx context.Context, sensorIndex int) (uint16, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return 0, fmt.Errorf("device closed")
	}

	if sensorIndex < 0 || sensorIndex >= u.sensors {
		return 0, fmt.Errorf("sensor index %d out of range [0,%d)", sensorIndex, u.sensors)
	}

	// Check if we need to reconnect
	if u.dev == nil {
		if err := u.reconnect(); err != nil {
			return 0, err
		}
	}

	data := make([]byte, 3) // 1 status byte + uint16 proximity count

	n, err := u.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		0,                     // bRequest
		0x80|proximityCmdID,   // wValue (read flag | cmdid)
		uint16(sensorIndex),   // wIndex (sensor index)
		data,                  // data buffer
	)

	if err != nil {
		u.recordError(err)
		return 0, fmt.Errorf("USB control transfer failed: %w", err)
	}

	if n < 3 {
		err := fmt.Errorf("short read: got %d bytes, expected 3", n)
		u.recordError(err)
		return 0, err
	}

	if data[0] != 0 {
		err := fmt.Errorf("bridge returned error status: %d", data[0])
		u.recordError(err)
		return 0, err
	}

	u.recordSuccess()

	return binary.LittleEndian.Uint16(data[1:3]), nil
}

// SensorCount returns the number of addressable sensors
func (u *USBSource) SensorCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sensors
}

func (u *USBSource) recordError(err error) {
	u.consecutiveErrors++
	u.lastError = err
	u.lastErrorTime = time.Now()

	if u.consecutiveErrors >= u.maxErrors {
		u.healthy = false
		u.logger.Warn("USB source marked unhealthy, will attempt reconnect",
			"consecutive_errors", u.consecutiveErrors,
			"last_error", err,
		)

		// Close device to force reconnect on next call
		if u.dev != nil {
			u.dev.Close()
			u.dev = nil
		}
	}
}

func (u *USBSource) recordSuccess() {
	if u.consecutiveErrors > 0 {
		u.logger.Info("USB source recovered",
			"previous_errors", u.consecutiveErrors,
		)
	}
	u.consecutiveErrors = 0
	u.healthy = true
	u.reconnectBackoff = DefaultUSBSourceConfig().InitialBackoff
}

func (u *USBSource) reconnect() error {
	u.logger.Info("attempting USB reconnect",
		"backoff", u.reconnectBackoff,
	)

	time.Sleep(u.reconnectBackoff)

	u.reconnectBackoff *= 2
	if u.reconnectBackoff > u.maxBackoff {
		u.reconnectBackoff = u.maxBackoff
	}

	if err := u.openDevice(); err != nil {
		u.logger.Warn("USB reconnect failed", "error", err)
		return err
	}

	u.logger.Info("USB reconnect successful")
	return nil
}

// Close releases the USB device
func (u *USBSource) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}

	u.closed = true

	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}

	if u.usbCtx != nil {
		u.usbCtx.Close()
		u.usbCtx = nil
	}

	u.logger.Info("USB source closed")

	return nil
}

// Healthy returns true if the source is operational
func (u *USBSource) Healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.healthy
}

// Name returns the source type name
func (u *USBSource) Name() string {
	return "usb"
}

// Stats returns USB source statistics
func (u *USBSource) Stats() USBStats {
	u.mu.Lock()
	defer u.mu.Unlock()

	var lastErr string
	if u.lastError != nil {
		lastErr = u.lastError.Error()
	}

	return USBStats{
		Healthy:           u.healthy,
		ConsecutiveErrors: u.consecutiveErrors,
		LastError:         lastErr,
		LastErrorTime:     u.lastErrorTime,
		DeviceConnected:   u.dev != nil,
	}
}

// USBStats contains USB source statistics
type USBStats struct {
	Healthy           bool      `json:"healthy"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorTime     time.Time `json:"last_error_time,omitempty"`
	DeviceConnected   bool      `json:"device_connected"`
}
