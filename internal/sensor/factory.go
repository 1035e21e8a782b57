package sensor

import "log/slog"

// NewSource creates the best available sensor source.
// Priority: USB bridge (production) > Mock (testing only)
func NewSource(logger *slog.Logger, sensors int) (Source, error) {
	cfg := DefaultUSBSourceConfig()
	cfg.Sensors = sensors

	usb, err := NewUSBSourceWithConfig(logger, cfg)
	if err == nil {
		return usb, nil
	}

	logger.Warn("USB sensor bridge unavailable",
		"error", err,
		"hint", "ensure libusb is installed and the bridge is connected",
	)

	// No silent fallback - let the caller decide (use mock for testing)
	return nil, err
}

// NewSourceWithFallback creates a sensor source with mock fallback.
// Use this for development when hardware is unavailable.
func NewSourceWithFallback(logger *slog.Logger, sensors int) Source {
	source, err := NewSource(logger, sensors)
	if err == nil {
		return source
	}

	logger.Warn("using mock sensor source - no hardware available")
	return NewMockSourceWithTransit(sensors)
}
