package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// IIOProbe reads a DHT22 through the Linux dht11 IIO driver and the MQ-135
// digital output through sysfs GPIO. The IIO driver reports milli-units.
type IIOProbe struct {
	DeviceDir string
	GPIODir   string
}

// NewIIOProbe creates a probe for the given IIO device directory and GPIO line
func NewIIOProbe(deviceDir string, gpio int) *IIOProbe {
	return &IIOProbe{
		DeviceDir: deviceDir,
		GPIODir:   filepath.Join("/sys/class/gpio", fmt.Sprintf("gpio%d", gpio)),
	}
}

func (p *IIOProbe) ReadClimate(ctx context.Context) (float64, float64, error) {
	temp, err := p.readMilli("in_temp_input")
	if err != nil {
		return 0, 0, err
	}
	hum, err := p.readMilli("in_humidityrelative_input")
	if err != nil {
		return 0, 0, err
	}
	return temp, hum, nil
}

func (p *IIOProbe) ReadAirQuality(ctx context.Context) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(p.GPIODir, "value"))
	if err != nil {
		return false, fmt.Errorf("failed to read gpio: %w", err)
	}
	switch strings.TrimSpace(string(raw)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected gpio value %q", raw)
	}
}

func (p *IIOProbe) readMilli(name string) (float64, error) {
	raw, err := os.ReadFile(filepath.Join(p.DeviceDir, name))
	if err != nil {
		// The driver answers EIO/ETIMEDOUT when the sensor misses a handshake
		if errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EAGAIN) {
			return 0, ErrNoReading
		}
		return 0, fmt.Errorf("failed to read %s: %w", name, err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, ErrNoReading
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, text, err)
	}
	return float64(v) / 1000, nil
}
