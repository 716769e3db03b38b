// Package audio abstracts the capture hardware behind small
// interfaces so the recording pipeline can run against miniaudio,
// PulseAudio or an in-memory fake.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDeviceNotFound means no input device matched the configured
// aggregate-device marker. Start fails fast on it; no session state is
// touched.
var ErrDeviceNotFound = errors.New("aggregate input device not found")

// DataCallback receives one chunk of interleaved little-endian 16-bit
// PCM as delivered by the device.
type DataCallback func(data []byte, frameCount uint32)

// Callbacks carries the capture callbacks. Error fires when the stream
// dies underneath an active capture (device unplugged, backend fault);
// the session treats it as a read failure and aborts.
type Callbacks struct {
	Data  DataCallback
	Error func(err error)
}

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID               string // opaque platform-specific identifier
	Name             string
	MaxInputChannels int
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallbacks(cb Callbacks)
	ClearCallbacks()
}

// FindAggregate returns the first input device whose name contains
// marker (for example "Aggregate Device"). The match is
// case-insensitive; devices with no input channels are skipped.
func FindAggregate(ctx Context, marker string) (*DeviceInfo, error) {
	if marker == "" {
		return nil, fmt.Errorf("empty device marker")
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	lower := strings.ToLower(marker)
	for i := range devices {
		if devices[i].MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(devices[i].Name), lower) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no input device matches %q", ErrDeviceNotFound, marker)
}
