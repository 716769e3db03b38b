//go:build !linux

package audio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:               hex.EncodeToString(d.ID.Pointer()[:]),
			Name:             d.Name(),
			MaxInputChannels: int(d.MaxChannels),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	c := &malgoCapture{}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callbacks.Load(); cb != nil && cb.Data != nil {
				cb.Data(data, frameCount)
			}
		},
		Stop: func() {
			// Stop fires for user-initiated stops too; only an
			// unexpected one is a read failure.
			if c.userStop.Load() {
				return
			}
			if cb := c.callbacks.Load(); cb != nil && cb.Error != nil {
				cb.Error(errors.New("capture stream stopped unexpectedly"))
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device    *malgo.Device
	callbacks atomic.Pointer[Callbacks]
	userStop  atomic.Bool
}

func (c *malgoCapture) Start() error {
	c.userStop.Store(false)
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.userStop.Store(true)
	c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.userStop.Store(true)
	c.device.Uninit()
}

func (c *malgoCapture) SetCallbacks(cb Callbacks) {
	c.callbacks.Store(&cb)
}

func (c *malgoCapture) ClearCallbacks() {
	c.callbacks.Store(nil)
}
