package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/voice-mirror/voicemirror/pkg/logging"
	"github.com/voice-mirror/voicemirror/pkg/ringbuffer"
)

// Capturer owns a malgo capture device and feeds raw 16kHz mono PCM into a
// ring buffer, from which the controller pulls fixed-size chunks for
// VAD/wake-word/STT. Generalized from the teacher's single hard-coded
// duplex device in cmd/agent/main.go into a capture-only, device-selectable
// component; playback is handled separately by pkg/playback so the two can
// be started/stopped independently (required for wake-word interrupting
// playback without tearing down capture).
type Capturer struct {
	log      logging.Logger
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	buf      *ringbuffer.RingBuffer
	deviceID *string
}

// NewCapturer allocates the malgo context and a ring buffer of bufferBytes.
// The capture device itself is chosen and opened by Start.
func NewCapturer(log logging.Logger, bufferBytes int) (*Capturer, error) {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}
	return &Capturer{
		log: log,
		ctx: ctx,
		buf: ringbuffer.New(bufferBytes),
	}, nil
}

// Start opens and starts the capture device. deviceName, if non-empty,
// selects a device whose reported name contains it (case-sensitive
// substring match); otherwise the system default capture device is used.
func (c *Capturer) Start(deviceName string) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = PipelineSampleRate
	deviceConfig.Alsa.NoMMap = 1

	if deviceName != "" {
		infos, err := c.ctx.Devices(malgo.Capture)
		if err != nil {
			return fmt.Errorf("capture: enumerate devices: %w", err)
		}
		for _, info := range infos {
			if containsSubstring(info.Name(), deviceName) {
				id := info.ID
				deviceConfig.Capture.DeviceID = id.Pointer()
				break
			}
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) > 0 {
				c.buf.Write(input)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("capture: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("capture: start device: %w", err)
	}
	c.device = device
	return nil
}

// ListDevices returns the names of available capture devices.
func (c *Capturer) ListDevices() ([]string, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// Read drains up to len(p) captured bytes, FIFO order.
func (c *Capturer) Read(p []byte) (int, error) {
	return c.buf.Read(p)
}

// Available reports how many unread captured bytes are buffered.
func (c *Capturer) Available() int {
	return c.buf.Len()
}

// Stop halts and releases the capture device without tearing down the
// audio context, so Start can be called again (e.g. after a device
// hot-swap).
func (c *Capturer) Stop() {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
}

// Close releases the device and the underlying audio context entirely.
func (c *Capturer) Close() {
	c.Stop()
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx.Free()
	}
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 ||
		(len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
