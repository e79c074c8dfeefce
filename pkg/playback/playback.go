// Package playback provides the speaker-output half of the audio pipeline:
// an addressable PCM sink that the controller feeds TTS audio chunks into,
// and can cancel mid-utterance when a wake-word or barge-in interrupt
// fires. Adapted from the teacher's inline duplex-device playback buffer
// in cmd/agent/main.go into a standalone, cancelable component.
package playback

import (
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/voice-mirror/voicemirror/pkg/logging"
)

// Sink owns a malgo playback device and serves queued PCM to it from a
// mutex-guarded byte queue, matching the teacher's pOutput/playbackBytes
// copy-and-zero-fill pattern.
type Sink struct {
	log    logging.Logger
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	queue   []byte
	volume  float64
	playing bool

	onPlayed func([]byte) // invoked per-frame with what was actually written, for echo suppression
}

// New allocates the malgo context for playback. The sample rate is fixed
// per Sink when Start opens the device; audio passed to Enqueue is played
// as-is at that rate.
func New(log logging.Logger) (*Sink, error) {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &Sink{log: log, ctx: ctx, volume: 1.0}, nil
}

// OnPlayed registers a callback invoked with exactly the bytes written to
// the device each callback tick, letting the capture side record them for
// echo suppression.
func (s *Sink) OnPlayed(fn func([]byte)) {
	s.mu.Lock()
	s.onPlayed = fn
	s.mu.Unlock()
}

// Start opens and starts the playback device at sampleRate (mono, 16-bit).
func (s *Sink) Start(sampleRate int) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(s.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.fill,
	})
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}
	s.device = device
	return nil
}

func (s *Sink) fill(output, _ []byte, _ uint32) {
	s.mu.Lock()
	n := copy(output, s.queue)
	s.queue = s.queue[n:]
	written := output[:n]
	s.playing = len(s.queue) > 0
	cb := s.onPlayed
	volume := s.volume
	s.mu.Unlock()

	if volume != 1.0 && n > 0 {
		scaleInPlace(output[:n], volume)
	}
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
	if cb != nil && n > 0 {
		cb(written)
	}
}

func scaleInPlace(pcm []byte, volume float64) {
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		v := float64(s) * volume
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s = int16(v)
		pcm[i] = byte(s)
		pcm[i+1] = byte(s >> 8)
	}
}

// Enqueue appends PCM to be played, in order.
func (s *Sink) Enqueue(pcm []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, pcm...)
	s.playing = true
	s.mu.Unlock()
}

// Stop discards any queued-but-unplayed audio, for barge-in interrupts.
// Playback already handed to the device this tick can't be un-played, but
// the queue is cleared within one callback period (matching the spec's
// ~50ms interrupt budget at typical device buffer sizes).
func (s *Sink) Stop() {
	s.mu.Lock()
	s.queue = nil
	s.playing = false
	s.mu.Unlock()
}

// IsPlaying reports whether there is queued audio still to be written.
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SetVolume scales subsequent output in [0, 1].
func (s *Sink) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// Close releases the playback device and audio context.
func (s *Sink) Close() {
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		s.ctx.Uninit()
		s.ctx.Free()
	}
}
