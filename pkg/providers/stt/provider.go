// Package stt defines the speech-to-text provider contract and its
// concrete backends: several cloud HTTP/multipart APIs adapted from the
// teacher, plus a new local whisper.cpp-backed backend for offline
// transcription.
package stt

import (
	"context"

	"github.com/voice-mirror/voicemirror/pkg/audio"
)

// Provider transcribes a chunk of PCM audio into text.
type Provider interface {
	Transcribe(ctx context.Context, audioPCM []byte, lang audio.Language) (string, error)
	Name() string
}

// SampleRateSetter is implemented by providers whose wire format needs to
// know the PCM sample rate (anything that builds a WAV container).
type SampleRateSetter interface {
	SetSampleRate(rate int)
}
