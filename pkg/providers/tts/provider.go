// Package tts defines the text-to-speech provider contract and its
// concrete backends: a cloud websocket-streaming synthesizer adapted from
// the teacher, a new local ONNX synthesizer, and the phrase-splitting
// helper that turns a long response into speakable chunks.
package tts

import (
	"context"

	"github.com/voice-mirror/voicemirror/pkg/audio"
)

// Provider synthesizes speech from text. StreamSynthesize delivers audio as
// it becomes available; Synthesize is a convenience wrapper that
// accumulates the full result. Abort cancels any in-flight synthesis this
// provider is performing, used on barge-in interrupt.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language, onChunk func([]byte) error) error
	Abort() error
	Name() string
}
