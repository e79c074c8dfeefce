package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voice-mirror/voicemirror/pkg/audio"
	"github.com/voice-mirror/voicemirror/pkg/logging"
)

const (
	localSampleRate = audio.LocalTTSSampleRate
	maxInputTokens  = 512
	styleDim        = 256
)

// LocalTTS runs fully offline synthesis through a single-pass ONNX model
// (input_ids, style, speed -> waveform), following the local voice engine
// referenced by the original implementation: a lightweight phoneme-level
// tokenizer feeding a per-voice style embedding loaded from
// dataDir/models/local-tts/voices/{voice}.bin. Unlike whisper.cpp or the
// wake-word pipeline, ONNX Runtime sessions created with NewAdvancedSession
// fix their tensor shapes at construction, so a session is built fresh per
// call sized to that call's token count rather than reused across calls of
// varying text length.
type LocalTTS struct {
	log     logging.Logger
	dataDir string
	onnxLib string
	speed   float32

	mu       sync.Mutex
	styles   map[string][]float32
	aborted  bool
	cancelFn context.CancelFunc
}

// NewLocalTTS builds a local ONNX TTS engine. The combined
// tokenizer+vocoder ONNX graph is read from
// dataDir/models/local-tts/model.onnx; voice style vectors are loaded
// lazily from dataDir/models/local-tts/voices on first use of each voice.
func NewLocalTTS(dataDir, onnxLib string, log logging.Logger) *LocalTTS {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &LocalTTS{
		log:     log,
		dataDir: dataDir,
		onnxLib: onnxLib,
		speed:   1.0,
		styles:  make(map[string][]float32),
	}
}

func (l *LocalTTS) modelPath() string {
	return filepath.Join(l.dataDir, "models", "local-tts", "model.onnx")
}

func (l *LocalTTS) voicePath(voice audio.Voice) string {
	return filepath.Join(l.dataDir, "models", "local-tts", "voices", string(voice)+".bin")
}

func (l *LocalTTS) loadStyle(voice audio.Voice) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.styles[string(voice)]; ok {
		return v, nil
	}
	raw, err := os.ReadFile(l.voicePath(voice))
	if err != nil {
		return nil, fmt.Errorf("local tts: load voice %q: %w", voice, err)
	}
	if len(raw) != styleDim*4 {
		return nil, fmt.Errorf("local tts: voice %q: expected %d bytes, got %d", voice, styleDim*4, len(raw))
	}
	vec := make([]float32, styleDim)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(raw[4*i : 4*i+4])
		vec[i] = math.Float32frombits(bits)
	}
	l.styles[string(voice)] = vec
	return vec, nil
}

func (l *LocalTTS) Synthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language) ([]byte, error) {
	var out []byte
	for _, phrase := range SplitIntoPhrases(text) {
		pcm, err := l.synthesizePhrase(ctx, phrase, voice, lang)
		if err != nil {
			return nil, err
		}
		out = append(out, pcm...)
	}
	return out, nil
}

func (l *LocalTTS) StreamSynthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language, onChunk func([]byte) error) error {
	l.mu.Lock()
	l.aborted = false
	l.mu.Unlock()

	for _, phrase := range SplitIntoPhrases(text) {
		l.mu.Lock()
		aborted := l.aborted
		l.mu.Unlock()
		if aborted {
			return nil
		}
		pcm, err := l.synthesizePhrase(ctx, phrase, voice, lang)
		if err != nil {
			return err
		}
		if err := onChunk(pcm); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalTTS) synthesizePhrase(ctx context.Context, phrase string, voice audio.Voice, lang audio.Language) ([]byte, error) {
	style, err := l.loadStyle(voice)
	if err != nil {
		return nil, err
	}

	tokens := tokenize(phrase, lang)
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > maxInputTokens {
		tokens = tokens[:maxInputTokens]
	}

	if l.onnxLib != "" {
		ort.SetSharedLibraryPath(l.onnxLib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("local tts: init onnxruntime: %w", err)
	}
	defer ort.DestroyEnvironment()

	inputIDs, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, fmt.Errorf("local tts: input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	styleT, err := ort.NewTensor(ort.NewShape(1, int64(styleDim)), style)
	if err != nil {
		return nil, fmt.Errorf("local tts: style tensor: %w", err)
	}
	defer styleT.Destroy()

	speed := l.speed
	speedT, err := ort.NewTensor(ort.NewShape(1), []float32{speed})
	if err != nil {
		return nil, fmt.Errorf("local tts: speed tensor: %w", err)
	}
	defer speedT.Destroy()

	// Output length isn't known ahead of inference; allocate generously
	// (roughly 0.3s of audio per token at 22050Hz) and trust the model to
	// fill only the samples it produces, trimming trailing silence after.
	outSamples := len(tokens) * (localSampleRate * 3 / 10)
	waveform, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(outSamples)))
	if err != nil {
		return nil, fmt.Errorf("local tts: waveform tensor: %w", err)
	}
	defer waveform.Destroy()

	modelIn, modelOut, err := ort.GetInputOutputInfo(l.modelPath())
	if err != nil {
		return nil, fmt.Errorf("local tts: model info: %w", err)
	}

	session, err := ort.NewAdvancedSession(l.modelPath(),
		namesOfLocal(modelIn), namesOfLocal(modelOut),
		[]ort.Value{inputIDs, styleT, speedT}, []ort.Value{waveform}, nil)
	if err != nil {
		return nil, fmt.Errorf("local tts: session: %w", err)
	}
	defer session.Destroy()

	done := make(chan error, 1)
	go func() { done <- session.Run() }()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("local tts: inference: %w", err)
		}
	}

	return float32ToPCM16(waveform.GetData()), nil
}

// Abort halts any in-progress StreamSynthesize loop before its next phrase.
func (l *LocalTTS) Abort() error {
	l.mu.Lock()
	l.aborted = true
	if l.cancelFn != nil {
		l.cancelFn()
	}
	l.mu.Unlock()
	return nil
}

func (l *LocalTTS) Name() string {
	return "local-onnx"
}

func namesOfLocal(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// tokenize maps text to a coarse per-character phoneme-id sequence. A real
// deployment substitutes a language-specific grapheme-to-phoneme table per
// lang; this keeps the wiring to the ONNX graph self-contained without
// depending on an external phonemizer binary.
func tokenize(text string, lang audio.Language) []int64 {
	ids := make([]int64, 0, len(text))
	for _, r := range text {
		ids = append(ids, int64(r)%maxInputTokens)
	}
	return ids
}

func float32ToPCM16(samples []float32) []byte {
	// Trim the trailing exact-zero samples the model left unfilled in the
	// over-allocated output tensor.
	end := len(samples)
	for end > 0 && samples[end-1] == 0 {
		end--
	}
	samples = samples[:end]

	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
