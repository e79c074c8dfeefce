package tts

import (
	"os"

	"github.com/voice-mirror/voicemirror/pkg/audio"
	"github.com/voice-mirror/voicemirror/pkg/logging"
)

// Config selects and configures a TTS backend.
type Config struct {
	// Backend is "local", "cloud-ws", or "" (auto: prefer local, fall back
	// to cloud if the local model files aren't present).
	Backend string

	DataDir string
	OnnxLib string

	CloudAPIKey string
	CloudHost   string
	CloudFormat string // "pcm" or "mp3"

	// CanonicalVoice is not read by NewTTS: after a fallback from local to
	// cloud, the cloud backend receives whatever voice the caller passes to
	// Synthesize/StreamSynthesize, including local voice names (e.g. "f1")
	// that may have no cloud voice of the same name.
	CanonicalVoice audio.Voice
}

// NewTTS builds a Provider per cfg. When Backend is unset, it prefers the
// local ONNX engine if its model file is present on disk, falling back to
// the cloud websocket backend (matching the original implementation's
// Kokoro-then-Edge-TTS fallback) otherwise.
func NewTTS(cfg Config, log logging.Logger) (Provider, error) {
	if log == nil {
		log = &logging.NoOpLogger{}
	}

	backend := cfg.Backend
	if backend == "" {
		if localModelPresent(cfg.DataDir) {
			backend = "local"
		} else {
			log.Warn("local TTS model not found, falling back to cloud backend", "dataDir", cfg.DataDir)
			backend = "cloud-ws"
		}
	}

	switch backend {
	case "local":
		return NewLocalTTS(cfg.DataDir, cfg.OnnxLib, log), nil
	case "cloud-ws":
		return NewCloudWSTTS(cfg.CloudAPIKey, cfg.CloudHost, cfg.CloudFormat), nil
	default:
		return nil, &UnknownBackendError{Backend: backend}
	}
}

func localModelPresent(dataDir string) bool {
	if dataDir == "" {
		return false
	}
	_, err := os.Stat(dataDir + "/models/local-tts/model.onnx")
	return err == nil
}

// UnknownBackendError is returned by NewTTS for an unrecognized backend name.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return "tts: unknown backend " + e.Backend
}
