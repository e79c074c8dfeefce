package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	whispercpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voice-mirror/voicemirror/pkg/audio"
	"github.com/voice-mirror/voicemirror/pkg/logging"
)

// minSamples is 0.4s of audio at 16kHz — below this, transcription returns
// empty text immediately without invoking inference, since whisper.cpp
// produces unreliable/garbage output on sub-window audio.
const minSamples = 6400

// ProgressFunc is invoked during model download with a percentage in
// [0,100], reported roughly every 5% of completion.
type ProgressFunc func(step string, percent int)

// WhisperLocalSTT runs fully offline transcription via whisper.cpp. The
// GGML model is downloaded on first use into dataDir/models and cached
// across process restarts. The Model is loaded lazily on first
// transcription and reused across calls (loading one costs ~200MB and
// hundreds of milliseconds); each call builds its own whisper.Context over
// that Model, and a mutex serializes calls since whisper.cpp contexts are
// not safe for concurrent Process calls.
type WhisperLocalSTT struct {
	log      logging.Logger
	dataDir  string
	size     string // e.g. "base", "small"
	nThreads int
	onProg   ProgressFunc

	mu    sync.Mutex
	model whispercpp.Model
}

// NewWhisperLocalSTT builds a local whisper backend. size selects the GGML
// model variant (tiny/base/small/medium/large); dataDir is the root the
// model file is downloaded under (dataDir/models/ggml-{size}.en.bin).
func NewWhisperLocalSTT(dataDir, size string, log logging.Logger) *WhisperLocalSTT {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	if size == "" {
		size = "base"
	}
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return &WhisperLocalSTT{
		log:      log,
		dataDir:  dataDir,
		size:     size,
		nThreads: n,
	}
}

// OnProgress registers a callback invoked during model download.
func (w *WhisperLocalSTT) OnProgress(fn ProgressFunc) {
	w.onProg = fn
}

func (w *WhisperLocalSTT) modelPath() string {
	return filepath.Join(w.dataDir, "models", fmt.Sprintf("ggml-%s.en.bin", w.size))
}

// ensureModel downloads the GGML model if it isn't already present,
// writing to a .tmp sibling and renaming atomically on completion so a
// crash mid-download never leaves a corrupt model file.
func (w *WhisperLocalSTT) ensureModel(ctx context.Context) error {
	path := w.modelPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("whisper: create model dir: %w", err)
	}

	url := fmt.Sprintf("https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-%s.en.bin", w.size)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: model download failed, status %d", resp.StatusCode)
	}

	tmpPath := path + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	total := resp.ContentLength
	var written int64
	lastPct := -1
	buf := make([]byte, 256*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmpPath)
				return werr
			}
			written += int64(n)
			if total > 0 && w.onProg != nil {
				pct := int(written * 100 / total)
				if pct/5 != lastPct/5 {
					lastPct = pct
					w.onProg("downloading_model", pct)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(tmpPath)
			return rerr
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (w *WhisperLocalSTT) ensureLoaded(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model != nil {
		return nil
	}
	if err := w.ensureModel(ctx); err != nil {
		return err
	}
	model, err := whispercpp.New(w.modelPath())
	if err != nil {
		return fmt.Errorf("whisper: load model: %w", err)
	}
	w.model = model
	return nil
}

func (w *WhisperLocalSTT) Transcribe(ctx context.Context, audioPCM []byte, lang audio.Language) (string, error) {
	samples := pcm16ToFloat32(audioPCM)
	if len(samples) < minSamples {
		return "", nil
	}

	if err := w.ensureLoaded(ctx); err != nil {
		return "", err
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		wctx, err := w.model.NewContext()
		if err != nil {
			done <- result{err: fmt.Errorf("whisper: new context: %w", err)}
			return
		}
		wctx.SetThreads(w.nThreads)
		wctx.SetLanguage("en")
		wctx.SetTranslate(false)
		wctx.SetSplitOnWord(false)

		if err := wctx.Process(samples, nil, nil); err != nil {
			done <- result{err: fmt.Errorf("whisper: process: %w", err)}
			return
		}

		var parts []string
		for {
			segment, err := wctx.NextSegment()
			if err == io.EOF {
				break
			}
			if err != nil {
				done <- result{err: fmt.Errorf("whisper: next segment: %w", err)}
				return
			}
			if t := strings.TrimSpace(segment.Text); t != "" {
				parts = append(parts, t)
			}
		}
		done <- result{text: strings.Join(parts, " ")}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func (w *WhisperLocalSTT) Name() string {
	return "whisper-local"
}

func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
