package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/voice-mirror/voicemirror/pkg/audio"
	"github.com/voice-mirror/voicemirror/pkg/bridgetransport"
	"github.com/voice-mirror/voicemirror/pkg/controller"
	"github.com/voice-mirror/voicemirror/pkg/inbox"
	"github.com/voice-mirror/voicemirror/pkg/logging"
	"github.com/voice-mirror/voicemirror/pkg/playback"
	"github.com/voice-mirror/voicemirror/pkg/providers/stt"
	"github.com/voice-mirror/voicemirror/pkg/providers/tts"
	"github.com/voice-mirror/voicemirror/pkg/router"
	"github.com/voice-mirror/voicemirror/pkg/vad"
	"github.com/voice-mirror/voicemirror/pkg/wakeword"
)

// captureBufferBytes sizes the ring buffer behind audio.Capturer: 2 seconds
// of 16kHz mono 16-bit PCM, enough to absorb a slow STT/TTS suspension
// point without the audio callback (its own OS thread) ever blocking.
const captureBufferBytes = audio.PipelineSampleRate * 2 * 2

func main() {
	dataDirFlag := pflag.StringP("data-dir", "d", "", "Override VOICE_MIRROR_DATA_DIR.")
	metricsAddrFlag := pflag.String("metrics-addr", "", "Override VOICE_MIRROR_METRICS_ADDR.")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug-level logging.")
	pflag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using process environment")
	}

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = os.Getenv("VOICE_MIRROR_DATA_DIR")
	}
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = home + "/.voice-mirror"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("voicemirror: creating data dir %s: %v", dataDir, err)
	}

	logDir := envDefault("VOICE_MIRROR_LOG_DIR", dataDir+"/logs")
	logger := logging.NewCharmLoggerWithLogDir("voicemirror", logDir)
	defer logger.Close()
	if *verbose {
		logger.SetLevel(charmlog.DebugLevel)
	}

	if *metricsAddrFlag != "" {
		os.Setenv("VOICE_MIRROR_METRICS_ADDR", *metricsAddrFlag)
	}

	lang := audio.Language(os.Getenv("VOICE_MIRROR_LANGUAGE"))
	if lang == "" {
		lang = audio.LanguageEn
	}
	voice := audio.Voice(os.Getenv("VOICE_MIRROR_VOICE"))
	if voice == "" {
		voice = audio.VoiceF1
	}

	sttProvider, err := buildSTT(dataDir, logger)
	if err != nil {
		log.Fatalf("voicemirror: building STT provider: %v", err)
	}

	ttsProvider, err := tts.NewTTS(tts.Config{
		Backend:        os.Getenv("VOICE_MIRROR_TTS_BACKEND"),
		DataDir:        dataDir,
		OnnxLib:        os.Getenv("ONNX_RUNTIME_LIB"),
		CloudAPIKey:    os.Getenv("VOICE_MIRROR_TTS_API_KEY"),
		CloudHost:      os.Getenv("VOICE_MIRROR_TTS_HOST"),
		CloudFormat:    envDefault("VOICE_MIRROR_TTS_FORMAT", "pcm"),
		CanonicalVoice: voice,
	}, logger)
	if err != nil {
		log.Fatalf("voicemirror: building TTS provider: %v", err)
	}

	vadDetector := buildVAD(logger)

	wakeDetector := buildWakeword(logger)

	capturer, err := audio.NewCapturer(logger, captureBufferBytes)
	if err != nil {
		log.Fatalf("voicemirror: initializing capture device: %v", err)
	}
	defer capturer.Close()

	sink, err := playback.New(logger)
	if err != nil {
		log.Fatalf("voicemirror: initializing playback device: %v", err)
	}
	defer sink.Close()

	ib := inbox.Open(dataDir + "/inbox.json")

	rtr := router.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := startBridge(ctx, logger, rtr, dataDir)

	ctrl := controller.New(controller.Deps{
		Capturer:   capturer,
		Sink:       sink,
		VAD:        vadDetector,
		Wakeword:   wakeDetector,
		STT:        sttProvider,
		TTS:        ttsProvider,
		Router:     rtr,
		BridgeSend: bridge.send,
		Inbox:      ib,
		DataDir:    dataDir,
		Voice:      voice,
		Language:   lang,
		Log:        logger,
	})

	go pumpStdin(ctrl, logger)
	go pumpStdout(ctrl)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutdown signal received")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return serveMetrics(gctx, logger) })

	if err := g.Wait(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		logger.Error("voicemirror exited with error", "error", err)
	}

	if err := inbox.ReleaseLock(dataDir); err != nil {
		logger.Warn("releasing listener lock on shutdown", "error", err)
	}
}

// serveMetrics exposes /metrics for Prometheus scraping, shutting down
// cleanly when ctx is cancelled. Listening is skipped (nil error) when
// VOICE_MIRROR_METRICS_ADDR is unset, since not every deployment runs a
// scraper.
func serveMetrics(ctx context.Context, logger logging.Logger) error {
	addr := os.Getenv("VOICE_MIRROR_METRICS_ADDR")
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildSTT selects a speech-to-text backend by VOICE_MIRROR_STT_PROVIDER,
// defaulting to the fully offline whisper.cpp backend so the pipeline works
// without any API keys configured.
func buildSTT(dataDir string, logger logging.Logger) (stt.Provider, error) {
	name := stt.ResolveProviderName(envDefault("VOICE_MIRROR_STT_PROVIDER", "whisper-local"), logger)

	switch name {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai STT")
		}
		return stt.NewOpenAISTT(key, envDefault("VOICE_MIRROR_STT_MODEL", "whisper-1")), nil
	case "deepgram":
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return stt.NewDeepgramSTT(key), nil
	case "assemblyai":
		key := os.Getenv("ASSEMBLYAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return stt.NewAssemblyAISTT(key), nil
	case "groq":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq STT")
		}
		return stt.NewGroqSTT(key, envDefault("GROQ_STT_MODEL", "whisper-large-v3-turbo")), nil
	case "whisper-local":
		fallthrough
	default:
		return stt.NewWhisperLocalSTT(dataDir, envDefault("VOICE_MIRROR_WHISPER_SIZE", "base"), logger), nil
	}
}

// buildVAD selects neural or energy-based speech detection, defaulting to
// energy since it needs no model download.
func buildVAD(logger logging.Logger) vad.Detector {
	if os.Getenv("VOICE_MIRROR_VAD") == "neural" {
		return vad.NewNeuralVAD(vad.ModeRecording, logger)
	}
	threshold := 0.02
	return vad.NewEnergyVAD(threshold, 500*time.Millisecond)
}

// buildWakeword returns nil (wake-word disabled) unless a keyword model
// path is configured, since the ONNX models aren't bundled and dictation-
// only deployments have no use for them.
func buildWakeword(logger logging.Logger) *wakeword.Detector {
	melModel := os.Getenv("VOICE_MIRROR_WAKEWORD_MEL_MODEL")
	embedModel := os.Getenv("VOICE_MIRROR_WAKEWORD_EMBED_MODEL")
	keywordModel := os.Getenv("VOICE_MIRROR_WAKEWORD_MODEL")
	if melModel == "" || embedModel == "" || keywordModel == "" {
		logger.Warn("wake-word models not configured, running in push-to-talk/dictation only mode")
		return nil
	}
	return wakeword.New(wakeword.Config{
		MelspecModel:   melModel,
		EmbeddingModel: embedModel,
		OnnxLib:        os.Getenv("ONNX_RUNTIME_LIB"),
		Keywords: []wakeword.KeywordModel{
			{Name: envDefault("VOICE_MIRROR_WAKEWORD_NAME", "hey_mirror"), ModelPath: keywordModel},
		},
	}, logger)
}

// startBridge spawns the duplex transport accept loop described in
// spec.md's tool-server bridge: a single client (the standalone tool
// server process) connects once per session. Frames it sends are handed to
// rtr.Dispatch; the returned handle's send method writes host-originated
// frames (UserMessage, BrowserResponse, Shutdown) back over the same
// connection, mirroring cmd/toolserver's connectBridge.
func startBridge(ctx context.Context, logger logging.Logger, rtr *router.Router, dataDir string) *bridgeHandle {
	endpoint := bridgetransport.EndpointName(os.Getpid())
	os.Setenv("VOICE_MIRROR_PIPE", endpoint)

	h := &bridgeHandle{}
	go func() {
		conn, err := bridgetransport.Accept(ctx, endpoint, logger)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("bridge accept failed", "error", err)
			}
			return
		}
		defer conn.Close()
		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()

		for {
			var frame router.InboundFrame
			if err := bridgetransport.ReadMessage(conn, &frame); err != nil {
				logger.Info("bridge client disconnected", "error", err)
				_ = inbox.ReleaseLock(dataDir)
				rtr.Shutdown()
				return
			}
			if err := rtr.Dispatch(frame); err != nil {
				logger.Warn("dropping unroutable bridge frame", "error", err)
			}
		}
	}()
	return h
}

type bridgeHandle struct {
	mu   sync.Mutex
	conn bridgetransport.Conn
}

// send writes a host-originated frame to the connected tool-server client.
// Returns an error (rather than blocking) when no client has connected yet,
// so callers like Controller.routeTranscript can fall back to inbox-only
// delivery without stalling the event loop. h.mu is held for the whole
// write, so concurrent calls never interleave frames on the connection.
func (h *bridgeHandle) send(frame interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn := h.conn
	if conn == nil {
		return fmt.Errorf("bridge: no tool-server client connected")
	}

	var kind router.FrameKind
	switch frame.(type) {
	case router.UserMessage:
		kind = router.FrameUserMessage
	case router.BrowserResponse:
		kind = router.FrameBrowserResp
	default:
		kind = router.FrameShutdown
	}
	return bridgetransport.WriteMessage(conn, frameEnvelope{Kind: kind, Payload: frame})
}

type frameEnvelope struct {
	Kind    router.FrameKind `json:"type"`
	Payload interface{}      `json:"payload"`
}

// pumpStdin decodes one JSON command per line from stdin, the host's own
// control channel (distinct from the bridge, which only the tool-server
// process speaks to).
func pumpStdin(ctrl *controller.Controller, logger logging.Logger) {
	dec := json.NewDecoder(os.Stdin)
	for {
		var cmd controller.Command
		if err := dec.Decode(&cmd); err != nil {
			return
		}
		ctrl.Commands() <- cmd
	}
}

// pumpStdout writes one JSON event per line to stdout.
func pumpStdout(ctrl *controller.Controller) {
	enc := json.NewEncoder(os.Stdout)
	for ev := range ctrl.Events() {
		_ = enc.Encode(ev)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
