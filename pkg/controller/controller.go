package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voice-mirror/voicemirror/pkg/audio"
	"github.com/voice-mirror/voicemirror/pkg/inbox"
	"github.com/voice-mirror/voicemirror/pkg/logging"
	"github.com/voice-mirror/voicemirror/pkg/metrics"
	"github.com/voice-mirror/voicemirror/pkg/playback"
	"github.com/voice-mirror/voicemirror/pkg/providers/stt"
	"github.com/voice-mirror/voicemirror/pkg/providers/tts"
	"github.com/voice-mirror/voicemirror/pkg/router"
	"github.com/voice-mirror/voicemirror/pkg/state"
	"github.com/voice-mirror/voicemirror/pkg/status"
	"github.com/voice-mirror/voicemirror/pkg/vad"
	"github.com/voice-mirror/voicemirror/pkg/wakeword"
)

const chunkBytes = 1280 * 2 // 80ms @ 16kHz mono 16-bit, matching wakeword.Detector's chunk size

// Deps bundles every component the Controller drives. Wakeword, Router,
// BridgeSend and Inbox may be nil (dictation-only deployments need no
// wake-word model; a tool-server-less deployment needs no bridge). Run and
// the list_audio_devices command use Capturer and Sink without nil checks.
type Deps struct {
	Capturer *audio.Capturer
	Sink     *playback.Sink
	VAD      vad.Detector
	Wakeword *wakeword.Detector
	STT      stt.Provider
	TTS      tts.Provider
	Router   *router.Router
	// BridgeSend writes a frame to the tool-server over the bridge
	// transport. May be nil; the controller checks for nil before calling
	// it and only logs an error it returns (e.g. no tool-server connected
	// yet).
	BridgeSend func(frame interface{}) error
	Inbox      *inbox.Inbox
	DataDir    string
	Voice      audio.Voice
	Language   audio.Language
	Log        logging.Logger
}

// Controller runs the outer event loop described in spec.md §4.13: host
// commands and inbound bridge frames are handled in Run's select loop,
// captured audio chunks (and the wake-word triggers and VAD end-of-speech
// they produce) on a separate audio goroutine, and each STT completion on
// its own goroutine; all of them drive one atomically updated
// state.Machine. Grounded on the teacher's
// cmd/agent/main.go wiring and ManagedStream's turn-taking/interrupt logic
// (a generation counter invalidates stale async STT results; barge-in
// cancels TTS and clears the playback queue immediately).
type Controller struct {
	deps Deps
	log  logging.Logger

	machine *state.Machine

	commands chan Command
	events   chan Event

	mu             sync.Mutex
	recordBuf      []byte
	mode           string
	sttGeneration  int64
	ttsInFlight    atomic.Bool

	closeOnce sync.Once
}

// New wires a Controller from deps. Call Run to start the event loop.
func New(deps Deps) *Controller {
	if deps.Log == nil {
		deps.Log = &logging.NoOpLogger{}
	}
	c := &Controller{
		deps:     deps,
		log:      deps.Log,
		machine:  state.New(),
		commands: make(chan Command, 64),
		events:   make(chan Event, 256),
		mode:     "conversation",
	}
	if deps.Wakeword != nil {
		deps.Wakeword.OnDetected = c.onWakeWordDetected
	}
	if deps.Sink != nil {
		deps.Sink.OnPlayed(func([]byte) {})
	}
	return c
}

// Commands returns the channel the stdin reader feeds decoded Commands into.
func (c *Controller) Commands() chan<- Command { return c.commands }

// Events returns the channel the stdout writer drains Events from.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) emit(t EventType, data interface{}) {
	select {
	case c.events <- Event{Type: t, Data: data}:
	default:
		c.log.Warn("event channel full, dropping event", "event", t)
	}
}

// writeStatus persists the current state.Machine reading to status.json.
// Called on every transition rather than on a timer, so a reader never
// observes state older than the event that caused it. Failures only log;
// a stuck status file must never stall the audio pipeline.
func (c *Controller) writeStatus() {
	if c.deps.DataDir == "" {
		return
	}
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	snap := status.Snapshot{
		State:        c.machine.Current().String(),
		Source:       c.machine.Source().String(),
		Mode:         mode,
		BridgeActive: c.deps.Router != nil,
	}
	if err := status.Write(c.deps.DataDir, snap); err != nil {
		c.log.Warn("writing status snapshot", "error", err)
	}
}

// Run drives the event loop until ctx is cancelled or a Stop command is
// processed. It starts capture and feeds 80ms chunks to the VAD/wake-word
// stage on its own ticking goroutine, and otherwise selects over commands,
// bridge frames, and internal completion signals.
func (c *Controller) Run(ctx context.Context) error {
	c.emit(EventStarting, nil)

	if c.deps.Wakeword != nil {
		if err := c.deps.Wakeword.Open(); err != nil {
			c.emit(EventError, err.Error())
			return err
		}
		defer c.deps.Wakeword.Close()
	}

	if err := c.deps.Capturer.Start(""); err != nil {
		c.emit(EventError, err.Error())
		return err
	}
	defer c.deps.Capturer.Stop()

	if err := c.deps.Sink.Start(audio.PipelineSampleRate); err != nil {
		c.emit(EventError, err.Error())
		return err
	}
	defer c.deps.Sink.Close()

	c.machine.StartListening()
	c.emit(EventReady, nil)
	c.emit(EventListening, nil)
	c.writeStatus()

	audioTicks := c.startAudioLoop(ctx)

	var browserReqs <-chan router.BrowserRequest
	var voiceSends <-chan router.VoiceSend
	if c.deps.Router != nil {
		browserReqs = c.deps.Router.BrowserReqs
		voiceSends = c.deps.Router.VoiceSends
	}

	for {
		select {
		case <-ctx.Done():
			c.emit(EventStopping, nil)
			return ctx.Err()

		case cmd := <-c.commands:
			if cmd.Type == CmdStop {
				c.emit(EventStopping, nil)
				return nil
			}
			c.handleCommand(ctx, cmd)

		case <-audioTicks:
			// audio loop pushed a chunk; handled inline in startAudioLoop's
			// goroutine via callbacks, this case only exists to keep the
			// select alive when no other channel is ready.

		case vs := <-voiceSends:
			c.handleVoiceSend(ctx, vs)

		case br := <-browserReqs:
			// Browser tool actions aren't implemented by the audio
			// pipeline itself; acknowledge with a clear not-supported
			// error so the tool-server's waiter doesn't block until
			// its own timeout. The answer has to cross back over the
			// bridge to the tool-server's own router — DispatchResponse
			// on our own Router would resolve nobody's waiter, since
			// AwaitBrowserResponse is only ever called on the
			// tool-server side.
			if c.deps.BridgeSend != nil {
				if err := c.deps.BridgeSend(router.BrowserResponse{
					RequestID: br.RequestID,
					Success:   false,
					Error:     "browser actions are not handled by this controller",
				}); err != nil {
					c.log.Warn("sending browser response over bridge", "error", err)
				}
			}
		}
	}
}

// startAudioLoop reads fixed-size chunks from the capturer and feeds them to
// VAD and wake-word, driving the state machine's recording transitions. It
// returns a channel that ticks once per processed chunk purely so Run's
// select has something to wait on between other events (the real work
// happens here, not in the caller).
func (c *Controller) startAudioLoop(ctx context.Context) <-chan struct{} {
	tick := make(chan struct{}, 1)
	go func() {
		buf := make([]byte, chunkBytes)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			n, _ := c.deps.Capturer.Read(buf)
			if n < len(buf) {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			c.processChunk(ctx, buf)

			select {
			case tick <- struct{}{}:
			default:
			}
		}
	}()
	return tick
}

func (c *Controller) processChunk(ctx context.Context, chunk []byte) {
	metrics.AudioChunksProcessed.Inc()
	switch c.machine.Current() {
	case state.Listening:
		if c.deps.Wakeword != nil {
			_ = c.deps.Wakeword.Feed(chunk)
		}
	case state.Recording:
		c.mu.Lock()
		c.recordBuf = append(c.recordBuf, chunk...)
		c.mu.Unlock()

		speaking, _ := c.deps.VAD.Process(chunk)
		if !speaking {
			c.finishRecording(ctx)
		}
	}
}

func (c *Controller) onWakeWordDetected(d wakeword.Detection) {
	if !c.machine.StartRecording(state.SourceWakeWord) {
		return
	}
	metrics.WakeWordDetections.WithLabelValues(d.Model).Inc()
	metrics.RecordingsStarted.WithLabelValues("wake_word").Inc()
	c.mu.Lock()
	c.recordBuf = c.recordBuf[:0]
	c.mu.Unlock()
	c.deps.VAD.Reset()
	if c.deps.Wakeword != nil {
		c.deps.Wakeword.Pause()
	}
	if c.ttsInFlight.Load() {
		metrics.InterruptsTotal.Inc()
	}
	c.stopSpeaking()
	c.emit(EventWakeWord, map[string]interface{}{"model": d.Model, "score": d.Score})
	c.emit(EventRecordingStart, map[string]interface{}{"type": "wake_word"})
	c.writeStatus()
}

func (c *Controller) finishRecording(ctx context.Context) {
	if !c.machine.StopRecording() {
		return
	}
	c.emit(EventRecordingStop, nil)
	c.writeStatus()

	c.mu.Lock()
	audioData := make([]byte, len(c.recordBuf))
	copy(audioData, c.recordBuf)
	c.recordBuf = c.recordBuf[:0]
	c.sttGeneration++
	generation := c.sttGeneration
	c.mu.Unlock()

	go c.runSTT(ctx, audioData, generation)
}

func (c *Controller) runSTT(ctx context.Context, audioData []byte, generation int64) {
	sttStart := time.Now()
	text, err := c.deps.STT.Transcribe(ctx, audioData, c.deps.Language)
	metrics.STTDuration.Observe(time.Since(sttStart).Seconds())

	c.mu.Lock()
	stale := generation != c.sttGeneration
	c.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		metrics.PipelineErrors.WithLabelValues("stt").Inc()
		c.emit(EventError, err.Error())
		c.machine.FinishProcessing()
		c.writeStatus()
		if c.deps.Wakeword != nil {
			c.deps.Wakeword.Resume()
		}
		return
	}

	if text != "" {
		c.emit(EventTranscription, map[string]interface{}{"text": text})
		c.routeTranscript(ctx, text)
	}

	c.machine.FinishProcessing()
	c.writeStatus()
	if c.deps.Wakeword != nil {
		c.deps.Wakeword.Resume()
	}
	c.emit(EventListening, nil)
}

// routeTranscript delivers the finished transcript to whichever tool-server
// consumer is waiting. When a bridge is connected the transcript is sent
// live as a router.UserMessage frame, which is what an outstanding
// voice_listen call actually blocks on; the inbox append always happens too
// so voice_inbox and a bridge-less deployment (inbox polling) both still see
// it. AI-model invocation itself stays out of scope for the controller.
func (c *Controller) routeTranscript(ctx context.Context, text string) {
	id := randomID()
	ts := time.Now().UTC().Format(time.RFC3339)

	if c.deps.BridgeSend != nil {
		if err := c.deps.BridgeSend(router.UserMessage{
			ID:        id,
			From:      "user",
			Message:   text,
			Timestamp: ts,
		}); err != nil {
			c.log.Warn("sending user message over bridge", "error", err)
		}
	}

	if c.deps.Inbox == nil {
		return
	}
	msg := inbox.Message{
		ID:        id,
		From:      "user",
		Timestamp: ts,
		Message:   text,
	}
	if err := c.deps.Inbox.Append(msg); err != nil {
		c.emit(EventError, err.Error())
		return
	}
	c.emit(EventSentToInbox, map[string]interface{}{"message": text})
}

// handleVoiceSend plays back an AI-originated message synthesized via TTS,
// the point where the bridge's inbound traffic re-enters the audio
// pipeline.
func (c *Controller) handleVoiceSend(ctx context.Context, vs router.VoiceSend) {
	c.emit(EventResponse, map[string]interface{}{"text": vs.Message, "source": vs.From, "msgId": vs.MessageID})
	c.speak(ctx, vs.Message)
}

func (c *Controller) speak(ctx context.Context, text string) {
	c.ttsInFlight.Store(true)
	defer c.ttsInFlight.Store(false)

	ttsStart := time.Now()
	c.emit(EventSpeakingStart, map[string]interface{}{"text": text})
	err := c.deps.TTS.StreamSynthesize(ctx, text, c.deps.Voice, c.deps.Language, func(chunk []byte) error {
		if c.deps.Sink != nil {
			c.deps.Sink.Enqueue(chunk)
		}
		return nil
	})
	metrics.TTSDuration.Observe(time.Since(ttsStart).Seconds())
	c.emit(EventSpeakingEnd, nil)
	if err != nil {
		metrics.PipelineErrors.WithLabelValues("tts").Inc()
		c.emit(EventError, err.Error())
	}
}

// stopSpeaking cancels any in-progress TTS and clears queued-but-unplayed
// audio, matching spec.md §5's ~50ms interrupt budget for barge-in.
func (c *Controller) stopSpeaking() {
	if c.ttsInFlight.Load() && c.deps.TTS != nil {
		_ = c.deps.TTS.Abort()
	}
	if c.deps.Sink != nil {
		c.deps.Sink.Stop()
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CmdQuery:
		if cmd.Text != "" && c.deps.Inbox != nil {
			_ = c.deps.Inbox.Append(inbox.Message{
				ID:        randomID(),
				From:      "user",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Message:   cmd.Text,
				Image:     cmd.Image,
			})
		}
	case CmdStartRecording:
		if c.machine.StartRecording(state.SourcePtt) {
			metrics.RecordingsStarted.WithLabelValues("ptt").Inc()
			c.mu.Lock()
			c.recordBuf = c.recordBuf[:0]
			c.mu.Unlock()
			c.deps.VAD.Reset()
			c.emit(EventPttStart, nil)
			c.emit(EventRecordingStart, map[string]interface{}{"type": "ptt"})
			c.writeStatus()
		}
	case CmdStopRecording:
		c.emit(EventPttStop, nil)
		c.finishRecording(ctx)
	case CmdSetMode:
		c.mu.Lock()
		c.mode = cmd.Mode
		c.mu.Unlock()
		c.emit(EventModeChange, map[string]interface{}{"mode": cmd.Mode})
		c.writeStatus()
	case CmdConfigUpdate:
		c.emit(EventConfigUpdated, map[string]interface{}{"config": cmd.Config})
	case CmdListAudioDevices:
		names, err := c.deps.Capturer.ListDevices()
		if err != nil {
			c.emit(EventError, err.Error())
			return
		}
		c.emit(EventAudioDevices, map[string]interface{}{"input": names, "output": []string{}})
	case CmdSystemSpeak:
		c.speak(ctx, cmd.Text)
	case CmdStopSpeaking:
		c.stopSpeaking()
	case CmdListAdapters:
		c.emit(EventAdapterList, map[string]interface{}{
			"tts": []string{c.deps.TTS.Name()},
			"stt": []string{c.deps.STT.Name()},
		})
	case CmdPing:
		c.emit(EventPong, nil)
	case CmdImage:
		c.emit(EventImageReceived, map[string]interface{}{"path": cmd.Filename})
	}
}

func randomID() string {
	return time.Now().UTC().Format("20060102T150405.000000000Z")
}
