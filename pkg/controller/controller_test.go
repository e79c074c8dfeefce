package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voice-mirror/voicemirror/pkg/audio"
	"github.com/voice-mirror/voicemirror/pkg/inbox"
	"github.com/voice-mirror/voicemirror/pkg/router"
	"github.com/voice-mirror/voicemirror/pkg/state"
)

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []byte, lang audio.Language) (string, error) {
	return f.text, f.err
}
func (f *fakeSTT) Name() string { return "fake-stt" }

type fakeTTS struct {
	chunks  [][]byte
	err     error
	aborted bool
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language) ([]byte, error) {
	return []byte(text), f.err
}

func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language, onChunk func([]byte) error) error {
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTTS) Abort() error {
	f.aborted = true
	return nil
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func newTestController(t *testing.T, dataDir string) (*Controller, *fakeSTT, *fakeTTS) {
	t.Helper()
	sttP := &fakeSTT{text: "hello world"}
	ttsP := &fakeTTS{chunks: [][]byte{{1, 2}, {3, 4}}}
	c := New(Deps{
		STT:     sttP,
		TTS:     ttsP,
		Inbox:   inbox.Open(dataDir + "/inbox.json"),
		DataDir: dataDir,
	})
	return c, sttP, ttsP
}

func TestRunSTTRoutesTranscriptAndAdvancesState(t *testing.T) {
	dir := t.TempDir()
	c, _, _ := newTestController(t, dir)

	c.machine.StartListening()
	c.machine.StartRecording(state.SourceWakeWord)
	c.machine.StopRecording()

	var gotEvent bool
	go func() {
		for ev := range c.events {
			if ev.Type == EventSentToInbox {
				gotEvent = true
			}
		}
	}()

	c.runSTT(context.Background(), []byte{0, 0}, 0)

	if c.machine.Current().String() != "listening" {
		t.Fatalf("expected listening after finishing STT, got %s", c.machine.Current())
	}

	msgs := c.deps.Inbox.ReadAll()
	if len(msgs) != 1 || msgs[0].Message != "hello world" {
		t.Fatalf("expected transcript routed to inbox, got %+v", msgs)
	}
	_ = gotEvent
}

func TestRunSTTDropsStaleGeneration(t *testing.T) {
	dir := t.TempDir()
	c, _, _ := newTestController(t, dir)
	c.machine.StartListening()
	c.machine.StartRecording(state.SourceWakeWord)

	c.mu.Lock()
	c.sttGeneration = 5
	c.mu.Unlock()

	// generation 0 passed in is stale relative to the current generation.
	c.runSTT(context.Background(), []byte{0, 0}, 0)

	msgs := c.deps.Inbox.ReadAll()
	if len(msgs) != 0 {
		t.Fatalf("expected stale STT result to be dropped, got %+v", msgs)
	}
	if c.machine.Current().String() != "recording" {
		t.Fatalf("expected machine to remain in recording when result is stale, got %s", c.machine.Current())
	}
}

func TestRunSTTEmitsErrorWithoutRoutingOnFailure(t *testing.T) {
	dir := t.TempDir()
	c, sttP, _ := newTestController(t, dir)
	sttP.err = errors.New("boom")
	c.machine.StartListening()
	c.machine.StartRecording(state.SourceWakeWord)
	c.machine.StopRecording()

	c.runSTT(context.Background(), []byte{0, 0}, 0)

	msgs := c.deps.Inbox.ReadAll()
	if len(msgs) != 0 {
		t.Fatalf("expected no inbox message on STT error, got %+v", msgs)
	}
	if c.machine.Current().String() != "listening" {
		t.Fatalf("expected state to still advance to listening on STT error, got %s", c.machine.Current())
	}
}

func TestHandleCommandPingPong(t *testing.T) {
	dir := t.TempDir()
	c, _, _ := newTestController(t, dir)

	c.handleCommand(context.Background(), Command{Type: CmdPing})

	select {
	case ev := <-c.events:
		if ev.Type != EventPong {
			t.Fatalf("expected pong event, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong event")
	}
}

func TestHandleCommandSetModeEmitsModeChange(t *testing.T) {
	dir := t.TempDir()
	c, _, _ := newTestController(t, dir)

	c.handleCommand(context.Background(), Command{Type: CmdSetMode, Mode: "dictation"})

	ev := <-c.events
	if ev.Type != EventModeChange {
		t.Fatalf("expected mode_change event, got %s", ev.Type)
	}
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode != "dictation" {
		t.Fatalf("expected mode to be updated to dictation, got %s", mode)
	}
}

func TestHandleCommandListAdaptersReportsProviderNames(t *testing.T) {
	dir := t.TempDir()
	c, _, _ := newTestController(t, dir)

	c.handleCommand(context.Background(), Command{Type: CmdListAdapters})

	ev := <-c.events
	if ev.Type != EventAdapterList {
		t.Fatalf("expected adapter_list event, got %s", ev.Type)
	}
	data, ok := ev.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map payload, got %T", ev.Data)
	}
	tts, _ := data["tts"].([]string)
	if len(tts) != 1 || tts[0] != "fake-tts" {
		t.Fatalf("expected tts adapter name fake-tts, got %v", tts)
	}
}

func TestHandleCommandQueryAppendsToInbox(t *testing.T) {
	dir := t.TempDir()
	c, _, _ := newTestController(t, dir)

	c.handleCommand(context.Background(), Command{Type: CmdQuery, Text: "what time is it"})

	msgs := c.deps.Inbox.ReadAll()
	if len(msgs) != 1 || msgs[0].Message != "what time is it" {
		t.Fatalf("expected query text appended to inbox, got %+v", msgs)
	}
}

func TestHandleVoiceSendSpeaksThroughFakeTTS(t *testing.T) {
	dir := t.TempDir()
	c, _, ttsP := newTestController(t, dir)

	done := make(chan struct{})
	go func() {
		for ev := range c.events {
			if ev.Type == EventSpeakingEnd {
				close(done)
				return
			}
		}
	}()

	c.handleVoiceSend(context.Background(), router.VoiceSend{Message: "hello there"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speaking_end event")
	}
	if len(ttsP.chunks) == 0 {
		t.Fatal("expected fake tts to have configured chunks")
	}
}

func TestStopSpeakingIsNilSafeWithoutSink(t *testing.T) {
	dir := t.TempDir()
	c, _, ttsP := newTestController(t, dir)
	c.ttsInFlight.Store(true)

	c.stopSpeaking()

	if !ttsP.aborted {
		t.Fatal("expected in-flight TTS to be aborted")
	}
}
