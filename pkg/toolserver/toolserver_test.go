package toolserver

import (
	"context"
	"testing"
	"time"

	"github.com/voice-mirror/voicemirror/pkg/router"
)

func TestVoiceSendAndInbox(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, nil, nil)

	_, out, err := s.voiceSend(context.Background(), nil, VoiceSendInput{
		InstanceID: "claude-1",
		Message:    "hello from the assistant",
	})
	if err != nil {
		t.Fatalf("voiceSend: %v", err)
	}
	if out.MessageID == "" {
		t.Fatal("expected non-empty message id")
	}

	_, listed, err := s.voiceInbox(context.Background(), nil, VoiceInboxInput{Limit: 10})
	if err != nil {
		t.Fatalf("voiceInbox: %v", err)
	}
	if len(listed.Messages) != 1 || listed.Messages[0].Message != "hello from the assistant" {
		t.Fatalf("unexpected inbox contents: %+v", listed.Messages)
	}
}

func TestVoiceListenTimesOutWithoutMatch(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, nil, nil)

	_, out, err := s.voiceListen(context.Background(), nil, VoiceListenInput{
		InstanceID:     "claude-1",
		FromSender:     "user",
		TimeoutSeconds: 1,
	})
	if err != nil {
		t.Fatalf("voiceListen: %v", err)
	}
	if !out.TimedOut {
		t.Fatal("expected timed_out=true when nothing arrives")
	}
}

func TestVoiceListenRejectsConcurrentCallsForSameInstance(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, _, err := s.voiceListen(context.Background(), nil, VoiceListenInput{
			InstanceID:     "claude-1",
			FromSender:     "user",
			TimeoutSeconds: 2,
		})
		done <- err
	}()

	// Give the first call time to register itself as outstanding.
	time.Sleep(50 * time.Millisecond)

	_, _, err := s.voiceListen(context.Background(), nil, VoiceListenInput{
		InstanceID:     "claude-1",
		FromSender:     "user",
		TimeoutSeconds: 1,
	})
	if err == nil {
		t.Fatal("expected error for a second outstanding voice_listen on the same instance")
	}

	<-done
}

func TestVoiceStatusReportsNoListenerWhenLockAbsent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, nil, nil)

	_, status, err := s.voiceStatus(context.Background(), nil, struct{}{})
	if err != nil {
		t.Fatalf("voiceStatus: %v", err)
	}
	if status.ListenerHolder != "" {
		t.Errorf("expected no listener holder, got %q", status.ListenerHolder)
	}
	if status.BridgeActive {
		t.Error("expected bridge inactive with nil bridge")
	}
}

func TestVoiceListenPrefersBridgeUserMessageOverInboxPolling(t *testing.T) {
	dir := t.TempDir()
	bridge := &Bridge{Router: router.New(), Send: func(interface{}) error { return nil }}
	s := New(dir, bridge, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		bridge.Router.UserMessages <- router.UserMessage{From: "user", Message: "hi from bridge"}
	}()

	_, out, err := s.voiceListen(context.Background(), nil, VoiceListenInput{
		InstanceID:     "claude-1",
		FromSender:     "user",
		TimeoutSeconds: 2,
	})
	if err != nil {
		t.Fatalf("voiceListen: %v", err)
	}
	if out.Message != "hi from bridge" {
		t.Fatalf("expected message from bridge, got %+v", out)
	}
}

func TestVoiceListenBridgeShutdownUnblocks(t *testing.T) {
	dir := t.TempDir()
	bridge := &Bridge{Router: router.New(), Send: func(interface{}) error { return nil }}
	s := New(dir, bridge, nil, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		bridge.Router.Shutdown()
	}()

	done := make(chan error, 1)
	go func() {
		_, _, err := s.voiceListen(context.Background(), nil, VoiceListenInput{
			InstanceID:     "claude-1",
			FromSender:     "user",
			TimeoutSeconds: 5,
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error once the bridge router shut down")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("voiceListen did not unblock after router shutdown")
	}
}

func TestLoadUnloadGroupIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, nil, nil)
	srv := s.Build()
	_ = srv

	_, out, err := s.loadGroup(context.Background(), nil, LoadGroupInput{Group: groupMemory})
	if err != nil {
		t.Fatalf("loadGroup: %v", err)
	}
	if out.AlreadyLoaded {
		t.Fatal("expected first load to report not already loaded")
	}

	_, out2, err := s.loadGroup(context.Background(), nil, LoadGroupInput{Group: groupMemory})
	if err != nil {
		t.Fatalf("loadGroup (second time): %v", err)
	}
	if !out2.AlreadyLoaded {
		t.Fatal("expected loading an already-loaded group to report already loaded, not error")
	}

	_, unloadOut, err := s.unloadGroup(context.Background(), nil, UnloadGroupInput{Group: groupMemory})
	if err != nil {
		t.Fatalf("unloadGroup: %v", err)
	}
	if !unloadOut.WasLoaded {
		t.Fatal("expected first unload to report it was loaded")
	}

	_, unloadOut2, err := s.unloadGroup(context.Background(), nil, UnloadGroupInput{Group: groupMemory})
	if err != nil {
		t.Fatalf("unloadGroup (second time): %v", err)
	}
	if unloadOut2.WasLoaded {
		t.Fatal("expected unloading an already-unloaded group to be a no-op, not report it was loaded")
	}
}

func TestUnloadGroupRejectsCore(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, nil, nil)
	s.Build()

	if _, _, err := s.unloadGroup(context.Background(), nil, UnloadGroupInput{Group: groupCore}); err == nil {
		t.Fatal("expected unloading the core group to error")
	}
}

func TestMemoryPutGetList(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, []string{groupMemory}, nil)

	if _, _, err := s.memoryPut(context.Background(), nil, MemoryPutInput{Key: "favorite_color", Value: "teal"}); err != nil {
		t.Fatalf("memoryPut: %v", err)
	}

	_, got, err := s.memoryGet(context.Background(), nil, MemoryGetInput{Key: "favorite_color"})
	if err != nil {
		t.Fatalf("memoryGet: %v", err)
	}
	if !got.Found || got.Value != "teal" {
		t.Fatalf("expected to find stored value, got %+v", got)
	}

	_, missing, err := s.memoryGet(context.Background(), nil, MemoryGetInput{Key: "nope"})
	if err != nil {
		t.Fatalf("memoryGet (missing): %v", err)
	}
	if missing.Found {
		t.Fatal("expected missing key to report not found")
	}

	_, listed, err := s.memoryList(context.Background(), nil, struct{}{})
	if err != nil {
		t.Fatalf("memoryList: %v", err)
	}
	if listed.Entries["favorite_color"] != "teal" {
		t.Fatalf("expected stored entry in list, got %+v", listed.Entries)
	}
}

func TestBrowserActionRequiresBridge(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil, []string{groupBrowser}, nil)

	if _, _, err := s.browserAction(context.Background(), nil, BrowserActionInput{Action: "click"}); err == nil {
		t.Fatal("expected an error when no bridge is connected")
	}
}

func TestBrowserActionRoundTripsThroughRouterCorrelation(t *testing.T) {
	dir := t.TempDir()
	rtr := router.New()
	var lastReq router.BrowserRequest
	bridge := &Bridge{
		Router: rtr,
		Send: func(frame interface{}) error {
			if br, ok := frame.(router.BrowserRequest); ok {
				lastReq = br
				go rtr.DispatchResponse(router.BrowserResponse{RequestID: br.RequestID, Success: true})
			}
			return nil
		},
	}
	s := New(dir, bridge, []string{groupBrowser}, nil)

	_, out, err := s.browserAction(context.Background(), nil, BrowserActionInput{Action: "click"})
	if err != nil {
		t.Fatalf("browserAction: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success response, got %+v", out)
	}
	if lastReq.Action != "click" {
		t.Fatalf("expected action to be forwarded, got %+v", lastReq)
	}
}
