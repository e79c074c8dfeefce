package router

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRouterDispatchVoiceSend(t *testing.T) {
	r := New()
	payload, _ := json.Marshal(VoiceSend{From: "claude", Message: "hi", MessageID: "m-1", Timestamp: "t"})
	if err := r.Dispatch(InboundFrame{Kind: FrameVoiceSend, Payload: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case v := <-r.VoiceSends:
		if v.Message != "hi" {
			t.Errorf("expected message %q, got %q", "hi", v.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for voice send")
	}
}

func TestRouterDispatchReady(t *testing.T) {
	r := New()
	if err := r.Dispatch(InboundFrame{Kind: FrameReady}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-r.Readys:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ready")
	}
}

func TestRouterUnknownFrameKind(t *testing.T) {
	r := New()
	if err := r.Dispatch(InboundFrame{Kind: "nonsense"}); err == nil {
		t.Fatal("expected error for unknown frame kind")
	}
}

func TestRouterBrowserResponseCorrelation(t *testing.T) {
	r := New()
	ch := r.AwaitBrowserResponse("req-1")

	go r.DispatchResponse(BrowserResponse{RequestID: "req-1", Success: true})

	select {
	case resp := <-ch:
		if !resp.Success {
			t.Error("expected success response")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for browser response")
	}
}

func TestRouterBrowserResponseUncorrelatedIsDropped(t *testing.T) {
	r := New()
	// No waiter registered — should not panic or block.
	r.DispatchResponse(BrowserResponse{RequestID: "no-such-request"})
}

func TestRouterCancelBrowserResponse(t *testing.T) {
	r := New()
	r.AwaitBrowserResponse("req-2")
	r.CancelBrowserResponse("req-2")
	// Dispatching after cancel should be a harmless no-op.
	r.DispatchResponse(BrowserResponse{RequestID: "req-2"})
}

func TestRouterDispatchUserMessage(t *testing.T) {
	r := New()
	payload, _ := json.Marshal(UserMessage{ID: "u-1", From: "user", Message: "hey"})
	if err := r.Dispatch(InboundFrame{Kind: FrameUserMessage, Payload: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case v := <-r.UserMessages:
		if v.Message != "hey" {
			t.Errorf("expected message %q, got %q", "hey", v.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for user message")
	}
}

func TestRouterDispatchBrowserResponseRoutesToWaiter(t *testing.T) {
	r := New()
	ch := r.AwaitBrowserResponse("req-3")
	payload, _ := json.Marshal(BrowserResponse{RequestID: "req-3", Success: true})
	if err := r.Dispatch(InboundFrame{Kind: FrameBrowserResp, Payload: payload}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case resp := <-ch:
		if !resp.Success {
			t.Error("expected success response")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for browser response")
	}
}

func TestRouterDispatchBrowserResponseUncorrelatedReturnsError(t *testing.T) {
	r := New()
	payload, _ := json.Marshal(BrowserResponse{RequestID: "no-such-request"})
	if err := r.Dispatch(InboundFrame{Kind: FrameBrowserResp, Payload: payload}); err == nil {
		t.Fatal("expected error for uncorrelated browser response")
	}
}

func TestRouterDispatchShutdownClosesDoneAndCancelsWaiters(t *testing.T) {
	r := New()
	ch := r.AwaitBrowserResponse("req-4")

	if err := r.Dispatch(InboundFrame{Kind: FrameShutdown}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not close after Shutdown")
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected pending waiter channel to be closed with zero value")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled waiter channel to close")
	}

	// Shutdown is idempotent.
	r.Shutdown()
}

func TestRouterFullChannelDropsFrame(t *testing.T) {
	r := New()
	// Fill the Readys buffer (capacity 4) then dispatch one more — must not
	// block or error.
	for i := 0; i < 4; i++ {
		_ = r.Dispatch(InboundFrame{Kind: FrameReady})
	}
	done := make(chan struct{})
	go func() {
		_ = r.Dispatch(InboundFrame{Kind: FrameReady})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full channel instead of dropping")
	}
}
