// Package router demultiplexes frames read off the bridge transport by kind
// (the four the tool-server sends and the three the host sends, since both
// ends use it), and correlates
// BrowserResponse frames back to the BrowserRequest that asked for them.
// Grounded on the teacher's ManagedStream event-channel pattern (buffered
// channel, non-blocking panic-safe send) and on the original implementation's
// pipe_server.rs dispatch_message / BrowserRequest-BrowserResponse round
// trip.
package router

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FrameKind identifies every frame shape exchanged over the bridge
// transport, in either direction.
type FrameKind string

const (
	// Tool-server -> host.
	FrameVoiceSend   FrameKind = "voice_send"
	FrameListenStart FrameKind = "listen_start"
	FrameReady       FrameKind = "ready"
	FrameBrowserReq  FrameKind = "browser_request"

	// Host -> tool-server.
	FrameUserMessage FrameKind = "user_message"
	FrameBrowserResp FrameKind = "browser_response"
	FrameShutdown    FrameKind = "shutdown"
)

// InboundFrame is the envelope every tool-server->host message arrives in;
// Payload is re-decoded into the concrete type once Kind is known.
type InboundFrame struct {
	Kind    FrameKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// VoiceSend is an AI-originated message to speak/display, mirroring
// McpToApp::VoiceSend.
type VoiceSend struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	ThreadID  string `json:"thread_id,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

// ListenStart mirrors McpToApp::ListenStart — the AI side is now waiting
// for a UserMessage on the bridge.
type ListenStart struct {
	InstanceID string `json:"instance_id"`
	FromSender string `json:"from_sender"`
	ThreadID   string `json:"thread_id,omitempty"`
}

// BrowserRequest is a tool-initiated request for the host to perform a
// local action (e.g. a browser/automation action) and report a result.
type BrowserRequest struct {
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Args      json.RawMessage `json:"args"`
}

// BrowserResponse answers a BrowserRequest by RequestID.
type BrowserResponse struct {
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// UserMessage is host-to-tool-server chat input, mirroring
// AppToMcp::UserMessage.
type UserMessage struct {
	ID           string `json:"id"`
	From         string `json:"from"`
	Message      string `json:"message"`
	ThreadID     string `json:"thread_id,omitempty"`
	Timestamp    string `json:"timestamp"`
	ImagePath    string `json:"image_path,omitempty"`
	ImageDataURL string `json:"image_data_url,omitempty"`
}

// Router owns a buffered dispatch channel per inbound frame kind plus a
// request_id-keyed correlation map so a caller that issued a BrowserRequest
// can await its matching BrowserResponse without threading a channel through
// every layer. The same type is instantiated on both ends of the bridge:
// the host dispatches the tool-server's outbound frames (VoiceSend,
// ListenStart, Ready, BrowserRequest); the tool-server dispatches the
// host's outbound frames (UserMessage, BrowserResponse, Shutdown).
type Router struct {
	VoiceSends   chan VoiceSend
	ListenStarts chan ListenStart
	Readys       chan struct{}
	BrowserReqs  chan BrowserRequest
	UserMessages chan UserMessage

	mu      sync.Mutex
	pending map[string]chan BrowserResponse

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a Router with channel buffers sized generously enough that a
// slow consumer doesn't stall the transport's read loop.
func New() *Router {
	return &Router{
		VoiceSends:   make(chan VoiceSend, 64),
		ListenStarts: make(chan ListenStart, 16),
		Readys:       make(chan struct{}, 4),
		BrowserReqs:  make(chan BrowserRequest, 32),
		UserMessages: make(chan UserMessage, 64),
		pending:      make(map[string]chan BrowserResponse),
		done:         make(chan struct{}),
	}
}

// Done returns a channel that closes once Shutdown has run, for a blocking
// voice_listen call to select on alongside its UserMessage queue.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Dispatch decodes one InboundFrame and routes it to the matching channel,
// non-blocking — a full channel drops the frame rather than stalling the
// caller's read loop.
func (r *Router) Dispatch(frame InboundFrame) error {
	switch frame.Kind {
	case FrameVoiceSend:
		var v VoiceSend
		if err := json.Unmarshal(frame.Payload, &v); err != nil {
			return fmt.Errorf("router: decode voice_send: %w", err)
		}
		r.sendVoiceSend(v)
	case FrameListenStart:
		var v ListenStart
		if err := json.Unmarshal(frame.Payload, &v); err != nil {
			return fmt.Errorf("router: decode listen_start: %w", err)
		}
		r.sendListenStart(v)
	case FrameReady:
		r.sendReady()
	case FrameBrowserReq:
		var v BrowserRequest
		if err := json.Unmarshal(frame.Payload, &v); err != nil {
			return fmt.Errorf("router: decode browser_request: %w", err)
		}
		r.sendBrowserReq(v)
	case FrameUserMessage:
		var v UserMessage
		if err := json.Unmarshal(frame.Payload, &v); err != nil {
			return fmt.Errorf("router: decode user_message: %w", err)
		}
		r.sendUserMessage(v)
	case FrameBrowserResp:
		var v BrowserResponse
		if err := json.Unmarshal(frame.Payload, &v); err != nil {
			return fmt.Errorf("router: decode browser_response: %w", err)
		}
		if !r.DispatchResponse(v) {
			return fmt.Errorf("router: browser_response %s has no waiter", v.RequestID)
		}
	case FrameShutdown:
		r.Shutdown()
	default:
		return fmt.Errorf("router: unknown frame kind %q", frame.Kind)
	}
	return nil
}

func (r *Router) sendVoiceSend(v VoiceSend) {
	defer recoverClosedChannel()
	select {
	case r.VoiceSends <- v:
	default:
	}
}

func (r *Router) sendListenStart(v ListenStart) {
	defer recoverClosedChannel()
	select {
	case r.ListenStarts <- v:
	default:
	}
}

func (r *Router) sendReady() {
	defer recoverClosedChannel()
	select {
	case r.Readys <- struct{}{}:
	default:
	}
}

func (r *Router) sendBrowserReq(v BrowserRequest) {
	defer recoverClosedChannel()
	select {
	case r.BrowserReqs <- v:
	default:
	}
}

func (r *Router) sendUserMessage(v UserMessage) {
	defer recoverClosedChannel()
	select {
	case r.UserMessages <- v:
	default:
	}
}

func recoverClosedChannel() {
	// Dispatch can race a shutdown close of a channel; swallow the resulting
	// panic the way the teacher's ManagedStream.emit does.
	_ = recover()
}

// AwaitBrowserResponse registers a correlation entry for requestID and
// returns a channel that receives exactly one BrowserResponse once
// DispatchResponse is called with a matching RequestID.
func (r *Router) AwaitBrowserResponse(requestID string) <-chan BrowserResponse {
	ch := make(chan BrowserResponse, 1)
	r.mu.Lock()
	r.pending[requestID] = ch
	r.mu.Unlock()
	return ch
}

// DispatchResponse delivers resp to the waiter registered under its
// RequestID, if any, clearing the correlation entry. Reports false when no
// waiter was registered, per spec.md §4.11 ("responses without a waiter are
// discarded with a warning") — the caller logs the warning.
func (r *Router) DispatchResponse(resp BrowserResponse) bool {
	r.mu.Lock()
	ch, ok := r.pending[resp.RequestID]
	if ok {
		delete(r.pending, resp.RequestID)
	}
	r.mu.Unlock()
	if ok {
		ch <- resp
		close(ch)
	}
	return ok
}

// Shutdown cancels every outstanding BrowserResponse correlation (closing
// its channel so any waiter unblocks with a zero value) and closes Done(),
// per spec.md §4.11's Shutdown frame ("cancels any outstanding listen and
// closes the router"). Idempotent.
func (r *Router) Shutdown() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		for id, ch := range r.pending {
			close(ch)
			delete(r.pending, id)
		}
		r.mu.Unlock()
		close(r.done)
	})
}

// CancelBrowserResponse drops a pending correlation entry without a
// response, used when a caller gives up waiting (e.g. on context
// cancellation) so the map doesn't grow unbounded with abandoned requests.
func (r *Router) CancelBrowserResponse(requestID string) {
	r.mu.Lock()
	delete(r.pending, requestID)
	r.mu.Unlock()
}
