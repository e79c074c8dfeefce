// Package toolserver exposes the voice bridge's core tools over stdio
// JSON-RPC 2.0, grounded structurally on the method-switch dispatch style
// the pack's MCP server implementations share ("MCP errors still return a
// successful transport-level response"), adapted here from HTTP
// request/response to stdin/stdout framing, and on the original
// implementation's src-tauri/src/bin/mcp.rs for the two-process split and
// env var contract (VOICE_MIRROR_DATA_DIR, VOICE_MIRROR_PIPE,
// ENABLED_GROUPS). Dependency: github.com/modelcontextprotocol/go-sdk,
// server-side (mcp.NewServer / mcp.AddTool / mcp.StdioTransport).
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-mirror/voicemirror/pkg/inbox"
	"github.com/voice-mirror/voicemirror/pkg/logging"
	"github.com/voice-mirror/voicemirror/pkg/metrics"
	"github.com/voice-mirror/voicemirror/pkg/router"
	"github.com/voice-mirror/voicemirror/pkg/status"
)

const defaultListenTimeout = 600 * time.Second
const defaultBrowserTimeout = 30 * time.Second

// Tool group names, per spec.md §4.12 ("Core, Memory, Screen, Browser,
// etc."). Core is always enabled and cannot be unloaded.
const (
	groupCore    = "core"
	groupMemory  = "memory"
	groupScreen  = "screen"
	groupBrowser = "browser"
)

var knownGroups = map[string]bool{
	groupCore:    true,
	groupMemory:  true,
	groupScreen:  true,
	groupBrowser: true,
}

// groupToolNames lists the tool names RemoveTools needs to detach a group;
// groupScreen has none yet — it's a reserved partition with no tools
// implemented in this build.
var groupToolNames = map[string][]string{
	groupMemory:  {"voice_memory_put", "voice_memory_get", "voice_memory_list"},
	groupBrowser: {"voice_browser_action"},
}

// Bridge is the subset of router functionality the tool server needs to
// talk to the host process. A nil Bridge means the bridge endpoint was
// unavailable and the server falls back to polling the inbox file, per
// spec.md's "bridge as optional fast path" design note.
type Bridge struct {
	Router *router.Router
	Send   func(frame interface{}) error
}

// Server wires the voice_* tools to an Inbox and an optional Bridge, and
// gates the Memory/Screen/Browser tool groups behind ENABLED_GROUPS plus
// runtime load_group/unload_group requests.
type Server struct {
	log     logging.Logger
	dataDir string
	inbox   *inbox.Inbox
	bridge  *Bridge
	memory  *memoryStore

	mu       sync.Mutex
	listened map[string]bool // instance_id -> a voice_listen call is outstanding
	groups   map[string]bool
	mcp      *mcpsdk.Server
}

// New builds a Server. bridge may be nil (file-polling fallback mode).
// groups lists the tool groups to enable at startup in addition to the
// always-on core group, typically parsed from ENABLED_GROUPS.
func New(dataDir string, bridge *Bridge, groups []string, log logging.Logger) *Server {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	enabled := map[string]bool{groupCore: true}
	for _, g := range groups {
		if g != "" && g != groupCore {
			enabled[g] = true
		}
	}
	return &Server{
		log:      log,
		dataDir:  dataDir,
		inbox:    inbox.Open(dataDir + "/inbox.json"),
		bridge:   bridge,
		memory:   newMemoryStore(dataDir + "/memory.json"),
		listened: make(map[string]bool),
		groups:   enabled,
	}
}

// Build constructs the mcp-go-sdk server with the core tools, the
// load_group/unload_group control tools, and every group named at
// construction time already attached.
func (s *Server) Build() *mcpsdk.Server {
	impl := &mcpsdk.Implementation{Name: "voice-mirror-tools", Version: "1.0.0"}
	srv := mcpsdk.NewServer(impl, nil)

	s.mu.Lock()
	s.mcp = srv
	startup := make([]string, 0, len(s.groups))
	for g := range s.groups {
		startup = append(startup, g)
	}
	s.mu.Unlock()

	s.addCoreTools(srv)
	for _, g := range startup {
		if g == groupCore {
			continue
		}
		s.attachGroup(srv, g)
	}

	return srv
}

func (s *Server) addCoreTools(srv *mcpsdk.Server) {
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "voice_listen",
		Description: "Block until a user message arrives matching the filter, the timeout expires, or the server shuts down.",
	}, s.voiceListen)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "voice_send",
		Description: "Send a message to the user via the voice bridge and append it to the inbox.",
	}, s.voiceSend)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "voice_inbox",
		Description: "Read the last N inbox messages, optionally filtered by sender.",
	}, s.voiceInbox)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "voice_status",
		Description: "Report the current listener lock holder and most recent recording/transcript state.",
	}, s.voiceStatus)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "load_group",
		Description: "Load a tool group (memory, screen, browser) for this session. Loading an already-loaded group is a no-op.",
	}, s.loadGroup)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "unload_group",
		Description: "Unload a tool group for this session. Unloading a not-loaded group is a no-op; the core group can't be unloaded.",
	}, s.unloadGroup)
}

// attachGroup registers the tools for a non-core group. Called both at
// startup (for groups named in ENABLED_GROUPS) and from loadGroup.
func (s *Server) attachGroup(srv *mcpsdk.Server, name string) {
	switch name {
	case groupMemory:
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        "voice_memory_put",
			Description: "Store a key/value note in the session memory store.",
		}, s.memoryPut)
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        "voice_memory_get",
			Description: "Retrieve a note previously stored with voice_memory_put.",
		}, s.memoryGet)
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        "voice_memory_list",
			Description: "List every note currently in the session memory store.",
		}, s.memoryList)
	case groupBrowser:
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        "voice_browser_action",
			Description: "Issue a browser action to the host and await its result. Browser automation itself runs outside this process.",
		}, s.browserAction)
	case groupScreen:
		// Reserved partition point; no tools implemented in this build.
	}
}

// VoiceListenInput is voice_listen's argument shape.
type VoiceListenInput struct {
	InstanceID     string `json:"instance_id"`
	FromSender     string `json:"from_sender"`
	ThreadID       string `json:"thread_id,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// VoiceListenOutput is voice_listen's result shape.
type VoiceListenOutput struct {
	Message  string `json:"message,omitempty"`
	From     string `json:"from,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (s *Server) voiceListen(ctx context.Context, _ *mcpsdk.CallToolRequest, in VoiceListenInput) (*mcpsdk.CallToolResult, VoiceListenOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_listen").Inc()
	s.mu.Lock()
	if s.listened[in.InstanceID] {
		s.mu.Unlock()
		return nil, VoiceListenOutput{}, fmt.Errorf("toolserver: voice_listen already outstanding for instance %q", in.InstanceID)
	}
	s.listened[in.InstanceID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listened, in.InstanceID)
		s.mu.Unlock()
	}()

	timeout := defaultListenTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}

	if s.bridge != nil {
		_ = s.bridge.Send(router.ListenStart{
			InstanceID: in.InstanceID,
			FromSender: in.FromSender,
			ThreadID:   in.ThreadID,
		})
	}

	if err := inbox.AcquireLock(s.dataDir, in.InstanceID); err != nil {
		s.log.Warn("voice_listen: failed to acquire listener lock", "error", err)
	}

	// With a bridge connected the transcript arrives live as a
	// router.UserMessage frame; per spec.md §9 the bridge path takes
	// precedence over inbox polling, and §4.11 describes the UserMessage
	// queue as single-consumer and awaited directly by the blocking call.
	if s.bridge != nil {
		return s.awaitOnBridge(ctx, in, timeout)
	}
	return s.awaitOnInbox(ctx, in, timeout)
}

func (s *Server) awaitOnBridge(ctx context.Context, in VoiceListenInput, timeout time.Duration) (*mcpsdk.CallToolResult, VoiceListenOutput, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, VoiceListenOutput{}, ctx.Err()
		case <-s.bridge.Router.Done():
			return nil, VoiceListenOutput{}, fmt.Errorf("toolserver: bridge router shut down while awaiting voice_listen")
		case <-timer.C:
			return nil, VoiceListenOutput{TimedOut: true}, nil
		case m := <-s.bridge.Router.UserMessages:
			if m.From != in.FromSender || (in.ThreadID != "" && m.ThreadID != in.ThreadID) {
				continue
			}
			return nil, VoiceListenOutput{Message: m.Message, From: m.From}, nil
		}
	}
}

func (s *Server) awaitOnInbox(ctx context.Context, in VoiceListenInput, timeout time.Duration) (*mcpsdk.CallToolResult, VoiceListenOutput, error) {
	deadline := time.Now().Add(timeout)
	// Messages already in the inbox when the call starts are skipped, so
	// only a message that arrives during the wait satisfies it.
	seen := make(map[string]bool)
	for _, m := range s.inbox.Last(20, "") {
		seen[m.ID] = true
	}
	for {
		for _, m := range s.inbox.Last(20, "") {
			if seen[m.ID] {
				continue
			}
			if m.From == in.FromSender && (in.ThreadID == "" || m.ThreadID == in.ThreadID) {
				return nil, VoiceListenOutput{Message: m.Message, From: m.From}, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, VoiceListenOutput{TimedOut: true}, nil
		}
		select {
		case <-ctx.Done():
			return nil, VoiceListenOutput{}, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// VoiceSendInput is voice_send's argument shape.
type VoiceSendInput struct {
	InstanceID string `json:"instance_id"`
	Message    string `json:"message"`
	ThreadID   string `json:"thread_id,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`
}

// VoiceSendOutput confirms a send.
type VoiceSendOutput struct {
	MessageID string `json:"message_id"`
}

func (s *Server) voiceSend(ctx context.Context, _ *mcpsdk.CallToolRequest, in VoiceSendInput) (*mcpsdk.CallToolResult, VoiceSendOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_send").Inc()
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	if s.bridge != nil {
		if err := s.bridge.Send(router.VoiceSend{
			From:      in.InstanceID,
			Message:   in.Message,
			ThreadID:  in.ThreadID,
			ReplyTo:   in.ReplyTo,
			MessageID: id,
			Timestamp: now,
		}); err != nil {
			return nil, VoiceSendOutput{}, fmt.Errorf("toolserver: voice_send: %w", err)
		}
	}

	if err := s.inbox.Append(inbox.Message{
		ID:        id,
		From:      in.InstanceID,
		Timestamp: now,
		Message:   in.Message,
		ThreadID:  in.ThreadID,
		ReplyTo:   in.ReplyTo,
	}); err != nil {
		return nil, VoiceSendOutput{}, fmt.Errorf("toolserver: voice_send: append inbox: %w", err)
	}

	return nil, VoiceSendOutput{MessageID: id}, nil
}

// VoiceInboxInput is voice_inbox's argument shape.
type VoiceInboxInput struct {
	Limit  int    `json:"limit,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// VoiceInboxOutput is voice_inbox's result shape.
type VoiceInboxOutput struct {
	Messages []inbox.Message `json:"messages"`
}

func (s *Server) voiceInbox(ctx context.Context, _ *mcpsdk.CallToolRequest, in VoiceInboxInput) (*mcpsdk.CallToolResult, VoiceInboxOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_inbox").Inc()
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	return nil, VoiceInboxOutput{Messages: s.inbox.Last(limit, in.Filter)}, nil
}

// VoiceStatusOutput reports current bridge/listener/pipeline state.
type VoiceStatusOutput struct {
	ListenerHolder  string   `json:"listener_holder,omitempty"`
	BridgeActive    bool     `json:"bridge_active"`
	PipelineState   string   `json:"pipeline_state,omitempty"`
	RecordingSource string   `json:"recording_source,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	Groups          []string `json:"groups"`
}

func (s *Server) voiceStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, VoiceStatusOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_status").Inc()
	lock, _ := inbox.ReadLock(s.dataDir)
	out := VoiceStatusOutput{
		ListenerHolder: lock.HolderID,
		BridgeActive:   s.bridge != nil,
		Groups:         s.loadedGroups(),
	}
	if snap, ok := status.Read(s.dataDir); ok {
		out.PipelineState = snap.State
		out.RecordingSource = snap.Source
		out.Mode = snap.Mode
	}
	return nil, out, nil
}

func (s *Server) loadedGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

// LoadGroupInput is load_group's argument shape.
type LoadGroupInput struct {
	Group string `json:"group"`
}

// LoadGroupOutput reports whether the group is now loaded and whether it
// already was.
type LoadGroupOutput struct {
	Group         string `json:"group"`
	Loaded        bool   `json:"loaded"`
	AlreadyLoaded bool   `json:"already_loaded"`
}

func (s *Server) loadGroup(ctx context.Context, _ *mcpsdk.CallToolRequest, in LoadGroupInput) (*mcpsdk.CallToolResult, LoadGroupOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("load_group").Inc()
	if !knownGroups[in.Group] {
		return nil, LoadGroupOutput{}, fmt.Errorf("toolserver: unknown tool group %q", in.Group)
	}

	s.mu.Lock()
	already := s.groups[in.Group]
	if !already {
		s.groups[in.Group] = true
	}
	srv := s.mcp
	s.mu.Unlock()

	// Loading an already-loaded group is a no-op, per spec.md §8.
	if !already && in.Group != groupCore {
		s.attachGroup(srv, in.Group)
	}
	return nil, LoadGroupOutput{Group: in.Group, Loaded: true, AlreadyLoaded: already}, nil
}

// UnloadGroupInput is unload_group's argument shape.
type UnloadGroupInput struct {
	Group string `json:"group"`
}

// UnloadGroupOutput reports whether the group is now unloaded and whether
// it had been loaded before the call.
type UnloadGroupOutput struct {
	Group     string `json:"group"`
	Unloaded  bool   `json:"unloaded"`
	WasLoaded bool   `json:"was_loaded"`
}

func (s *Server) unloadGroup(ctx context.Context, _ *mcpsdk.CallToolRequest, in UnloadGroupInput) (*mcpsdk.CallToolResult, UnloadGroupOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("unload_group").Inc()
	if in.Group == groupCore {
		return nil, UnloadGroupOutput{}, fmt.Errorf("toolserver: the core group cannot be unloaded")
	}
	if !knownGroups[in.Group] {
		return nil, UnloadGroupOutput{}, fmt.Errorf("toolserver: unknown tool group %q", in.Group)
	}

	s.mu.Lock()
	wasLoaded := s.groups[in.Group]
	if wasLoaded {
		delete(s.groups, in.Group)
	}
	srv := s.mcp
	s.mu.Unlock()

	// Unloading a not-loaded group is a no-op, per spec.md §8.
	if wasLoaded {
		if names := groupToolNames[in.Group]; len(names) > 0 {
			srv.RemoveTools(names...)
		}
	}
	return nil, UnloadGroupOutput{Group: in.Group, Unloaded: true, WasLoaded: wasLoaded}, nil
}

// MemoryPutInput is voice_memory_put's argument shape.
type MemoryPutInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MemoryPutOutput confirms a store.
type MemoryPutOutput struct {
	Key string `json:"key"`
}

func (s *Server) memoryPut(ctx context.Context, _ *mcpsdk.CallToolRequest, in MemoryPutInput) (*mcpsdk.CallToolResult, MemoryPutOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_memory_put").Inc()
	if err := s.memory.Put(in.Key, in.Value); err != nil {
		return nil, MemoryPutOutput{}, fmt.Errorf("toolserver: voice_memory_put: %w", err)
	}
	return nil, MemoryPutOutput{Key: in.Key}, nil
}

// MemoryGetInput is voice_memory_get's argument shape.
type MemoryGetInput struct {
	Key string `json:"key"`
}

// MemoryGetOutput is voice_memory_get's result shape.
type MemoryGetOutput struct {
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

func (s *Server) memoryGet(ctx context.Context, _ *mcpsdk.CallToolRequest, in MemoryGetInput) (*mcpsdk.CallToolResult, MemoryGetOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_memory_get").Inc()
	v, ok := s.memory.Get(in.Key)
	return nil, MemoryGetOutput{Value: v, Found: ok}, nil
}

// MemoryListOutput is voice_memory_list's result shape.
type MemoryListOutput struct {
	Entries map[string]string `json:"entries"`
}

func (s *Server) memoryList(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, MemoryListOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_memory_list").Inc()
	return nil, MemoryListOutput{Entries: s.memory.List()}, nil
}

// BrowserActionInput is voice_browser_action's argument shape.
type BrowserActionInput struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// BrowserActionOutput is voice_browser_action's result shape.
type BrowserActionOutput struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// browserAction issues a BrowserRequest frame and awaits the matching
// BrowserResponse via the router's correlation map, per spec.md §4.12.
// Performing the requested action is the host's job (browser automation
// itself is listed as out of scope in spec.md §1); this tool only exercises
// the request/response contract and its timeout.
func (s *Server) browserAction(ctx context.Context, _ *mcpsdk.CallToolRequest, in BrowserActionInput) (*mcpsdk.CallToolResult, BrowserActionOutput, error) {
	metrics.ToolCallsTotal.WithLabelValues("voice_browser_action").Inc()
	if s.bridge == nil {
		return nil, BrowserActionOutput{}, fmt.Errorf("toolserver: voice_browser_action requires a connected bridge")
	}

	reqID := uuid.NewString()
	waiter := s.bridge.Router.AwaitBrowserResponse(reqID)
	if err := s.bridge.Send(router.BrowserRequest{RequestID: reqID, Action: in.Action, Args: in.Args}); err != nil {
		s.bridge.Router.CancelBrowserResponse(reqID)
		return nil, BrowserActionOutput{}, fmt.Errorf("toolserver: voice_browser_action: %w", err)
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, BrowserActionOutput{}, fmt.Errorf("toolserver: voice_browser_action: bridge shut down while awaiting response")
		}
		return nil, BrowserActionOutput{Success: resp.Success, Result: resp.Result, Error: resp.Error}, nil
	case <-time.After(defaultBrowserTimeout):
		s.bridge.Router.CancelBrowserResponse(reqID)
		return nil, BrowserActionOutput{}, fmt.Errorf("toolserver: voice_browser_action: timed out after %s", defaultBrowserTimeout)
	case <-ctx.Done():
		s.bridge.Router.CancelBrowserResponse(reqID)
		return nil, BrowserActionOutput{}, ctx.Err()
	}
}
