package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-mirror/voicemirror/pkg/bridgetransport"
	"github.com/voice-mirror/voicemirror/pkg/logging"
	"github.com/voice-mirror/voicemirror/pkg/router"
	"github.com/voice-mirror/voicemirror/pkg/toolserver"
)

// main is the standalone tool-server binary spawned by an external AI
// client (e.g. over its own MCP stdio transport) to expose voice_* tools.
// Grounded on the original implementation's src-tauri/src/bin/mcp.rs: a
// dedicated binary reading VOICE_MIRROR_DATA_DIR/VOICE_MIRROR_PIPE/
// ENABLED_GROUPS from its environment, falling back to file-based IPC via
// the inbox when no bridge pipe is available or dialing it fails.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using process environment")
	}

	dataDir := os.Getenv("VOICE_MIRROR_DATA_DIR")
	if dataDir == "" {
		log.Fatal("toolserver: VOICE_MIRROR_DATA_DIR must be set")
	}

	logDir := os.Getenv("VOICE_MIRROR_LOG_DIR")
	if logDir == "" {
		logDir = dataDir + "/logs"
	}
	logger := logging.NewCharmLoggerWithLogDir("toolserver", logDir)
	defer logger.Close()

	groups := parseGroups(os.Getenv("ENABLED_GROUPS"))
	logger.Info("enabled tool groups", "groups", groups)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := connectBridge(ctx, logger)

	srv := toolserver.New(dataDir, bridge, groups, logger)
	mcpServer := srv.Build()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutdown signal received")
		cancel()
	}()

	transport := mcpsdk.NewStdioTransport()
	if err := mcpServer.Run(ctx, transport); err != nil && ctx.Err() == nil {
		log.Fatalf("toolserver: serving stdio transport: %v", err)
	}
}

// connectBridge dials the host process's duplex endpoint if
// VOICE_MIRROR_PIPE names one, returning nil (file-polling fallback mode)
// when the variable is unset or the dial fails — matching mcp.rs's
// documented behavior of degrading to inbox-file polling rather than
// failing outright when the bridge endpoint is unavailable.
func connectBridge(ctx context.Context, logger logging.Logger) *toolserver.Bridge {
	endpoint := os.Getenv("VOICE_MIRROR_PIPE")
	if endpoint == "" {
		logger.Warn("VOICE_MIRROR_PIPE not set, falling back to inbox file polling")
		return nil
	}

	conn, err := bridgetransport.Dial(ctx, endpoint, 5)
	if err != nil {
		logger.Warn("failed to dial bridge endpoint, falling back to inbox file polling", "endpoint", endpoint, "error", err)
		return nil
	}

	rtr := router.New()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// Tool handlers may send concurrently; writeMu keeps each frame's
	// length prefix and payload together on the connection.
	var writeMu sync.Mutex
	send := func(frame interface{}) error {
		var kind router.FrameKind
		switch frame.(type) {
		case router.VoiceSend:
			kind = router.FrameVoiceSend
		case router.ListenStart:
			kind = router.FrameListenStart
		case router.BrowserRequest:
			kind = router.FrameBrowserReq
		default:
			kind = router.FrameReady
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return bridgetransport.WriteMessage(conn, frameEnvelope{Kind: kind, Payload: frame})
	}

	go func() {
		for {
			var frame router.InboundFrame
			if err := bridgetransport.ReadMessage(conn, &frame); err != nil {
				logger.Info("bridge connection closed", "error", err)
				rtr.Shutdown()
				return
			}
			if err := rtr.Dispatch(frame); err != nil {
				logger.Warn("dropping unroutable bridge frame", "error", err)
			}
		}
	}()

	return &toolserver.Bridge{Router: rtr, Send: send}
}

type frameEnvelope struct {
	Kind    router.FrameKind `json:"type"`
	Payload interface{}      `json:"payload"`
}

func parseGroups(raw string) []string {
	if raw == "" {
		return []string{"core"}
	}
	parts := strings.Split(raw, ",")
	groups := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			groups = append(groups, p)
		}
	}
	if len(groups) == 0 {
		return []string{"core"}
	}
	return groups
}
