package bridgetransport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	winio "github.com/Microsoft/go-winio"

	"github.com/voice-mirror/voicemirror/pkg/logging"
)

// EndpointName generates a unique transport endpoint path for this process,
// grounded on the original implementation's generate_pipe_name: a Unix
// domain socket under the OS temp dir on Unix, a named pipe under \\.\pipe
// on Windows, both keyed by PID so concurrent instances don't collide.
func EndpointName(pid int) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf(`\\.\pipe\voice-mirror-%d`, pid)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("voice-mirror-%d.sock", pid))
}

// Conn is a full-duplex byte stream the Host/Client wrap with
// WriteMessage/ReadMessage.
type Conn interface {
	io.ReadWriteCloser
}

// Accept listens on endpoint and blocks until exactly one client connects,
// matching the original's single-client accept_connection (no loop — the
// host serves one tool-server process per endpoint). A stale Unix socket
// file at the same path is removed first.
func Accept(ctx context.Context, endpoint string, log logging.Logger) (Conn, error) {
	if log == nil {
		log = &logging.NoOpLogger{}
	}

	if runtime.GOOS == "windows" {
		listener, err := winio.ListenPipe(endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("bridgetransport: listen named pipe: %w", err)
		}
		defer listener.Close()
		log.Info("waiting for client connection", "endpoint", endpoint)
		return acceptOne(ctx, listener)
	}

	_ = os.Remove(endpoint)
	listener, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, fmt.Errorf("bridgetransport: listen unix socket: %w", err)
	}
	defer listener.Close()
	log.Info("waiting for client connection", "endpoint", endpoint)
	return acceptOne(ctx, listener)
}

func acceptOne(ctx context.Context, listener net.Listener) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		done <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("bridgetransport: accept: %w", r.err)
		}
		return r.conn, nil
	}
}

// Dial connects to a host endpoint as the tool-server process, retrying
// briefly since the host may not have started listening yet.
func Dial(ctx context.Context, endpoint string, retries int) (Conn, error) {
	var lastErr error
	for i := 0; i < retries; i++ {
		var conn net.Conn
		var err error
		if runtime.GOOS == "windows" {
			conn, err = winio.DialPipeContext(ctx, endpoint)
		} else {
			var d net.Dialer
			conn, err = d.DialContext(ctx, "unix", endpoint)
		}
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("bridgetransport: dial %s: %w", endpoint, lastErr)
}
