package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voice-mirror/voicemirror/pkg/audio"
)

// CloudWSTTS streams synthesis requests over a websocket, generalized from
// the teacher's LokutorTTS: dial-and-cache the connection, send a JSON
// request, read a mix of binary audio-chunk frames and text sentinel
// frames ("EOS" ends the stream, "ERR:"-prefixed signals an error). scheme
// defaults to "wss" but is overridable for tests against a local plaintext
// server.
type CloudWSTTS struct {
	apiKey string
	host   string
	scheme string
	format string // "pcm" or "mp3"

	mu      sync.Mutex
	conn    *websocket.Conn
	current context.CancelFunc
}

// NewCloudWSTTS builds a cloud websocket TTS client against host (e.g.
// "api.example.com"), authenticating with apiKey. format selects the wire
// audio encoding the server is asked to stream ("pcm" or "mp3").
func NewCloudWSTTS(apiKey, host, format string) *CloudWSTTS {
	if format == "" {
		format = "pcm"
	}
	return &CloudWSTTS{
		apiKey: apiKey,
		host:   host,
		scheme: "wss",
		format: format,
	}
}

func (t *CloudWSTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("cloudws tts: dial: %w", err)
	}
	t.conn = conn
	return conn, nil
}

func (t *CloudWSTTS) Synthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language) ([]byte, error) {
	var out []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		out = append(out, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *CloudWSTTS) StreamSynthesize(ctx context.Context, text string, voice audio.Voice, lang audio.Language, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.current = cancel
	t.mu.Unlock()
	defer cancel()

	req := map[string]interface{}{
		"text":   text,
		"voice":  string(voice),
		"lang":   string(lang),
		"format": t.format,
		"speed":  1.05,
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn()
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("cloudws tts: send request: %w", err)
	}

	var mp3Buf []byte
	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.dropConn()
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("cloudws tts: read: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if t.format == "mp3" {
				mp3Buf = append(mp3Buf, payload...)
				continue
			}
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				if t.format == "mp3" && len(mp3Buf) > 0 {
					pcm, err := decodeMP3ToPCM16(mp3Buf)
					if err != nil {
						return fmt.Errorf("cloudws tts: mp3 decode: %w", err)
					}
					return onChunk(pcm)
				}
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("cloudws tts: server error: %s", msg)
			}
		}
	}
}

// Abort cancels the current in-flight StreamSynthesize call, if any.
func (t *CloudWSTTS) Abort() error {
	t.mu.Lock()
	cancel := t.current
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (t *CloudWSTTS) dropConn() {
	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
}

func (t *CloudWSTTS) Name() string {
	return "cloud-ws"
}

func (t *CloudWSTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
