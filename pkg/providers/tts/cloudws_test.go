package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voice-mirror/voicemirror/pkg/audio"
)

func TestCloudWSTTSStreamSynthesizePCM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		conn.Write(r.Context(), websocket.MessageBinary, []byte{1, 2, 3})
		conn.Write(r.Context(), websocket.MessageBinary, []byte{4, 5, 6})
		conn.Write(r.Context(), websocket.MessageText, []byte("EOS"))
	}))
	defer server.Close()

	tts := NewCloudWSTTS("test-key", strings.TrimPrefix(server.URL, "http://"), "pcm")
	tts.scheme = "ws"

	var out []byte
	err := tts.StreamSynthesize(context.Background(), "hello", audio.VoiceF1, audio.LanguageEn, func(chunk []byte) error {
		out = append(out, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 6 {
		t.Errorf("expected 6 bytes, got %d", len(out))
	}
	if tts.Name() != "cloud-ws" {
		t.Errorf("expected cloud-ws, got %s", tts.Name())
	}
	tts.Close()
}

func TestCloudWSTTSServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		conn.Write(r.Context(), websocket.MessageText, []byte("ERR:synthesis failed"))
	}))
	defer server.Close()

	tts := NewCloudWSTTS("test-key", strings.TrimPrefix(server.URL, "http://"), "pcm")
	tts.scheme = "ws"

	err := tts.StreamSynthesize(context.Background(), "hello", audio.VoiceF1, audio.LanguageEn, func([]byte) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error from server ERR: sentinel")
	}
}

func TestCloudWSTTSAbort(t *testing.T) {
	unblock := make(chan struct{})
	received := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")

		var req map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		close(received)
		<-unblock
	}))
	defer server.Close()

	tts := NewCloudWSTTS("test-key", strings.TrimPrefix(server.URL, "http://"), "pcm")
	tts.scheme = "ws"

	done := make(chan error, 1)
	go func() {
		done <- tts.StreamSynthesize(context.Background(), "hello", audio.VoiceF1, audio.LanguageEn, func([]byte) error {
			return nil
		})
	}()

	// Abort only once the request is in flight, so there is a call to cancel.
	<-received
	if err := tts.Abort(); err != nil {
		t.Fatalf("unexpected error from Abort: %v", err)
	}
	close(unblock)

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected abort to surface a context-cancellation error, got %v", err)
	}
}
