// Package bridgetransport implements the length-framed JSON duplex
// transport used between the voicemirror host process and the tool-server
// process it spawns, grounded line-for-line on the original implementation's
// write_message/read_message: a 4-byte little-endian length prefix followed
// by a JSON payload, capped at 10 MiB.
package bridgetransport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame's JSON payload. Screenshots and other
// attachments can run several MB as base64, so the cap is generous.
const MaxMessageSize = 10 * 1024 * 1024

// WriteMessage writes v as a length-prefixed JSON frame to w.
func WriteMessage(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridgetransport: marshal: %w", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("bridgetransport: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("bridgetransport: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed JSON frame from r and unmarshals it
// into v. It returns io.EOF (unwrapped) if the connection closed cleanly
// exactly at a frame boundary, matching the original's "UnexpectedEof on the
// length prefix means a clean close" behavior.
func ReadMessage(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("bridgetransport: read length prefix: %w", err)
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxMessageSize {
		return fmt.Errorf("bridgetransport: message too large: %d bytes (max %d)", length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("bridgetransport: read payload: %w", err)
	}

	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("bridgetransport: unmarshal: %w", err)
	}
	return nil
}
