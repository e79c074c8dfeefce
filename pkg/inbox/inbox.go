// Package inbox implements the file-backed message queue and single-listener
// lock that decouple the tool-server process's producers from consumers
// across process boundaries, grounded on the original implementation's
// listener_lock.json reclaim-on-disconnect logic (src-tauri/src/bin/mcp.rs,
// src-tauri/src/ipc/pipe_server.rs) and the write-temp-then-rename atomic
// replace convention used throughout the pack for local file state.
package inbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Message is one entry in the inbox, unique per process lifetime by ID.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	ThreadID  string `json:"thread_id,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Image     string `json:"image,omitempty"`
}

// Inbox is an append-only ordered sequence of Messages persisted as a single
// pretty-printed JSON document at path.
type Inbox struct {
	path string
}

// Open returns an Inbox backed by the file at path. The file is created
// lazily on first Append; a missing or unparseable file reads as empty.
func Open(path string) *Inbox {
	return &Inbox{path: path}
}

// ReadAll loads every message currently persisted. A missing file or a
// parse failure both read as an empty inbox per spec — this is on-disk
// state shared with another process, and corruption or absence must never
// be fatal to the reader.
func (i *Inbox) ReadAll() []Message {
	data, err := os.ReadFile(i.path)
	if err != nil {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil
	}
	return msgs
}

// Append adds msg to the end of the inbox, replacing the file atomically
// (write to a temp sibling, then rename) so a concurrent reader never
// observes a torn file.
func (i *Inbox) Append(msg Message) error {
	msgs := i.ReadAll()
	msgs = append(msgs, msg)
	return i.writeAll(msgs)
}

// Last returns the most recent n messages, optionally filtered by from
// (matched exactly; empty means no filter).
func (i *Inbox) Last(n int, from string) []Message {
	msgs := i.ReadAll()
	if from != "" {
		filtered := msgs[:0:0]
		for _, m := range msgs {
			if m.From == from {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

func (i *Inbox) writeAll(msgs []Message) error {
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("inbox: marshal: %w", err)
	}
	return atomicWrite(i.path, data)
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("inbox: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("inbox: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("inbox: rename: %w", err)
	}
	return nil
}

// ListenerLock records which tool-server instance currently holds the
// single "listening" slot. At most one holder exists; the host clears the
// file when it detects the bridge peer has disconnected, reclaiming the
// lock for whichever instance next calls voice_listen.
type ListenerLock struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockPath returns the conventional listener_lock.json path under dataDir.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "listener_lock.json")
}

// AcquireLock persists a ListenerLock for holderID. The lock is advisory —
// no OS file lock backs it, cooperation is by convention (only the host's
// disconnect handler and ReleaseLock ever remove the file).
func AcquireLock(dataDir, holderID string) error {
	lock := ListenerLock{HolderID: holderID, AcquiredAt: time.Now()}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("inbox: marshal listener lock: %w", err)
	}
	return atomicWrite(LockPath(dataDir), data)
}

// ReadLock returns the current lock holder, or ok=false if no lock file is
// present (absent file means no holder, never an error).
func ReadLock(dataDir string) (lock ListenerLock, ok bool) {
	data, err := os.ReadFile(LockPath(dataDir))
	if err != nil {
		return ListenerLock{}, false
	}
	if err := json.Unmarshal(data, &lock); err != nil {
		return ListenerLock{}, false
	}
	return lock, true
}

// ReleaseLock removes the listener lock file. Called by the host when it
// detects the bridge peer disconnected, so a stale holder never blocks the
// next tool-server instance from listening. Removing an already-absent
// lock is a no-op, matching the original's idempotent clear-on-disconnect
// handling.
func ReleaseLock(dataDir string) error {
	err := os.Remove(LockPath(dataDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("inbox: release listener lock: %w", err)
	}
	return nil
}
