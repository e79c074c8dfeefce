// Package status persists a rolling snapshot of pipeline state to
// {data_dir}/status.json, grounded on pkg/inbox's write-temp-then-rename
// atomic replace convention for local file state shared across processes.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the current state.Machine reading plus listener/bridge
// context, written on every state transition so an external process (the
// tool server's voice_status tool, or a human debugging a stuck session)
// can inspect pipeline state without attaching to stdout.
type Snapshot struct {
	State        string    `json:"state"`
	Source       string    `json:"source,omitempty"`
	Mode         string    `json:"mode"`
	BridgeActive bool      `json:"bridge_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Path returns the conventional status.json path under dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "status.json")
}

// Write atomically replaces {dataDir}/status.json with snap. Failures are
// returned, not panicked on: a write failure here must never interrupt the
// audio pipeline that's reporting its own state.
func Write(dataDir string, snap Snapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("status: marshal: %w", err)
	}
	path := Path(dataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("status: create dir: %w", err)
	}
	return writeRaw(dataDir, data)
}

// writeRaw performs the write-temp-then-rename atomic replace of
// status.json; split out so tests can write deliberately corrupt content.
func writeRaw(dataDir string, data []byte) error {
	path := Path(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("status: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("status: rename: %w", err)
	}
	return nil
}

// Read loads the current snapshot. A missing or unparseable file reads as
// a zero Snapshot with ok=false, matching inbox's tolerant-reader contract.
func Read(dataDir string) (snap Snapshot, ok bool) {
	data, err := os.ReadFile(Path(dataDir))
	if err != nil {
		return Snapshot{}, false
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}
