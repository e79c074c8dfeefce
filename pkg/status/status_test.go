package status

import "testing"

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()

	if err := Write(dir, Snapshot{State: "listening", Mode: "conversation"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap, ok := Read(dir)
	if !ok {
		t.Fatal("expected snapshot to be read back")
	}
	if snap.State != "listening" || snap.Mode != "conversation" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, ok := Read(dir); ok {
		t.Error("expected ok=false for missing status file")
	}
}

func TestReadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, Snapshot{State: "idle"}); err != nil {
		t.Fatalf("setup write: %v", err)
	}
	if err := writeRaw(dir, []byte("not json")); err != nil {
		t.Fatalf("setup corrupt: %v", err)
	}
	if _, ok := Read(dir); ok {
		t.Error("expected ok=false for corrupt status file")
	}
}

func TestOverwriteReplacesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	_ = Write(dir, Snapshot{State: "listening"})
	_ = Write(dir, Snapshot{State: "recording", Source: "ptt"})

	snap, ok := Read(dir)
	if !ok || snap.State != "recording" || snap.Source != "ptt" {
		t.Fatalf("expected latest snapshot to win, got %+v ok=%v", snap, ok)
	}
}
