package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRotatingFileWritesToBaseFile(t *testing.T) {
	dir := t.TempDir()
	rf, err := newRotatingFile(dir, "vmr.log", 5)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer rf.Close()

	if _, err := rf.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "vmr.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestRotatingFileRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	rf, err := newRotatingFile(dir, "vmr.log", 5)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer rf.Close()

	if _, err := rf.Write([]byte("day one\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	yesterday := time.Now().Add(-24 * time.Hour)
	if err := rf.rotate(yesterday); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	rf.day = yesterday.Format("2006-01-02")

	if _, err := rf.Write([]byte("day two\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 files after rotation, got %d: %v", len(entries), entries)
	}
}

func TestRotatingFilePrunesOldRotations(t *testing.T) {
	dir := t.TempDir()
	base := "vmr.log"
	for i := 1; i <= 7; i++ {
		name := base + ".2026-01-0" + string(rune('0'+i))
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	rf, err := newRotatingFile(dir, base, 5)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer rf.Close()
	rf.prune()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var rotations int
	for _, e := range entries {
		if e.Name() != base {
			rotations++
		}
	}
	if rotations != 5 {
		t.Fatalf("expected 5 rotations kept, got %d", rotations)
	}
}
