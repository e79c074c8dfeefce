package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// rotatingFile is a daily-rotated, keep-last-N log file writer. No example
// in the retrieval pack imports a rotation library (lumberjack,
// rotatelogs, or similar) anywhere in the corpus, so this is a small stdlib
// implementation rather than a fabricated dependency; see DESIGN.md.
type rotatingFile struct {
	mu   sync.Mutex
	dir  string
	base string // e.g. "vmr.log"
	keep int
	day  string // YYYY-MM-DD of the currently open file
	f    *os.File
}

// newRotatingFile opens (or creates) dir/base, rotating to dir/base.YYYY-MM-DD
// whenever the wall-clock day changes and pruning to the most recent keep
// rotated files.
func newRotatingFile(dir, base string, keep int) (*rotatingFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	rf := &rotatingFile{dir: dir, base: base, keep: keep}
	if err := rf.open(time.Now()); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open(now time.Time) error {
	f, err := os.OpenFile(filepath.Join(rf.dir, rf.base), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	rf.f = f
	rf.day = now.Format("2006-01-02")
	return nil
}

// Write implements io.Writer. A day rollover renames the current file aside
// under its date suffix and opens a fresh one, pruning older rotations.
func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	now := time.Now()
	if now.Format("2006-01-02") != rf.day {
		if err := rf.rotate(now); err != nil {
			return 0, err
		}
	}
	return rf.f.Write(p)
}

func (rf *rotatingFile) rotate(now time.Time) error {
	path := filepath.Join(rf.dir, rf.base)
	if rf.f != nil {
		_ = rf.f.Close()
	}
	rotated := fmt.Sprintf("%s.%s", path, rf.day)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, rotated)
	}
	if err := rf.open(now); err != nil {
		return err
	}
	rf.prune()
	return nil
}

// prune keeps only the rf.keep most recent dated rotations of base.
func (rf *rotatingFile) prune() {
	entries, err := os.ReadDir(rf.dir)
	if err != nil {
		return
	}
	prefix := rf.base + "."
	var rotations []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			rotations = append(rotations, e.Name())
		}
	}
	if len(rotations) <= rf.keep {
		return
	}
	sort.Strings(rotations) // date suffix sorts chronologically
	for _, name := range rotations[:len(rotations)-rf.keep] {
		_ = os.Remove(filepath.Join(rf.dir, name))
	}
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return nil
	}
	return rf.f.Close()
}
