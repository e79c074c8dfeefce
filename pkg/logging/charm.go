package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

const logFileName = "vmr.log"
const logFileKeep = 5

// CharmLogger adapts charmbracelet/log to the Logger interface. Used by
// cmd/voicemirror and cmd/toolserver; every library package only ever sees
// the Logger interface.
type CharmLogger struct {
	l    *log.Logger
	file *rotatingFile // nil unless NewCharmLoggerWithLogDir opened one
}

// NewCharmLogger builds a logger writing leveled, timestamped output to
// stderr (stdout is reserved for the tool-server's JSON-RPC traffic and the
// controller's stdio event/command protocol).
func NewCharmLogger(prefix string) *CharmLogger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	})
	return &CharmLogger{l: l}
}

// NewCharmLoggerWithLogDir is NewCharmLogger plus a persisted copy of every
// line at {logDir}/vmr.log, rotated daily with the last 5 days kept. Falls
// back to stderr-only logging (with a warning written to stderr) if logDir
// can't be opened, since a broken log file must never take down the agent.
func NewCharmLoggerWithLogDir(prefix, logDir string) *CharmLogger {
	rf, err := newRotatingFile(logDir, logFileName, logFileKeep)
	if err != nil {
		l := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: prefix})
		l.Warn("disabling file logging", "error", err)
		return &CharmLogger{l: l}
	}
	var w io.Writer = io.MultiWriter(os.Stderr, rf)
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	})
	return &CharmLogger{l: l, file: rf}
}

// Close releases the underlying log file, if one was opened.
func (c *CharmLogger) Close() error {
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

func (c *CharmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *CharmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *CharmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *CharmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }

// SetLevel adjusts verbosity at runtime, e.g. from a --verbose flag.
func (c *CharmLogger) SetLevel(level log.Level) {
	c.l.SetLevel(level)
}
