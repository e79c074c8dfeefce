package stt

import (
	"sync"

	"github.com/voice-mirror/voicemirror/pkg/logging"
)

var legacyWarnOnce sync.Once

// ResolveProviderName resolves deprecated provider aliases to their modern
// replacement, logging a one-time warning per process rather than erroring
// — existing configs naming a retired provider keep working silently except
// for the log line.
func ResolveProviderName(name string, log logging.Logger) string {
	if name != "whisper-cloud-legacy" {
		return name
	}
	legacyWarnOnce.Do(func() {
		if log == nil {
			log = &logging.NoOpLogger{}
		}
		log.Warn("stt provider 'whisper-cloud-legacy' is deprecated, using whisper-local instead")
	})
	return "whisper-local"
}
