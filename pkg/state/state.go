// Package state implements the lock-free audio pipeline state machine:
// Idle -> Listening -> Recording -> Processing -> Listening, with an
// independently tracked recording source. Ported from the original
// voice-core audio::state module, which backs both fields with atomics and
// uses compare-and-swap for every guarded transition.
package state

import "sync/atomic"

// AudioState is the pipeline's top-level mode.
type AudioState int32

const (
	Idle AudioState = iota
	Listening
	Recording
	Processing
)

func (s AudioState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// RecordingSource tags what triggered the current recording, so the
// controller can decide how to route the resulting transcript (e.g. a
// wake-word recording routes through the full pipeline; a dictation
// recording routes straight to a text field).
type RecordingSource int32

const (
	SourceNone RecordingSource = iota
	SourceWakeWord
	SourcePtt
	SourceDictation
)

func (s RecordingSource) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceWakeWord:
		return "wake_word"
	case SourcePtt:
		return "ptt"
	case SourceDictation:
		return "dictation"
	default:
		return "unknown"
	}
}

// Machine is the atomic audio state machine. Zero value is ready to use,
// starting at Idle/SourceNone.
type Machine struct {
	state  atomic.Int32
	source atomic.Int32
}

// New returns a machine starting at Idle with no recording source.
func New() *Machine {
	return &Machine{}
}

// Current returns the current state.
func (m *Machine) Current() AudioState {
	return AudioState(m.state.Load())
}

// Source returns the current recording source (meaningful only while in
// Recording or Processing).
func (m *Machine) Source() RecordingSource {
	return RecordingSource(m.source.Load())
}

// StartListening transitions Idle -> Listening. No-op (returns false) from
// any other state.
func (m *Machine) StartListening() bool {
	return m.state.CompareAndSwap(int32(Idle), int32(Listening))
}

// StartRecording transitions either Idle or Listening into Recording,
// tagging the recording source. Unlike the single-predecessor transitions,
// this one has two valid prior states, so it loops: it reads the current
// state and CASes from that value to Recording, retrying if another
// transition changed the state in between. It reports false as soon as it
// reads a state other than Idle or Listening, so it never overwrites an
// unrelated transition. Source is stored before the state flips to
// Recording, so an observer that reads Current()==Recording always sees the
// correct Source() — never a stale value from a previous recording.
func (m *Machine) StartRecording(source RecordingSource) bool {
	for {
		cur := AudioState(m.state.Load())
		if cur != Idle && cur != Listening {
			return false
		}
		m.source.Store(int32(source))
		if m.state.CompareAndSwap(int32(cur), int32(Recording)) {
			return true
		}
	}
}

// StopRecording transitions Recording -> Processing. No-op otherwise.
func (m *Machine) StopRecording() bool {
	return m.state.CompareAndSwap(int32(Recording), int32(Processing))
}

// FinishProcessing transitions Processing -> Listening. No-op otherwise.
func (m *Machine) FinishProcessing() bool {
	return m.state.CompareAndSwap(int32(Processing), int32(Listening))
}

// Reset unconditionally returns the machine to Idle/SourceNone regardless of
// the current state, for use on error recovery or shutdown.
func (m *Machine) Reset() {
	m.state.Store(int32(Idle))
	m.source.Store(int32(SourceNone))
}
