// Package controller implements the top-level event loop that drives
// capture -> VAD -> wake-word -> STT -> TTS -> playback through a shared
// state machine, plus dispatch of host commands and bridge frames. Grounded on the teacher's cmd/agent/main.go wiring
// (select-driven consumption of a long-lived event stream) and on the
// teacher's ManagedStream turn-taking/interrupt logic (a generation counter
// that invalidates stale async STT callbacks, immediate interrupt on
// barge-in), generalized from "LLM conversation turn" to the full
// audio-pipeline + bridge command surface. Command/Event names mirror the
// original implementation's VoiceCommand/VoiceEvent stdin/stdout JSON-line
// protocol.
package controller

// CommandType enumerates commands the host sends to the controller over
// stdin, one per line as {"command": name, ...}.
type CommandType string

const (
	CmdQuery            CommandType = "query"
	CmdStartRecording    CommandType = "start_recording"
	CmdStopRecording     CommandType = "stop_recording"
	CmdSetMode           CommandType = "set_mode"
	CmdConfigUpdate      CommandType = "config_update"
	CmdListAudioDevices  CommandType = "list_audio_devices"
	CmdSystemSpeak       CommandType = "system_speak"
	CmdStop              CommandType = "stop"
	CmdStopSpeaking      CommandType = "stop_speaking"
	CmdListAdapters      CommandType = "list_adapters"
	CmdPing              CommandType = "ping"
	CmdImage             CommandType = "image"
)

// Command is one decoded stdin line from the host.
type Command struct {
	Type CommandType `json:"command"`

	Text   string `json:"text,omitempty"`
	Image  string `json:"image,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`

	Data     string `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// EventType enumerates events the controller emits to stdout, one per line
// as {"event": name, "data": {...}}.
type EventType string

const (
	EventStarting        EventType = "starting"
	EventLoading          EventType = "loading"
	EventReady            EventType = "ready"
	EventWakeWord         EventType = "wake_word"
	EventRecordingStart   EventType = "recording_start"
	EventRecordingStop    EventType = "recording_stop"
	EventTranscription    EventType = "transcription"
	EventResponse         EventType = "response"
	EventSpeakingStart    EventType = "speaking_start"
	EventSpeakingEnd      EventType = "speaking_end"
	EventError            EventType = "error"
	EventPong             EventType = "pong"
	EventAudioDevices     EventType = "audio_devices"
	EventModeChange       EventType = "mode_change"
	EventSentToInbox      EventType = "sent_to_inbox"
	EventConfigUpdated    EventType = "config_updated"
	EventStopping         EventType = "stopping"
	EventAdapterList      EventType = "adapter_list"
	EventDictationStart   EventType = "dictation_start"
	EventDictationStop    EventType = "dictation_stop"
	EventDictationResult  EventType = "dictation_result"
	EventImageReceived    EventType = "image_received"
	EventListening        EventType = "listening"
	EventPttStart         EventType = "ptt_start"
	EventPttStop          EventType = "ptt_stop"
)

// Event is one emitted stdout line.
type Event struct {
	Type EventType   `json:"event"`
	Data interface{} `json:"data,omitempty"`
}
