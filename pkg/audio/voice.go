package audio

// Voice names a synthesis voice. Concrete TTS backends map these to their
// own vendor-specific voice IDs; a backend that receives a voice it doesn't
// recognize falls back to its own default rather than erroring.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

// Language is a BCP-47-ish language tag used by STT/TTS/wake-word backends.
type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// SampleRate constants for the two fixed sample rates the pipeline uses.
// Capture/VAD/wake-word/local STT all run at 16 kHz; TTS playback runs at
// whatever rate the synthesizer produces (22.05 kHz for the local backend,
// vendor-defined for cloud backends).
const (
	PipelineSampleRate = 16000
	LocalTTSSampleRate = 22050
)
