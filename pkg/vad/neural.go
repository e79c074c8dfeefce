package vad

import (
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voice-mirror/voicemirror/pkg/logging"
)

// Mode distinguishes the two calling contexts the original Silero VAD
// tunes its energy-fallback threshold for: while actively recording an
// utterance (stricter, since false negatives truncate speech) versus while
// waiting for a quick follow-up after a response (looser, tolerating more
// background noise before re-arming).
type Mode int

const (
	ModeRecording Mode = iota
	ModeFollowUp
)

const (
	windowSamples = 512 // 32ms @ 16kHz, the Silero model's native window
	hiddenSize    = 128
	lstmLayers    = 2
	speechThreshold = 0.5
)

func energyThresholdForMode(m Mode) float64 {
	if m == ModeFollowUp {
		return 0.03
	}
	return 0.01
}

// NeuralVAD wraps an ONNX Silero-style speech detector: 512-sample windows
// at 16kHz, with two LSTM state tensors (h, c) of shape [2,1,128] re-fed
// into the model on every call and updated from its outputs. Degradation is
// two-tiered, mirroring the original: a missing model file or session-build
// error disables inference permanently for this instance (Load logs a
// warning and returns nil, and every subsequent call uses the energy
// fallback); a transient
// per-call inference error falls back to energy for that call only, and the
// next call tries the model again.
type NeuralVAD struct {
	log  logging.Logger
	mode Mode

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	hIn     *ort.Tensor[float32]
	cIn     *ort.Tensor[float32]
	probOut *ort.Tensor[float32]
	hOut    *ort.Tensor[float32]
	cOut    *ort.Tensor[float32]

	loaded   bool
	fallback *EnergyVAD
}

// NewNeuralVAD constructs a NeuralVAD in unloaded state; call Load before
// use. A freshly constructed-but-unloaded instance always uses its energy
// fallback, matching the original's "missing model -> permanent energy
// fallback" behavior.
func NewNeuralVAD(mode Mode, log logging.Logger) *NeuralVAD {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &NeuralVAD{
		log:      log,
		mode:     mode,
		fallback: NewEnergyVAD(energyThresholdForMode(mode), 0),
	}
}

// Load builds the ONNX session for modelPath. On any error it logs a
// warning and leaves the VAD permanently in energy-fallback mode, matching
// the original's load() behavior — it never panics and never propagates the
// error to the caller, since a missing/corrupt VAD model should degrade
// gracefully rather than prevent the pipeline from starting.
func (v *NeuralVAD) Load(modelPath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		v.log.Warn("vad model introspection failed, using energy fallback", "error", err)
		return nil
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, windowSamples))
	if err != nil {
		v.log.Warn("vad input tensor alloc failed, using energy fallback", "error", err)
		return nil
	}
	hIn, err := ort.NewEmptyTensor[float32](ort.NewShape(lstmLayers, 1, hiddenSize))
	if err != nil {
		v.log.Warn("vad h tensor alloc failed, using energy fallback", "error", err)
		return nil
	}
	cIn, err := ort.NewEmptyTensor[float32](ort.NewShape(lstmLayers, 1, hiddenSize))
	if err != nil {
		v.log.Warn("vad c tensor alloc failed, using energy fallback", "error", err)
		return nil
	}
	probOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		v.log.Warn("vad prob tensor alloc failed, using energy fallback", "error", err)
		return nil
	}
	hOut, err := ort.NewEmptyTensor[float32](ort.NewShape(lstmLayers, 1, hiddenSize))
	if err != nil {
		v.log.Warn("vad h-out tensor alloc failed, using energy fallback", "error", err)
		return nil
	}
	cOut, err := ort.NewEmptyTensor[float32](ort.NewShape(lstmLayers, 1, hiddenSize))
	if err != nil {
		v.log.Warn("vad c-out tensor alloc failed, using energy fallback", "error", err)
		return nil
	}

	inNames := namesOf(inputs)
	outNames := namesOf(outputs)

	session, err := ort.NewAdvancedSession(modelPath, inNames, outNames,
		[]ort.Value{inputTensor, hIn, cIn}, []ort.Value{probOut, hOut, cOut}, nil)
	if err != nil {
		v.log.Warn("vad session build failed, using energy fallback", "error", err)
		return nil
	}

	v.session = session
	v.input = inputTensor
	v.hIn, v.cIn = hIn, cIn
	v.probOut, v.hOut, v.cOut = probOut, hOut, cOut
	v.loaded = true
	return nil
}

func namesOf(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Close releases the ONNX session and its tensors.
func (v *NeuralVAD) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.loaded {
		return
	}
	v.session.Destroy()
	v.input.Destroy()
	v.hIn.Destroy()
	v.cIn.Destroy()
	v.probOut.Destroy()
	v.hOut.Destroy()
	v.cOut.Destroy()
	v.loaded = false
}

// Process expects exactly one 512-sample (1024-byte, 16-bit PCM) window. If
// the model isn't loaded, or this call's inference fails, it falls back to
// the energy detector for this call only — unless the model was never
// loaded, in which case every call uses the fallback.
func (v *NeuralVAD) Process(chunk []byte) (bool, float64) {
	v.mu.Lock()
	loaded := v.loaded
	v.mu.Unlock()

	if !loaded {
		return v.fallback.Process(chunk)
	}

	prob, err := v.infer(chunk)
	if err != nil {
		v.log.Warn("vad inference failed for this frame, using energy fallback", "error", err)
		return v.fallback.Process(chunk)
	}
	return prob >= speechThreshold, prob
}

func (v *NeuralVAD) infer(chunk []byte) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	samples := v.input.GetData()
	n := len(samples)
	if n > len(chunk)/2 {
		n = len(chunk) / 2
	}
	for i := 0; i < n; i++ {
		s := int16(chunk[2*i]) | (int16(chunk[2*i+1]) << 8)
		samples[i] = float32(s) / 32768.0
	}
	for i := n; i < len(samples); i++ {
		samples[i] = 0
	}

	copy(v.hIn.GetData(), v.hOut.GetData())
	copy(v.cIn.GetData(), v.cOut.GetData())

	if err := v.session.Run(); err != nil {
		return 0, err
	}

	prob := float64(v.probOut.GetData()[0])
	return prob, nil
}

func (v *NeuralVAD) Reset() {
	v.fallback.Reset()
}

func (v *NeuralVAD) Clone() Detector {
	return &NeuralVAD{
		log:      v.log,
		mode:     v.mode,
		fallback: v.fallback.Clone().(*EnergyVAD),
		loaded:   false, // cloned sessions aren't shared; callers reload per stream
	}
}

func (v *NeuralVAD) Name() string { return "neural_vad" }
