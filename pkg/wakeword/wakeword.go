// Package wakeword implements an openWakeWord-style three-stage ONNX
// pipeline: melspectrogram -> embedding -> per-keyword classifier, fed by
// 80ms capture chunks and scored over a trailing window to smooth
// frame-alignment jitter. Adapted from the retrieval pack's wake-word
// detector reference implementation, generalized from a single hard-coded
// model to multiple independently-thresholded named keyword models.
package wakeword

import (
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voice-mirror/voicemirror/pkg/logging"
)

const (
	sampleRate      = 16000
	chunkSamples    = 1280 // 80ms @ 16kHz
	melBins         = 32
	nMelFrames      = 5 // mel frames produced per chunk
	melWindowSize   = 76
	melStepSize     = 8
	embeddingDim    = 96
	nEmbedFrames    = 16
	scoreWindowSize = 5 // ~400ms trailing max-score window
	recentWindow    = 5 // only the most recent N of nEmbedFrames slots are kept non-zero
)

// Detection reports a fired keyword with its trigger score.
type Detection struct {
	Model string
	Score float64
}

// KeywordModel is one loaded keyword classifier plus its own threshold.
type KeywordModel struct {
	Name      string
	ModelPath string
	Threshold float64
}

// Config configures the shared melspectrogram/embedding models plus the set
// of keyword classifiers to run against their output.
type Config struct {
	MelspecModel  string
	EmbeddingModel string
	OnnxLib       string
	Keywords      []KeywordModel
	Cooldown      time.Duration
}

func (c *Config) defaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 1500 * time.Millisecond
	}
	for i := range c.Keywords {
		if c.Keywords[i].Threshold <= 0 {
			c.Keywords[i].Threshold = 0.3
		}
	}
}

type keywordState struct {
	cfg         KeywordModel
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	scoreWindow []float64
	lastFired   time.Time
}

// Detector runs the full pipeline off a stream of raw 16kHz mono PCM chunks
// supplied via Feed, invoking OnDetected for every keyword whose windowed
// score crosses its threshold outside of cooldown.
type Detector struct {
	cfg Config
	log logging.Logger

	mu         sync.Mutex
	paused     bool
	needsReset bool

	melSession *ort.AdvancedSession
	melInput   *ort.Tensor[float32]
	melOutput  *ort.Tensor[float32]

	embedSession *ort.AdvancedSession
	embedInput   *ort.Tensor[float32]
	embedOutput  *ort.Tensor[float32]

	melHistory   [][]float32 // rolling mel-frame history, melWindowSize deep
	embedHistory [][]float32 // rolling embedding history, nEmbedFrames deep

	keywords []*keywordState

	OnDetected func(Detection)

	chunksProcessed int64
	embedsComputed  int64
}

// New constructs a Detector. Call Open to build ONNX sessions before Feed.
func New(cfg Config, log logging.Logger) *Detector {
	cfg.defaults()
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &Detector{cfg: cfg, log: log}
}

// Open initializes the shared ONNX environment (idempotent at the process
// level — callers sharing a process with NeuralVAD only need one of them to
// call ort.SetSharedLibraryPath/InitializeEnvironment) and builds all three
// model stages (one classifier session per keyword) plus the shared mel and
// embedding history buffers.
func (d *Detector) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.OnnxLib != "" {
		ort.SetSharedLibraryPath(d.cfg.OnnxLib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("wakeword: init onnxruntime: %w", err)
	}

	var err error
	d.melInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, chunkSamples))
	if err != nil {
		return fmt.Errorf("wakeword: mel input tensor: %w", err)
	}
	d.melOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, nMelFrames, melBins))
	if err != nil {
		return fmt.Errorf("wakeword: mel output tensor: %w", err)
	}
	melIn, melOut, err := ort.GetInputOutputInfo(d.cfg.MelspecModel)
	if err != nil {
		return fmt.Errorf("wakeword: mel model info: %w", err)
	}
	d.melSession, err = ort.NewAdvancedSession(d.cfg.MelspecModel,
		namesOf(melIn), namesOf(melOut),
		[]ort.Value{d.melInput}, []ort.Value{d.melOutput}, nil)
	if err != nil {
		return fmt.Errorf("wakeword: mel session: %w", err)
	}

	d.embedInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindowSize, melBins, 1))
	if err != nil {
		return fmt.Errorf("wakeword: embed input tensor: %w", err)
	}
	d.embedOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, embeddingDim))
	if err != nil {
		return fmt.Errorf("wakeword: embed output tensor: %w", err)
	}
	embIn, embOut, err := ort.GetInputOutputInfo(d.cfg.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("wakeword: embed model info: %w", err)
	}
	d.embedSession, err = ort.NewAdvancedSession(d.cfg.EmbeddingModel,
		namesOf(embIn), namesOf(embOut),
		[]ort.Value{d.embedInput}, []ort.Value{d.embedOutput}, nil)
	if err != nil {
		return fmt.Errorf("wakeword: embed session: %w", err)
	}

	for i := 0; i < melWindowSize; i++ {
		d.melHistory = append(d.melHistory, make([]float32, melBins))
	}
	for i := 0; i < nEmbedFrames; i++ {
		d.embedHistory = append(d.embedHistory, make([]float32, embeddingDim))
	}

	for _, kw := range d.cfg.Keywords {
		ks := &keywordState{cfg: kw}
		ks.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, nEmbedFrames, embeddingDim))
		if err != nil {
			return fmt.Errorf("wakeword: %s input tensor: %w", kw.Name, err)
		}
		ks.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
		if err != nil {
			return fmt.Errorf("wakeword: %s output tensor: %w", kw.Name, err)
		}
		kwIn, kwOut, err := ort.GetInputOutputInfo(kw.ModelPath)
		if err != nil {
			return fmt.Errorf("wakeword: %s model info: %w", kw.Name, err)
		}
		ks.session, err = ort.NewAdvancedSession(kw.ModelPath,
			namesOf(kwIn), namesOf(kwOut),
			[]ort.Value{ks.input}, []ort.Value{ks.output}, nil)
		if err != nil {
			return fmt.Errorf("wakeword: %s session: %w", kw.Name, err)
		}
		d.keywords = append(d.keywords, ks)
	}
	return nil
}

func namesOf(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Close tears down every ONNX session and tensor this detector owns.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ks := range d.keywords {
		ks.session.Destroy()
		ks.input.Destroy()
		ks.output.Destroy()
	}
	if d.melSession != nil {
		d.melSession.Destroy()
		d.melInput.Destroy()
		d.melOutput.Destroy()
	}
	if d.embedSession != nil {
		d.embedSession.Destroy()
		d.embedInput.Destroy()
		d.embedOutput.Destroy()
	}
	ort.DestroyEnvironment()
}

// Pause stops keyword scoring; while paused, Feed returns immediately
// without touching any buffer or running inference, cheaper than tearing
// sessions down when
// the controller is in Recording/Processing and wake-word detection is
// temporarily irrelevant.
func (d *Detector) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume re-enables scoring and flushes stale history on the next Feed call,
// so that audio buffered while paused doesn't produce a spurious detection
// against now-stale mel/embedding context.
func (d *Detector) Resume() {
	d.mu.Lock()
	d.paused = false
	d.needsReset = true
	d.mu.Unlock()
}

// Feed accepts one chunkSamples-sample (2560-byte) mono 16kHz PCM chunk and
// runs it through the pipeline, invoking OnDetected for any keyword whose
// trailing score window crosses its threshold outside cooldown.
func (d *Detector) Feed(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.paused {
		return nil
	}
	if d.needsReset {
		d.resetHistoryLocked()
		d.needsReset = false
	}

	samples := d.melInput.GetData()
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

	if err := d.melSession.Run(); err != nil {
		return fmt.Errorf("wakeword: mel inference: %w", err)
	}
	d.chunksProcessed++

	melOut := d.melOutput.GetData()
	for f := 0; f < nMelFrames; f++ {
		frame := make([]float32, melBins)
		copy(frame, melOut[f*melBins:(f+1)*melBins])
		d.melHistory = append(d.melHistory[1:], frame)
	}

	embedIn := d.embedInput.GetData()
	for i, frame := range d.melHistory {
		copy(embedIn[i*melBins:(i+1)*melBins], frame)
	}
	if err := d.embedSession.Run(); err != nil {
		return fmt.Errorf("wakeword: embedding inference: %w", err)
	}
	d.embedsComputed++

	embedding := make([]float32, embeddingDim)
	copy(embedding, d.embedOutput.GetData())
	d.embedHistory = append(d.embedHistory[1:], embedding)

	for _, ks := range d.keywords {
		kwIn := ks.input.GetData()
		// Only the most recent `recentWindow` embedding slots are kept
		// populated; older slots are zeroed. This mirrors a fresh-launch
		// high-confidence state and prevents long runs of silence
		// embeddings from accumulating and suppressing detection.
		start := len(d.embedHistory) - recentWindow
		for i, frame := range d.embedHistory {
			dst := kwIn[i*embeddingDim : (i+1)*embeddingDim]
			if i < start {
				for j := range dst {
					dst[j] = 0
				}
				continue
			}
			copy(dst, frame)
		}

		if err := ks.session.Run(); err != nil {
			return fmt.Errorf("wakeword: %s inference: %w", ks.cfg.Name, err)
		}
		score := float64(ks.output.GetData()[0])

		ks.scoreWindow = append(ks.scoreWindow, score)
		if len(ks.scoreWindow) > scoreWindowSize {
			ks.scoreWindow = ks.scoreWindow[1:]
		}
		maxScore := 0.0
		for _, s := range ks.scoreWindow {
			if s > maxScore {
				maxScore = s
			}
		}

		if maxScore >= ks.cfg.Threshold && time.Since(ks.lastFired) >= d.cfg.Cooldown {
			ks.lastFired = time.Now()
			ks.scoreWindow = ks.scoreWindow[:0]
			if d.OnDetected != nil {
				d.OnDetected(Detection{Model: ks.cfg.Name, Score: maxScore})
			}
		}
	}
	return nil
}

func (d *Detector) resetHistoryLocked() {
	for i := range d.melHistory {
		for j := range d.melHistory[i] {
			d.melHistory[i][j] = 0
		}
	}
	for i := range d.embedHistory {
		for j := range d.embedHistory[i] {
			d.embedHistory[i][j] = 0
		}
	}
	for _, ks := range d.keywords {
		ks.scoreWindow = ks.scoreWindow[:0]
	}
}

// Stats reports lightweight pipeline counters for periodic diagnostic
// logging by the controller.
func (d *Detector) Stats() (chunksProcessed, embedsComputed int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chunksProcessed, d.embedsComputed
}
