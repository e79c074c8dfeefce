package audio

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// EchoSuppressor detects and filters speaker echo out of microphone input
// using correlation-based analysis against recently played audio. Adapted
// from the teacher's conversational echo suppressor, parameterized for the
// pipeline's fixed 16kHz capture rate instead of the teacher's 44.1kHz.
type EchoSuppressor struct {
	mu             sync.Mutex
	sampleRate     int
	playedAudioBuf *bytes.Buffer
	maxBufSize     int
	echoThreshold  float64
	echoSilenceMS  int
	lastTTSTime    time.Time
	enabled        bool
}

// NewEchoSuppressor builds a suppressor sized for the given PCM sample
// rate, buffering roughly 2 seconds of played audio for correlation.
func NewEchoSuppressor(sampleRate int) *EchoSuppressor {
	if sampleRate <= 0 {
		sampleRate = PipelineSampleRate
	}
	return &EchoSuppressor{
		sampleRate:     sampleRate,
		playedAudioBuf: new(bytes.Buffer),
		maxBufSize:     sampleRate * 2 * 2, // ~2s, 16-bit mono
		echoThreshold:  0.55,
		echoSilenceMS:  1200,
		enabled:        true,
	}
}

// RecordPlayedAudio records audio that was just sent to the speakers, to be
// correlated against subsequent capture input.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	if !es.enabled || len(chunk) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.playedAudioBuf.Write(chunk)
	es.lastTTSTime = time.Now()

	if es.playedAudioBuf.Len() > es.maxBufSize {
		data := es.playedAudioBuf.Bytes()
		trim := data[len(data)-es.maxBufSize:]
		es.playedAudioBuf.Reset()
		es.playedAudioBuf.Write(trim)
	}
}

// IsEcho reports whether inputChunk is primarily echo of recently played
// audio, via normalized cross-correlation with an envelope-correlation
// fallback for sounds (sibilants) that phase-shift across the room.
func (es *EchoSuppressor) IsEcho(inputChunk []byte) bool {
	if !es.enabled || len(inputChunk) == 0 {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	if time.Since(es.lastTTSTime) > time.Duration(es.echoSilenceMS)*time.Millisecond {
		return false
	}

	playedData := es.playedAudioBuf.Bytes()
	if len(playedData) == 0 {
		return false
	}

	if es.calculateCorrelation(inputChunk, playedData) > es.echoThreshold {
		return true
	}

	envCorr := maxEnvelopeCorrelation(bytesToSamples(inputChunk), bytesToSamples(playedData), 8)
	return envCorr > es.echoThreshold+0.05
}

func (es *EchoSuppressor) calculateCorrelation(input, reference []byte) float64 {
	if len(input) == 0 || len(reference) == 0 {
		return 0
	}
	inputSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inputSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inputSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	refStart := len(refSamples) - compareLen
	refCompare := refSamples[refStart:]

	inputEnergy := calculateEnergy(inputSamples)
	refCompareEnergy := calculateEnergy(refCompare)
	if inputEnergy == 0 || refCompareEnergy == 0 {
		return 0
	}

	correlation := 0.0
	for i := 0; i < len(inputSamples) && i < len(refCompare); i++ {
		correlation += inputSamples[i] * refCompare[i]
	}

	normFactor := math.Sqrt(inputEnergy * refCompareEnergy)
	if normFactor == 0 {
		return 0
	}
	normalized := correlation / normFactor
	if normalized < 0 {
		normalized = 0
	} else if normalized > 1 {
		normalized = 1
	}
	return normalized
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// ClearEchoBuffer discards buffered played-audio history, e.g. on barge-in
// interrupt so stale playback doesn't suppress the very speech that caused
// the interrupt.
func (es *EchoSuppressor) ClearEchoBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.playedAudioBuf.Reset()
}

// PostProcess runs offline echo removal on 16-bit little-endian mono PCM,
// muting fixed 20ms frames that correlate highly with the stored
// played-audio buffer. Conservative (mutes whole frames); intended for
// offline inspection rather than the realtime capture path.
func (es *EchoSuppressor) PostProcess(input []byte) []byte {
	if !es.enabled || len(input) == 0 {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}

	frameMs := 20
	frameBytes := (es.sampleRate * 2 * frameMs) / 1000

	es.mu.Lock()
	ref := make([]byte, es.playedAudioBuf.Len())
	copy(ref, es.playedAudioBuf.Bytes())
	threshold := es.echoThreshold
	es.mu.Unlock()

	out := make([]byte, len(input))
	copy(out, input)

	for off := 0; off < len(input); off += frameBytes {
		end := off + frameBytes
		if end > len(input) {
			end = len(input)
		}
		frame := input[off:end]
		if es.maxCorrelationAgainstReference(frame, ref) > threshold {
			for i := off; i < end; i++ {
				out[i] = 0
			}
		}
	}
	return out
}

func (es *EchoSuppressor) maxCorrelationAgainstReference(input, reference []byte) float64 {
	inputSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inputSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inputSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	inputEnergy := calculateEnergy(inputSamples[:compareLen])
	if inputEnergy == 0 {
		return 0
	}

	maxCorr := 0.0
	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}
	searchRange := len(refSamples) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		seg := refSamples[pos : pos+compareLen]
		segEnergy := calculateEnergy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := 0; i < compareLen; i++ {
			dot += inputSamples[i] * seg[i]
		}
		corr := dot / math.Sqrt(inputEnergy*segEnergy)
		if corr > maxCorr {
			maxCorr = corr
			if maxCorr >= 0.999 {
				return maxCorr
			}
		}
	}
	if maxCorr < 0 {
		maxCorr = 0
	} else if maxCorr > 1 {
		maxCorr = 1
	}
	return maxCorr
}

// RemoveEchoRealtime mutes the segment of input that best matches recently
// played audio above threshold, rather than subtracting it — a deliberate
// simplification over full acoustic echo cancellation, cheap enough to run
// inline in the capture callback.
func (es *EchoSuppressor) RemoveEchoRealtime(input []byte) []byte {
	if !es.enabled || len(input) == 0 {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}

	es.mu.Lock()
	if time.Since(es.lastTTSTime) > time.Duration(es.echoSilenceMS)*time.Millisecond {
		es.mu.Unlock()
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}
	ref := make([]byte, es.playedAudioBuf.Len())
	copy(ref, es.playedAudioBuf.Bytes())
	threshold := es.echoThreshold
	es.mu.Unlock()

	if len(ref) == 0 {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}

	inSamples := bytesToSamples(input)
	refSamples := bytesToSamples(ref)
	if len(inSamples) == 0 || len(refSamples) == 0 {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}

	compareLen := len(inSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	inSeg := inSamples[:compareLen]
	inEnergy := calculateEnergy(inSeg)
	if inEnergy == 0 {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}

	maxCorr := 0.0
	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}
	searchRange := len(refSamples) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		seg := refSamples[pos : pos+compareLen]
		segEnergy := calculateEnergy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := 0; i < compareLen; i++ {
			dot += inSeg[i] * seg[i]
		}
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > maxCorr {
			maxCorr = corr
			if maxCorr >= 0.999 {
				break
			}
		}
	}

	if maxCorr < threshold {
		envCorr := maxEnvelopeCorrelation(inSeg, refSamples, 8)
		if envCorr < threshold+0.05 {
			out := make([]byte, len(input))
			copy(out, input)
			return out
		}
	}

	outBytes := make([]byte, len(input))
	if len(outBytes) > compareLen*2 {
		copy(outBytes[compareLen*2:], input[compareLen*2:])
	}
	return outBytes
}

func maxEnvelopeCorrelation(inSamples, refSamples []float64, decimation int) float64 {
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}
	inEnv := make([]float64, len(inSamples)/decimation)
	for i := range inEnv {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(inSamples[i*decimation+j])
		}
		inEnv[i] = sum
	}
	refEnv := make([]float64, len(refSamples)/decimation)
	for i := range refEnv {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(refSamples[i*decimation+j])
		}
		refEnv[i] = sum
	}

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := 0.0
	for i := 0; i < compareLen; i++ {
		inMean += inEnv[i]
	}
	inMean /= float64(compareLen)

	inVar := 0.0
	for i := 0; i < compareLen; i++ {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	maxCorr := 0.0
	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}
	searchRange := len(refEnv) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		refMean := 0.0
		for i := 0; i < compareLen; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(compareLen)

		dot := 0.0
		refVar := 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			corr := dot / math.Sqrt(inVar*refVar)
			if corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}

// SetThreshold adjusts echo-detection sensitivity in [0,1]; out-of-range
// values are ignored.
func (es *EchoSuppressor) SetThreshold(threshold float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		es.echoThreshold = threshold
	}
}

// SetEnabled toggles echo suppression on or off.
func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}
