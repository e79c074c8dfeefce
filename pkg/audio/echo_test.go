package audio

import (
	"math"
	"testing"
	"time"
)

func generateSine(freq float64, durationMs int, sampleRate int, amp float64) []byte {
	n := sampleRate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		tt := float64(i) / float64(sampleRate)
		v := amp * math.Sin(2*math.Pi*freq*tt)
		s := int16(v * 32767)
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return buf
}

func pcmEnergy(b []byte) float64 {
	if len(b) < 2 {
		return 0
	}
	sum := 0.0
	for i := 0; i < len(b)-1; i += 2 {
		s := int16(b[i]) | (int16(b[i+1]) << 8)
		f := float64(s) / 32768.0
		sum += f * f
	}
	return sum
}

func TestEchoSuppressorPostProcessMutesEchoKeepsUser(t *testing.T) {
	sr := 16000
	played := generateSine(440, 500, sr, 0.8)
	user := generateSine(1200, 300, sr, 0.8)

	silence := make([]byte, sr*100/1000*2)
	echoAtt := make([]byte, len(played))
	for i := 0; i < len(played); i += 2 {
		s := int16(played[i]) | (int16(played[i+1]) << 8)
		s = int16(float64(s) * 0.25)
		echoAtt[i] = byte(s)
		echoAtt[i+1] = byte(s >> 8)
	}

	mic := append([]byte{}, silence...)
	mic = append(mic, echoAtt...)
	mic = append(mic, user...)
	mic = append(mic, echoAtt...)

	es := NewEchoSuppressor(sr)
	es.RecordPlayedAudio(played)
	es.lastTTSTime = time.Now()

	out := es.PostProcess(mic)

	offEcho1 := len(silence)
	offUser := offEcho1 + len(echoAtt)
	offEcho2 := offUser + len(user)

	eEcho1Before := pcmEnergy(mic[offEcho1 : offEcho1+len(echoAtt)])
	eEcho1After := pcmEnergy(out[offEcho1 : offEcho1+len(echoAtt)])
	eUserBefore := pcmEnergy(mic[offUser : offUser+len(user)])
	eUserAfter := pcmEnergy(out[offUser : offUser+len(user)])
	eEcho2Before := pcmEnergy(mic[offEcho2 : offEcho2+len(echoAtt)])
	eEcho2After := pcmEnergy(out[offEcho2 : offEcho2+len(echoAtt)])

	if eEcho1After > eEcho1Before*0.2 {
		t.Fatalf("echo1 not sufficiently suppressed: before=%v after=%v", eEcho1Before, eEcho1After)
	}
	if eEcho2After > eEcho2Before*0.2 {
		t.Fatalf("echo2 not sufficiently suppressed: before=%v after=%v", eEcho2Before, eEcho2After)
	}
	if math.Abs(eUserAfter-eUserBefore) > eUserBefore*0.05 {
		t.Fatalf("user audio altered unexpectedly: before=%v after=%v", eUserBefore, eUserAfter)
	}
}

func TestEchoSuppressorIsEchoCorrelation(t *testing.T) {
	sr := 16000
	es := NewEchoSuppressor(sr)
	played := generateSine(440, 200, sr, 0.8)
	es.RecordPlayedAudio(played)
	es.lastTTSTime = time.Now()

	frame := played[len(played)-640:]
	corr := es.calculateCorrelation(frame, es.playedAudioBuf.Bytes())
	if corr <= es.echoThreshold {
		t.Fatalf("expected high correlation for identical frame; corr=%v threshold=%v", corr, es.echoThreshold)
	}
	if !es.IsEcho(frame) {
		t.Fatalf("IsEcho returned false despite corr=%v", corr)
	}

	different := generateSine(880, 200, sr, 0.8)
	frame2 := different[:640]
	corr2 := es.calculateCorrelation(frame2, es.playedAudioBuf.Bytes())
	if corr2 > es.echoThreshold {
		t.Fatalf("unexpectedly high correlation for different signal; corr=%v", corr2)
	}
	if es.IsEcho(frame2) {
		t.Fatal("unexpected echo detection for different signal")
	}
}
