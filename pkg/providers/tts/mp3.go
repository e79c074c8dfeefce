package tts

import (
	"bytes"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// decodeMP3ToPCM16 decodes MP3 bytes to mono 16-bit little-endian PCM,
// downmixing stereo by averaging channels. Ported (in idiom, not
// translation) from the original implementation's Symphonia-based decode,
// which does the same channel-average downmix over f32 samples; go-mp3
// decodes straight to 16-bit stereo PCM, so the averaging happens on int16
// pairs instead.
func decodeMP3ToPCM16(mp3Bytes []byte) ([]byte, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(mp3Bytes))
	if err != nil {
		return nil, err
	}

	var out []byte
	buf := make([]byte, 4096) // stereo 16-bit frames, 4 bytes per stereo sample
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out = append(out, downmixStereo16(buf[:n])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func downmixStereo16(stereo []byte) []byte {
	n := len(stereo) / 4
	mono := make([]byte, n*2)
	for i := 0; i < n; i++ {
		l := int16(stereo[4*i]) | int16(stereo[4*i+1])<<8
		r := int16(stereo[4*i+2]) | int16(stereo[4*i+3])<<8
		avg := int16((int32(l) + int32(r)) / 2)
		mono[2*i] = byte(avg)
		mono[2*i+1] = byte(avg >> 8)
	}
	return mono
}
