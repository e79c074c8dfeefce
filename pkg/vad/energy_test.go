package vad

import (
	"testing"
	"time"
)

func silence(n int) []byte  { return make([]byte, n*2) }
func tone(n int, amp int16) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		b[2*i] = byte(amp)
		b[2*i+1] = byte(amp >> 8)
	}
	return b
}

func TestEnergyVADRequiresConsecutiveFramesToConfirm(t *testing.T) {
	v := NewEnergyVAD(0.1, 100*time.Millisecond)
	v.SetMinConfirmed(3)

	loud := tone(160, 20000)
	speaking, _ := v.Process(loud)
	if speaking {
		t.Fatal("expected not yet confirmed on first loud frame")
	}
	v.Process(loud)
	speaking, _ = v.Process(loud)
	if !speaking {
		t.Fatal("expected confirmed after minConfirmed frames")
	}
}

func TestEnergyVADEndsAfterSilenceLimit(t *testing.T) {
	v := NewEnergyVAD(0.1, 10*time.Millisecond)
	v.SetMinConfirmed(1)

	loud := tone(160, 20000)
	v.Process(loud)
	speaking, _ := v.Process(loud)
	if !speaking {
		t.Fatal("expected speaking after confirm")
	}

	// The silence timer starts at the first below-threshold frame.
	v.Process(silence(160))
	time.Sleep(20 * time.Millisecond)
	speaking, _ = v.Process(silence(160))
	if speaking {
		t.Fatal("expected speech end after silence limit elapsed")
	}
}

func TestEnergyVADCloneIsIndependent(t *testing.T) {
	v := NewEnergyVAD(0.1, 0)
	v.SetMinConfirmed(1)
	v.Process(tone(160, 20000))

	clone := v.Clone()
	if clone.(*EnergyVAD).speaking {
		t.Fatal("expected clone to start unconfirmed regardless of source state")
	}
}
