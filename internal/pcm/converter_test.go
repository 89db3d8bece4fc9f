package pcm

import (
	"encoding/binary"
	"math"
	"testing"
)

func float32Buf(n int, fn func(i int) float32) []byte {
	buf := make([]byte, n*bytesPerSample)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(fn(i)))
	}
	return buf
}

func TestPassthroughSameRate(t *testing.T) {
	c, err := New(24000, 24000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := float32Buf(100, func(i int) float32 { return float32(i) / 100 })
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
}

func TestDownsample24kTo8k(t *testing.T) {
	// 2400 samples @ 24kHz -> ~800 samples @ 8kHz, output byte length
	// within [3196, 3204].
	c, err := New(24000, 8000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := float32Buf(2400, func(i int) float32 {
		return float32(math.Sin(2 * math.Pi * 440 * float64(i) / 24000))
	})
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(out) < 3196 || len(out) > 3204 {
		t.Fatalf("len(out) = %d, want in [3196, 3204]", len(out))
	}
}

func TestExpectedFramesContract(t *testing.T) {
	c, err := New(24000, 8000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.ExpectedFrames(2400); got != 800 {
		t.Fatalf("ExpectedFrames(2400) = %d, want 800", got)
	}
	// Non-exact ratio rounds up (ceil).
	c2, err := New(24000, 16000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c2.ExpectedFrames(5); got != 4 {
		t.Fatalf("ExpectedFrames(5) = %d, want 4 (ceil(5*16000/24000)=ceil(3.33)=4)", got)
	}
}

func TestConvertRejectsMisalignedInput(t *testing.T) {
	c, err := New(24000, 8000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Convert([]byte{1, 2, 3}); err == nil {
		t.Fatal("Convert with misaligned input, want error")
	}
}
