// Package pcm converts the wire TTS audio format (24 kHz mono float32, as
// produced by the dialogue service) to the local device's playback rate, reusing
// github.com/tphakala/go-audio-resampling for the actual resampling math
// instead of hand-rolling a filter.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

const bytesPerSample = 4 // float32

// Converter resamples a mono float32 PCM stream from one sample rate to
// another. It holds a stateful resampling.Resampler across calls so filter
// history carries between chunks — callers must feed it in stream order.
type Converter struct {
	inRate, outRate int
	resampler       resampling.Resampler
	passthrough     bool
}

// New builds a Converter from inRate to outRate, both in Hz. When the rates
// are equal, Convert is a byte-identity copy and no resampler is allocated.
func New(inRate, outRate int) (*Converter, error) {
	c := &Converter{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		c.passthrough = true
		return c, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("pcm: new resampler %d->%d: %w", inRate, outRate, err)
	}
	c.resampler = r
	return c, nil
}

// Convert resamples in, a little-endian float32 PCM buffer, into a new
// little-endian float32 PCM buffer at outRate. The output frame count
// satisfies ceil(N_in * outRate/inRate), per the converter's documented
// contract.
func (c *Converter) Convert(in []byte) ([]byte, error) {
	if len(in)%bytesPerSample != 0 {
		return nil, fmt.Errorf("pcm: input length %d not a multiple of %d bytes", len(in), bytesPerSample)
	}
	if c.passthrough {
		out := make([]byte, len(in))
		copy(out, in)
		return out, nil
	}

	nIn := len(in) / bytesPerSample
	samples := make([]float64, nIn)
	for i := 0; i < nIn; i++ {
		bits := binary.LittleEndian.Uint32(in[i*bytesPerSample:])
		samples[i] = float64(math.Float32frombits(bits))
	}

	out, err := c.resampler.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("pcm: resample: %w", err)
	}

	buf := make([]byte, len(out)*bytesPerSample)
	for i, s := range out {
		bits := math.Float32bits(float32(s))
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], bits)
	}
	return buf, nil
}

// ExpectedFrames returns ceil(nInFrames * outRate/inRate), the converter's
// documented output-length contract, for callers sizing buffers ahead of a
// call to Convert.
func (c *Converter) ExpectedFrames(nInFrames int) int {
	if c.passthrough {
		return nInFrames
	}
	return int(math.Ceil(float64(nInFrames) * float64(c.outRate) / float64(c.inRate)))
}
