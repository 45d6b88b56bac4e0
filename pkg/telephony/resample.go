package telephony

import (
	"encoding/binary"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler performs stateful linear sample-rate conversion on a PCM16
// little-endian byte stream. State (the converter's fractional phase and
// trailing history) persists across calls to Process, as spec.md requires
// for both the ingress 8→16 kHz leg and the egress 24→8 kHz leg.
type Resampler struct {
	r *resampler.Resampler
}

// NewResampler builds a resampler converting from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{r: resampler.New(srcRate, dstRate)}
}

// Process converts one chunk of PCM16 LE audio, carrying resampler state
// forward to the next call.
func (r *Resampler) Process(pcm []byte) []byte {
	in := make([]int16, len(pcm)/2)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	out := r.r.Process(in)

	outBytes := make([]byte, len(out)*2)
	for i, s := range out {
		binary.LittleEndian.PutUint16(outBytes[i*2:], uint16(s))
	}
	return outBytes
}
