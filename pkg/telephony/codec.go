// Package telephony implements the ingress decoder (C1) and egress encoder
// (C3): telephony WS frame parsing, µ-law/PCM16 codec conversion, and
// stateful sample-rate conversion between the telephony 8 kHz leg and the
// LLM's 16/24 kHz legs.
package telephony

import (
	"encoding/binary"

	"github.com/zaf/g711"
)

// ULawToPCM16 expands 8-bit µ-law samples into 16-bit signed little-endian
// PCM, using the standard G.711 expansion table.
func ULawToPCM16(ulaw []byte) []byte {
	samples := g711.DecodeUlaw(ulaw)
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16ToULaw compresses 16-bit signed little-endian PCM into 8-bit µ-law,
// using the standard G.711 compression table.
func PCM16ToULaw(pcm []byte) []byte {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return g711.EncodeUlaw(samples)
}
