package telephony

// IngressDecoder turns telephony µ-law/8kHz media payloads into PCM16/16kHz
// chunks (C1). One instance is owned by a single call; its resampler state
// must not be shared across calls.
type IngressDecoder struct {
	resampler *Resampler
}

// NewIngressDecoder builds a decoder resampling 8kHz to 16kHz.
func NewIngressDecoder() *IngressDecoder {
	return &IngressDecoder{resampler: NewResampler(8000, 16000)}
}

// Decode converts one media frame's raw µ-law payload into PCM16/16kHz.
func (d *IngressDecoder) Decode(ulaw []byte) []byte {
	pcm8k := ULawToPCM16(ulaw)
	return d.resampler.Process(pcm8k)
}

// EgressEncoder turns PCM16 audio into telephony media frames (C3). One
// instance is owned by a single call and resamples down to 8kHz from
// either of the two sources that can drive the egress leg: the LLM's
// 24kHz audio, and a live operator's 16kHz audio during takeover (spec.md
// §4.7).
type EgressEncoder struct {
	streamSid        string
	llmResampler      *Resampler
	operatorResampler *Resampler
}

// NewEgressEncoder builds an encoder for the given call's stream id.
func NewEgressEncoder(streamSid string) *EgressEncoder {
	return &EgressEncoder{
		streamSid:         streamSid,
		llmResampler:      NewResampler(24000, 8000),
		operatorResampler: NewResampler(16000, 8000),
	}
}

// Encode converts one PCM16/24kHz LLM audio chunk into a ready-to-send
// telephony `media` WS frame.
func (e *EgressEncoder) Encode(pcm24k []byte) ([]byte, error) {
	pcm8k := e.llmResampler.Process(pcm24k)
	ulaw := PCM16ToULaw(pcm8k)
	return BuildMediaFrame(e.streamSid, ulaw)
}

// EncodeOperatorAudio converts one PCM16/16kHz operator audio chunk into a
// ready-to-send telephony `media` WS frame.
func (e *EgressEncoder) EncodeOperatorAudio(pcm16 []byte) ([]byte, error) {
	pcm8k := e.operatorResampler.Process(pcm16)
	ulaw := PCM16ToULaw(pcm8k)
	return BuildMediaFrame(e.streamSid, ulaw)
}

// Clear builds the `clear` control frame used to drop buffered telephony
// playback on barge-in.
func (e *EgressEncoder) Clear() ([]byte, error) {
	return BuildClearFrame(e.streamSid)
}
