package telephony

import (
	"encoding/binary"
	"testing"
)

func TestULawRoundTripBitExact(t *testing.T) {
	pcm := make([]byte, 0, 512)
	for i := int16(-256); i < 256; i++ {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(i*64))
		pcm = append(pcm, b...)
	}

	ulaw := PCM16ToULaw(pcm)
	back := ULawToPCM16(ulaw)

	ulaw2 := PCM16ToULaw(back)
	if len(ulaw) != len(ulaw2) {
		t.Fatalf("ulaw length changed across round trip: %d vs %d", len(ulaw), len(ulaw2))
	}
	for i := range ulaw {
		if ulaw[i] != ulaw2[i] {
			t.Fatalf("ulaw byte %d not bit-exact across round trip: %x vs %x", i, ulaw[i], ulaw2[i])
		}
	}
}

func TestULawToPCM16Length(t *testing.T) {
	ulaw := make([]byte, 160)
	pcm := ULawToPCM16(ulaw)
	if len(pcm) != 320 {
		t.Errorf("expected 320 bytes of PCM16 for 160 ulaw bytes, got %d", len(pcm))
	}
}
