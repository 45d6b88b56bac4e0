package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestRecorderWriteAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "call_test.wav")

	rec, err := NewRecorder(path, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := rec.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := rec.Write([]byte{5, 6}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}

	if len(data) != wavHeaderSize+6 {
		t.Fatalf("expected %d bytes, got %d", wavHeaderSize+6, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Errorf("missing RIFF/WAVE markers")
	}
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if dataSize != 6 {
		t.Errorf("expected data chunk size 6, got %d", dataSize)
	}
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(filepath.Join(dir, "call.wav"), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("unexpected error on first close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
}

func TestRecorderWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(filepath.Join(dir, "call.wav"), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Close()
	if err := rec.Write([]byte{1, 2}); err == nil {
		t.Error("expected error writing to a closed recorder")
	}
}
