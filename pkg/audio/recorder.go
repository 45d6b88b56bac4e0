package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// Recorder is the call bridge's Recorder (C4): a single-writer, streaming
// WAV sink. It owns one mono/16-bit/16kHz file for the lifetime of a call;
// customer audio, LLM audio, and operator audio are all funneled through it
// in arrival order, exactly as spec.md §4.4 requires ("a sink, not a
// mixer"). The header is rewritten after every append so a crash mid-call
// still leaves a playable file with only the tail chunk missing.
type Recorder struct {
	mu         sync.Mutex
	f          *os.File
	sampleRate int
	dataBytes  uint32
	closed     bool
}

const wavHeaderSize = 44

// NewRecorder creates the WAV file at path and writes a placeholder header.
// The file is opened exactly once; Close must be called to finalize it.
func NewRecorder(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening recording file: %w", err)
	}

	r := &Recorder{f: f, sampleRate: sampleRate}
	if err := r.writeHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing initial wav header: %w", err)
	}
	return r, nil
}

// Write appends one PCM16 little-endian chunk, already at the recorder's
// sample rate, to the file. Safe for concurrent callers; writes from
// different producers (customer, bot, operator) interleave in arrival
// order.
func (r *Recorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("write to closed recorder")
	}
	if len(pcm) == 0 {
		return nil
	}

	if _, err := r.f.Seek(0, 2); err != nil {
		return fmt.Errorf("seeking to end of recording: %w", err)
	}
	if _, err := r.f.Write(pcm); err != nil {
		return fmt.Errorf("appending to recording: %w", err)
	}
	r.dataBytes += uint32(len(pcm))

	return r.writeHeader()
}

// Close finalizes the WAV header with the true data size and closes the
// file. Idempotent: a second call is a no-op, matching the terminal phase's
// requirement that the recorder be closed exactly once even when invoked
// from more than one cleanup path.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.writeHeader(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// writeHeader writes a finalized RIFF/WAVE header (mono, 16-bit PCM) at
// offset 0 using the current data size, then restores the file cursor to
// the position it had before the call. Caller must hold r.mu.
func (r *Recorder) writeHeader() error {
	cur, err := r.f.Seek(0, 1)
	if err != nil {
		return err
	}

	header := make([]byte, 0, wavHeaderSize)
	buf := make([]byte, 4)

	header = append(header, []byte("RIFF")...)
	binary.LittleEndian.PutUint32(buf, 36+r.dataBytes)
	header = append(header, buf...)
	header = append(header, []byte("WAVE")...)

	header = append(header, []byte("fmt ")...)
	binary.LittleEndian.PutUint32(buf, 16)
	header = append(header, buf...)

	buf2 := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf2, 1) // PCM
	header = append(header, buf2...)
	binary.LittleEndian.PutUint16(buf2, 1) // mono
	header = append(header, buf2...)

	binary.LittleEndian.PutUint32(buf, uint32(r.sampleRate))
	header = append(header, buf...)
	binary.LittleEndian.PutUint32(buf, uint32(r.sampleRate*2))
	header = append(header, buf...)

	binary.LittleEndian.PutUint16(buf2, 2) // block align
	header = append(header, buf2...)
	binary.LittleEndian.PutUint16(buf2, 16) // bits per sample
	header = append(header, buf2...)

	header = append(header, []byte("data")...)
	binary.LittleEndian.PutUint32(buf, r.dataBytes)
	header = append(header, buf...)

	if _, err := r.f.WriteAt(header, 0); err != nil {
		return err
	}
	_, err = r.f.Seek(cur, 0)
	return err
}
