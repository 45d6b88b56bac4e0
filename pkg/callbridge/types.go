// Package callbridge implements the per-call data model, the process-wide
// active-call registry (C7), the transcript chunker & log shipper (C5),
// the tool dispatcher (C6), and the orchestration that ties the ingress
// decoder, LLM session, egress encoder, and recorder into one call bridge.
package callbridge

import (
	"strings"
	"sync"
	"time"

	"github.com/aldar-voice/callbridge/pkg/audio"
	"github.com/aldar-voice/callbridge/pkg/telephony"
)

// Mode is the call's current audio-routing mode (spec.md §4.7 state
// machine).
type Mode int

const (
	ModeAI Mode = iota
	ModeOperator
)

func (m Mode) String() string {
	if m == ModeOperator {
		return "OPERATOR"
	}
	return "AI"
}

// Speaker labels a transcript entry's origin.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerBot    Speaker = "bot"
	SpeakerSystem Speaker = "system"
)

// TranscriptEntry is one speaker-labeled transcript fragment.
type TranscriptEntry struct {
	Speaker Speaker
	Text    string
}

// OperatorChannel is the minimal surface the bridge needs from an attached
// operator WS; it is implemented by operatorChannel (operator.go), which
// wraps an OperatorConn so this package stays transport-agnostic.
type OperatorChannel interface {
	// SendCustomerAudio forwards one PCM16/16kHz chunk of customer audio
	// to the operator while takeover is active.
	SendCustomerAudio(pcm16 []byte) error
}

// Call is the per-call state described in spec.md §3. A single session
// loop goroutine owns transcripts and bot_buffer. The recorder is written
// from the ingress loop, the session loop and the operator control loop;
// audio.Recorder serializes those writes with its own lock. mode is the
// only field mutated cross-goroutine (from the operator control path) and
// is therefore guarded by its own short-held lock rather than folded into
// the session loop's single-writer discipline.
type Call struct {
	CallUUID     string
	StreamSid    string
	CustomParams map[string]string
	StartedAt    time.Time

	RecordingPath string
	recorder      *audio.Recorder

	Egress *telephony.EgressEncoder

	mu    sync.Mutex
	mode  Mode
	operator OperatorChannel

	transcriptsMu     sync.Mutex
	transcripts       []TranscriptEntry
	lastShippedIndex  int
	botBuffer         string

	// operatorFrames carries ready-to-send telephony media frames built
	// from operator audio (spec.md §4.7); the session loop drains it
	// alongside LLM server messages so the customer-leg WS has a single
	// writer regardless of which mode produced the frame.
	operatorFrames chan []byte

	Logger Logger
}

// NewCall constructs a Call in ModeAI with no transcripts and an unopened
// recorder; the caller attaches the recorder once the recording file is
// created.
func NewCall(callUUID, streamSid string, customParams map[string]string, logger Logger) *Call {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Call{
		CallUUID:       callUUID,
		StreamSid:      streamSid,
		CustomParams:   customParams,
		StartedAt:      time.Now(),
		mode:           ModeAI,
		operatorFrames: make(chan []byte, 32),
		Logger:         logger,
	}
}

// QueueOperatorFrame enqueues a ready-to-send telephony media frame built
// from operator audio for the session loop to write. Non-blocking: if the
// queue is full the frame is dropped and logged, rather than stalling the
// operator control loop.
func (c *Call) QueueOperatorFrame(frame []byte) {
	select {
	case c.operatorFrames <- frame:
	default:
		c.Logger.Warn("operator frame queue full, dropping frame", "call_uuid", c.CallUUID)
	}
}

// OperatorFrames returns the channel of pending operator-audio telephony
// frames for the session loop to select on.
func (c *Call) OperatorFrames() <-chan []byte {
	return c.operatorFrames
}

// AttachRecorder assigns the call's exclusively-owned recording handle.
// Must be called at most once.
func (c *Call) AttachRecorder(r *audio.Recorder, path string) {
	c.recorder = r
	c.RecordingPath = path
}

// RecordChunk appends one PCM16/16kHz chunk to the call's recording, if a
// recorder is attached. It is the single point through which customer,
// bot, and operator audio all funnel (spec.md §9's single-writer queue
// guidance).
func (c *Call) RecordChunk(pcm16 []byte) error {
	if c.recorder == nil {
		return nil
	}
	return c.recorder.Write(pcm16)
}

// CloseRecorder finalizes and closes the recording; idempotent.
func (c *Call) CloseRecorder() error {
	if c.recorder == nil {
		return nil
	}
	return c.recorder.Close()
}

// Mode returns the call's current routing mode.
func (c *Call) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetOperatorMode atomically switches to OPERATOR mode and attaches the
// operator channel. Held only for the duration of the assignment, never
// across network I/O.
func (c *Call) SetOperatorMode(ch OperatorChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeOperator
	c.operator = ch
}

// EndTakeover atomically reverts to AI mode and detaches the operator
// channel.
func (c *Call) EndTakeover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeAI
	c.operator = nil
}

// Operator returns the currently attached operator channel, if any.
func (c *Call) Operator() OperatorChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operator
}

// AppendTranscript appends one entry; called only from the session loop
// (or, for system entries, from code running on its behalf), preserving
// the single-writer discipline over transcripts.
func (c *Call) AppendTranscript(speaker Speaker, text string) {
	c.transcriptsMu.Lock()
	defer c.transcriptsMu.Unlock()
	c.transcripts = append(c.transcripts, TranscriptEntry{Speaker: speaker, Text: text})
}

// FlushBotBuffer appends bot_buffer as a bot transcript entry, if
// non-empty, and clears it. Returns whether anything was flushed.
func (c *Call) FlushBotBuffer() bool {
	c.transcriptsMu.Lock()
	defer c.transcriptsMu.Unlock()
	if c.botBuffer == "" {
		return false
	}
	c.transcripts = append(c.transcripts, TranscriptEntry{Speaker: SpeakerBot, Text: c.botBuffer})
	c.botBuffer = ""
	return true
}

// FlushBotBufferInterrupted appends bot_buffer with a trailing
// "[interrupted]" token, per spec.md §4.2 rule 1. No-op, and returns
// false, if bot_buffer is empty (no spurious entry on a no-op
// interruption).
func (c *Call) FlushBotBufferInterrupted() bool {
	c.transcriptsMu.Lock()
	defer c.transcriptsMu.Unlock()
	if c.botBuffer == "" {
		return false
	}
	c.transcripts = append(c.transcripts, TranscriptEntry{
		Speaker: SpeakerBot,
		Text:    c.botBuffer + " [interrupted]",
	})
	c.botBuffer = ""
	return true
}

// AppendBotFragment appends text to bot_buffer, separated by a single space
// from whatever is already buffered (spec.md §4.2 rule 5). Each fragment is
// trimmed first so a fragment's own leading or trailing space never doubles
// up with the separator.
func (c *Call) AppendBotFragment(text string) {
	c.transcriptsMu.Lock()
	defer c.transcriptsMu.Unlock()
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.botBuffer != "" {
		c.botBuffer += " " + text
	} else {
		c.botBuffer = text
	}
}

// TranscriptsSince returns a copy of transcripts[from:] and the current
// total length.
func (c *Call) TranscriptsSince(from int) ([]TranscriptEntry, int) {
	c.transcriptsMu.Lock()
	defer c.transcriptsMu.Unlock()
	total := len(c.transcripts)
	if from >= total {
		return nil, total
	}
	out := make([]TranscriptEntry, total-from)
	copy(out, c.transcripts[from:])
	return out, total
}

// LastShippedIndex returns the current last_shipped_index.
func (c *Call) LastShippedIndex() int {
	c.transcriptsMu.Lock()
	defer c.transcriptsMu.Unlock()
	return c.lastShippedIndex
}

// AdvanceLastShippedIndex sets last_shipped_index to newIndex, provided it
// is non-decreasing, preserving the invariant that last_shipped_index only
// ever moves forward.
func (c *Call) AdvanceLastShippedIndex(newIndex int) {
	c.transcriptsMu.Lock()
	defer c.transcriptsMu.Unlock()
	if newIndex > c.lastShippedIndex {
		c.lastShippedIndex = newIndex
	}
}
