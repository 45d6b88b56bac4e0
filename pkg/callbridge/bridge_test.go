package callbridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aldar-voice/callbridge/pkg/livesession"
)

// fakeConn is an in-memory TelephonyConn: inbound frames are fed from a
// queue, outbound frames are captured for assertions.
type fakeConn struct {
	mu      sync.Mutex
	inbound [][]byte
	written [][]byte
	closed  bool
}

func newFakeConn(frames ...[]byte) *fakeConn {
	return &fakeConn{inbound: frames}
}

func (f *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return nil, io.EOF
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return next, nil
}

func (f *fakeConn) WriteFrame(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// fakeSession is an in-memory LiveSession: Recv drains a fixed queue of
// ServerMessages, then blocks until the call's context is cancelled.
type fakeSession struct {
	mu        sync.Mutex
	messages  []*livesession.ServerMessage
	sentAudio [][]byte
	toolResps [][]livesession.ToolResult
	closed    bool
}

func newFakeSession(messages ...*livesession.ServerMessage) *fakeSession {
	return &fakeSession{messages: messages}
}

func (s *fakeSession) SendAudio(ctx context.Context, pcm16 []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentAudio = append(s.sentAudio, pcm16)
	return nil
}

func (s *fakeSession) SendToolResponses(ctx context.Context, results []livesession.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolResps = append(s.toolResps, results)
	return nil
}

func (s *fakeSession) Recv(ctx context.Context) (*livesession.ServerMessage, error) {
	s.mu.Lock()
	if len(s.messages) > 0 {
		next := s.messages[0]
		s.messages = s.messages[1:]
		s.mu.Unlock()
		return next, nil
	}
	s.mu.Unlock()

	// Once every queued message is consumed, behave like a live
	// connection with nothing new to say: block until the call ends.
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func startFrame() []byte {
	return []byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"From":"+1555"}}}`)
}

func mediaFrameJSON(t *testing.T, ulaw []byte) []byte {
	t.Helper()
	payload := base64.StdEncoding.EncodeToString(ulaw)
	return []byte(`{"event":"media","media":{"payload":"` + payload + `"}}`)
}

func newTestBridge(t *testing.T) (*Bridge, string) {
	t.Helper()
	dir := t.TempDir()
	registry := NewRegistry()
	chunker := NewChunker("http://127.0.0.1:0/unused", 5, &NoOpLogger{})
	dispatcher := NewDispatcher("http://127.0.0.1:0/unused", &NoOpLogger{})
	return NewBridge(registry, chunker, dispatcher, dir, &NoOpLogger{}), dir
}

func TestRunCallFirstFrameNotStart(t *testing.T) {
	b, _ := newTestBridge(t)
	conn := newFakeConn([]byte(`{"event":"media","media":{"payload":"AAAA"}}`))

	err := b.RunCall(context.Background(), conn, func(ctx context.Context, call *Call) (livesession.LiveSession, error) {
		t.Fatal("session should never be constructed when the first frame is not start")
		return nil, nil
	})

	if !errors.Is(err, ErrFirstFrameNotStart) {
		t.Fatalf("expected ErrFirstFrameNotStart, got %v", err)
	}
	if len(b.Registry.List()) != 0 {
		t.Error("expected no registry entry when the call never starts")
	}
}

func TestRunCallHappyPathTranscriptsAndEgress(t *testing.T) {
	b, dir := newTestBridge(t)

	conn := newFakeConn(
		startFrame(),
		mediaFrameJSON(t, make([]byte, 160)),
	)

	serverMessages := []*livesession.ServerMessage{
		{OutputTranscript: "Hi"},
		{OutputTranscript: " there.", AudioChunk: make([]byte, 960)},
		{TurnComplete: true},
	}

	var capturedCall *Call
	err := b.RunCall(context.Background(), conn, func(ctx context.Context, call *Call) (livesession.LiveSession, error) {
		capturedCall = call
		return newFakeSession(serverMessages...), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedCall == nil {
		t.Fatal("expected session factory to be invoked")
	}

	entries, total := capturedCall.TranscriptsSince(0)
	if total != 1 || len(entries) != 1 {
		t.Fatalf("expected exactly one flushed bot transcript, got %d", total)
	}
	if entries[0].Speaker != SpeakerBot || entries[0].Text != "Hi there." {
		t.Errorf("expected bot entry 'Hi there.', got %+v", entries[0])
	}

	if len(conn.written) != 1 {
		t.Fatalf("expected exactly one outbound media frame, got %d", len(conn.written))
	}

	if _, err := os.Stat(filepath.Join(dir, "call_"+capturedCall.CallUUID+".wav")); err != nil {
		t.Errorf("expected a recording file to exist: %v", err)
	}
}

func TestRunCallInterruptionNoOpWithoutBotSpeech(t *testing.T) {
	b, _ := newTestBridge(t)
	conn := newFakeConn(startFrame())

	var capturedCall *Call
	err := b.RunCall(context.Background(), conn, func(ctx context.Context, call *Call) (livesession.LiveSession, error) {
		capturedCall = call
		return newFakeSession(&livesession.ServerMessage{Interrupted: true}), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, total := capturedCall.TranscriptsSince(0)
	if total != 0 {
		t.Errorf("expected no spurious [interrupted] transcript entry, got %d entries", total)
	}

	if len(conn.written) != 1 {
		t.Fatalf("expected exactly one clear frame, got %d", len(conn.written))
	}
	if !bytes.Contains(conn.written[0], []byte(`"event":"clear"`)) {
		t.Errorf("expected a clear frame, got %s", conn.written[0])
	}
}

func TestRunCallBargeInFlushesInterruptedBuffer(t *testing.T) {
	b, _ := newTestBridge(t)
	conn := newFakeConn(startFrame())

	messages := []*livesession.ServerMessage{
		{OutputTranscript: "I was about to"},
		{Interrupted: true, InputTranscript: "stop"},
	}

	var capturedCall *Call
	err := b.RunCall(context.Background(), conn, func(ctx context.Context, call *Call) (livesession.LiveSession, error) {
		capturedCall = call
		return newFakeSession(messages...), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, total := capturedCall.TranscriptsSince(0)
	if total != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", total)
	}
	if entries[0].Speaker != SpeakerBot || entries[0].Text != "I was about to [interrupted]" {
		t.Errorf("expected interrupted bot entry, got %+v", entries[0])
	}
	if entries[1].Speaker != SpeakerUser || entries[1].Text != "stop" {
		t.Errorf("expected user entry 'stop', got %+v", entries[1])
	}
}

func TestRunCallTransferEndsSessionButKeepsCallCleanup(t *testing.T) {
	b, _ := newTestBridge(t)
	conn := newFakeConn(startFrame())

	messages := []*livesession.ServerMessage{
		{ToolCalls: []livesession.ToolCall{{ID: "1", Name: "transfer_to_human_operator", Args: map[string]interface{}{"reason": "customer requested"}}}},
	}

	err := b.RunCall(context.Background(), conn, func(ctx context.Context, call *Call) (livesession.LiveSession, error) {
		return newFakeSession(messages...), nil
	})
	if err != nil {
		t.Fatalf("expected transfer to end the call cleanly, got %v", err)
	}
}
