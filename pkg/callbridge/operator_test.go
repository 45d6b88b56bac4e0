package callbridge

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/aldar-voice/callbridge/pkg/telephony"
)

// fakeOperatorConn is an in-memory OperatorConn: inbound messages are fed
// from a queue, outbound JSON writes are captured for assertions.
type fakeOperatorConn struct {
	mu      sync.Mutex
	inbound [][]byte
	written []map[string]interface{}
}

func newFakeOperatorConn(messages ...[]byte) *fakeOperatorConn {
	return &fakeOperatorConn{inbound: messages}
}

func (f *fakeOperatorConn) ReadMessage() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return nil, io.EOF
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return next, nil
}

func (f *fakeOperatorConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	f.written = append(f.written, m)
	return nil
}

func newRegistryWithCall(t *testing.T, callUUID string) (*Registry, *Call) {
	t.Helper()
	registry := NewRegistry()
	call := NewCall(callUUID, "MZ1", map[string]string{"From": "+1555"}, &NoOpLogger{})
	call.Egress = telephony.NewEgressEncoder(call.StreamSid)
	registry.Add(call)
	return registry, call
}

func TestOperatorSessionListCalls(t *testing.T) {
	registry, _ := newRegistryWithCall(t, "call-1")
	conn := newFakeOperatorConn([]byte(`{"action":"list_calls"}`))

	session := NewOperatorSession(registry, &NoOpLogger{})
	if err := session.Run(conn); err != io.EOF {
		t.Fatalf("expected io.EOF once inbound is drained, got %v", err)
	}

	if len(conn.written) != 1 || conn.written[0]["type"] != "active_calls" {
		t.Fatalf("expected one active_calls reply, got %+v", conn.written)
	}
}

func TestOperatorSessionJoinUnknownCallUUIDReturnsErrorNoStateChange(t *testing.T) {
	registry, call := newRegistryWithCall(t, "call-1")
	conn := newFakeOperatorConn([]byte(`{"action":"join_call","call_uuid":"does-not-exist"}`))

	session := NewOperatorSession(registry, &NoOpLogger{})
	if err := session.Run(conn); err != io.EOF {
		t.Fatalf("expected io.EOF once inbound is drained, got %v", err)
	}

	if len(conn.written) != 1 || conn.written[0]["type"] != "error" {
		t.Fatalf("expected one error reply, got %+v", conn.written)
	}
	if call.Mode() != ModeAI {
		t.Errorf("expected call to remain in AI mode, got %s", call.Mode())
	}
}

func TestOperatorSessionJoinCallSucceedsAndRelaysCustomerAudio(t *testing.T) {
	registry, call := newRegistryWithCall(t, "call-1")
	conn := newFakeOperatorConn([]byte(`{"action":"join_call","call_uuid":"call-1"}`))

	session := NewOperatorSession(registry, &NoOpLogger{})
	if err := session.Run(conn); err != io.EOF {
		t.Fatalf("expected io.EOF once inbound is drained, got %v", err)
	}

	if len(conn.written) != 1 || conn.written[0]["type"] != "takeover_success" {
		t.Fatalf("expected takeover_success reply, got %+v", conn.written)
	}
	if call.Mode() != ModeOperator {
		t.Fatalf("expected call to switch to OPERATOR mode, got %s", call.Mode())
	}

	op := call.Operator()
	if op == nil {
		t.Fatal("expected an operator channel to be attached")
	}
	if err := op.SendCustomerAudio(make([]byte, 320)); err != nil {
		t.Fatalf("unexpected error relaying customer audio: %v", err)
	}
	if len(conn.written) != 2 || conn.written[1]["type"] != "customer_audio" {
		t.Fatalf("expected a customer_audio frame to be written, got %+v", conn.written)
	}
}

func TestOperatorSessionAdminAudioQueuesOperatorFrame(t *testing.T) {
	registry, call := newRegistryWithCall(t, "call-1")
	payload := base64.StdEncoding.EncodeToString(make([]byte, 320))

	conn := newFakeOperatorConn(
		[]byte(`{"action":"join_call","call_uuid":"call-1"}`),
		[]byte(`{"type":"admin_audio","audio":"`+payload+`"}`),
	)

	session := NewOperatorSession(registry, &NoOpLogger{})
	if err := session.Run(conn); err != io.EOF {
		t.Fatalf("expected io.EOF once inbound is drained, got %v", err)
	}

	select {
	case frame := <-call.OperatorFrames():
		if len(frame) == 0 {
			t.Error("expected a non-empty encoded operator frame")
		}
	default:
		t.Error("expected an operator frame to be queued for the session loop")
	}
}

func TestOperatorSessionEndTakeoverRevertsMode(t *testing.T) {
	registry, call := newRegistryWithCall(t, "call-1")
	conn := newFakeOperatorConn(
		[]byte(`{"action":"join_call","call_uuid":"call-1"}`),
		[]byte(`{"type":"end_takeover"}`),
	)

	session := NewOperatorSession(registry, &NoOpLogger{})
	if err := session.Run(conn); err != io.EOF {
		t.Fatalf("expected io.EOF once inbound is drained, got %v", err)
	}

	if call.Mode() != ModeAI {
		t.Errorf("expected call to revert to AI mode, got %s", call.Mode())
	}
}

func TestOperatorSessionDisconnectAutoEndsTakeover(t *testing.T) {
	registry, call := newRegistryWithCall(t, "call-1")
	// No end_takeover message: the connection simply runs out of inbound
	// frames, simulating an operator disconnect while joined.
	conn := newFakeOperatorConn([]byte(`{"action":"join_call","call_uuid":"call-1"}`))

	session := NewOperatorSession(registry, &NoOpLogger{})
	if err := session.Run(conn); err != io.EOF {
		t.Fatalf("expected io.EOF once inbound is drained, got %v", err)
	}

	if call.Mode() != ModeAI {
		t.Errorf("expected disconnect to auto-revert call to AI mode, got %s", call.Mode())
	}
}
