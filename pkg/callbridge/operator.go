package callbridge

import (
	"encoding/json"
	"fmt"

	"github.com/aldar-voice/callbridge/pkg/telephony"
)

// OperatorConn is the minimal transport surface the operator control loop
// needs; cmd/bridge supplies the concrete coder/websocket-backed
// implementation. One OperatorConn is accepted per connected operator
// client and may join at most one call at a time (spec.md §6.2).
type OperatorConn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
}

// operatorAction is the incoming control/media envelope shape; spec.md
// §6.2 distinguishes control messages by `action` and media/takeover
// messages by `type`.
type operatorAction struct {
	Action   string `json:"action"`
	Type     string `json:"type"`
	CallUUID string `json:"call_uuid"`
	Audio    string `json:"audio"`
}

// OperatorSession runs the operator control loop for one connected
// operator client against the shared registry. It is joined to at most one
// call at a time: a new join_call first leaves the previously joined call.
type OperatorSession struct {
	registry *Registry
	logger   Logger

	joined *Call
}

// NewOperatorSession constructs a session bound to the process-wide
// registry.
func NewOperatorSession(registry *Registry, logger Logger) *OperatorSession {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &OperatorSession{registry: registry, logger: logger}
}

// Run drives the operator's control loop until the connection closes or
// reports an error. If the operator had joined a call, takeover is ended
// on exit so LLM audio resumes immediately (spec.md §7's operator-channel
// failure handling).
func (s *OperatorSession) Run(conn OperatorConn) error {
	defer s.leaveJoinedCall()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var action operatorAction
		if err := json.Unmarshal(raw, &action); err != nil {
			s.logger.Warn("malformed operator message", "error", err)
			continue
		}

		if err := s.handle(conn, action, raw); err != nil {
			return err
		}
	}
}

func (s *OperatorSession) handle(conn OperatorConn, action operatorAction, raw []byte) error {
	switch {
	case action.Action == "list_calls":
		return conn.WriteJSON(map[string]interface{}{
			"type":  "active_calls",
			"calls": s.registry.List(),
		})

	case action.Action == "join_call":
		call, ok := s.registry.Get(action.CallUUID)
		if !ok {
			return conn.WriteJSON(map[string]interface{}{"type": "error", "message": "unknown call_uuid"})
		}
		s.leaveJoinedCall()
		ch := &operatorChannel{conn: conn}
		if err := s.registry.RequestTakeover(action.CallUUID, ch); err != nil {
			return conn.WriteJSON(map[string]interface{}{"type": "error", "message": err.Error()})
		}
		s.joined = call
		return conn.WriteJSON(map[string]interface{}{
			"type":          "takeover_success",
			"call_uuid":     action.CallUUID,
			"customer_info": call.CustomParams,
		})

	case action.Type == "admin_audio":
		if s.joined == nil {
			return nil
		}
		pcm16, err := telephony.DecodeMediaPayload(action.Audio)
		if err != nil {
			s.logger.Warn("malformed admin_audio payload", "call_uuid", s.joined.CallUUID, "error", err)
			return nil
		}
		if err := s.joined.RecordChunk(pcm16); err != nil {
			s.logger.Warn("recorder write failed for operator audio", "call_uuid", s.joined.CallUUID, "error", err)
		}
		frame, err := s.joined.Egress.EncodeOperatorAudio(pcm16)
		if err != nil {
			s.logger.Warn("operator egress encode failed", "call_uuid", s.joined.CallUUID, "error", err)
			return nil
		}
		// The customer-leg WS write happens out-of-band: Call exposes no
		// direct telephony connection handle to this package, so the
		// frame is handed back to the bridge via the call's pending
		// operator-audio queue drained by RunCall's session loop.
		s.joined.QueueOperatorFrame(frame)
		return nil

	case action.Type == "end_takeover":
		s.leaveJoinedCall()
		return nil

	default:
		return fmt.Errorf("unrecognized operator message: %s", raw)
	}
}

func (s *OperatorSession) leaveJoinedCall() {
	if s.joined == nil {
		return
	}
	s.registry.EndTakeover(s.joined.CallUUID)
	s.joined = nil
}

// operatorChannel adapts an OperatorConn into the callbridge.OperatorChannel
// contract so customer audio can be relayed to the operator while takeover
// is active (spec.md §4.7).
type operatorChannel struct {
	conn OperatorConn
}

func (o *operatorChannel) SendCustomerAudio(pcm16 []byte) error {
	return o.conn.WriteJSON(map[string]interface{}{
		"type":  "customer_audio",
		"audio": telephony.EncodeMediaPayload(pcm16),
	})
}
