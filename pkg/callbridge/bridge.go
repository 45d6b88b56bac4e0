package callbridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aldar-voice/callbridge/pkg/audio"
	"github.com/aldar-voice/callbridge/pkg/livesession"
	"github.com/aldar-voice/callbridge/pkg/telephony"
)

const maxConsecutiveMalformedFrames = 3

// TelephonyConn is the minimal transport surface RunCall needs from the
// customer-leg telephony WS; cmd/bridge supplies the concrete
// coder/websocket-backed implementation.
type TelephonyConn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
}

// SessionFactory constructs the LLM session for a freshly-started call.
type SessionFactory func(ctx context.Context, call *Call) (livesession.LiveSession, error)

// Bridge wires C1 (ingress), C2 (LLM session), C3 (egress), C4 (recorder),
// C5 (chunker) and C6 (dispatcher) together for one call at a time;
// RunCall is invoked once per accepted telephony WS connection.
type Bridge struct {
	Registry      *Registry
	Chunker       *Chunker
	Dispatcher    *Dispatcher
	RecordingsDir string
	Logger        Logger
}

// NewBridge constructs a Bridge. registry, chunker and dispatcher are
// shared process-wide collaborators (spec.md §9: explicit handles, not
// module-level state).
func NewBridge(registry *Registry, chunker *Chunker, dispatcher *Dispatcher, recordingsDir string, logger Logger) *Bridge {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Bridge{
		Registry:      registry,
		Chunker:       chunker,
		Dispatcher:    dispatcher,
		RecordingsDir: recordingsDir,
		Logger:        logger,
	}
}

// RunCall drives one call end to end: reads the mandatory first `start`
// frame, opens the recording and registers the call, then runs the
// ingress and session loops concurrently until either the telephony leg
// closes or the LLM session reaches a terminal condition (session error,
// or transfer_to_human_operator). The terminal phase is idempotent: the
// recorder is closed, a final chunk is shipped, and the call is removed
// from the registry exactly once regardless of which path got there.
func (b *Bridge) RunCall(ctx context.Context, conn TelephonyConn, newSession SessionFactory) error {
	raw, err := conn.ReadFrame(ctx)
	if err != nil {
		return err
	}
	frame, err := telephony.ParseInboundFrame(raw)
	if err != nil || frame.Event != telephony.EventStart {
		return ErrFirstFrameNotStart
	}

	callUUID := uuid.NewString()
	call := NewCall(callUUID, frame.Start.StreamSid, frame.Start.CustomParameters, b.Logger)
	call.Egress = telephony.NewEgressEncoder(call.StreamSid)

	recPath := filepath.Join(b.RecordingsDir, fmt.Sprintf("call_%s.wav", callUUID))
	rec, err := audio.NewRecorder(recPath, 16000)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceFailure, err)
	}
	call.AttachRecorder(rec, recPath)

	b.Registry.Add(call)
	defer b.Registry.Remove(call.CallUUID)
	defer call.CloseRecorder()

	if err := b.Chunker.Initialize(ctx, call); err != nil {
		b.Logger.Warn("log init failed", "call_uuid", callUUID, "error", err)
	}

	session, err := newSession(ctx, call)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResourceFailure, err)
	}
	defer session.Close()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The telephony leg closing (spec.md §5: "Telephony WS close ...
	// triggers terminal phase") must wake up a session loop blocked on
	// Recv, so the ingress goroutine cancels callCtx as soon as it exits
	// for any reason, rather than waiting for the session loop to notice.
	ingressDone := make(chan struct{})
	go func() {
		defer close(ingressDone)
		defer cancel()
		if err := b.ingressLoop(callCtx, conn, call, session); err != nil {
			b.Logger.Warn("ingress loop ended with error", "call_uuid", call.CallUUID, "error", err)
		}
	}()

	sessionErr := b.sessionLoop(callCtx, conn, call, session)
	cancel()
	<-ingressDone

	b.Chunker.ShipFinal(context.Background(), call)

	if sessionErr != nil && !errors.Is(sessionErr, ErrTransferRequested) && !errors.Is(sessionErr, context.Canceled) {
		return sessionErr
	}
	return nil
}

// ingressLoop is the Ingress Decoder (C1): it reads telephony frames,
// decodes and resamples customer audio, records it, and forwards it to
// the LLM session.
func (b *Bridge) ingressLoop(ctx context.Context, conn TelephonyConn, call *Call, session livesession.LiveSession) error {
	decoder := telephony.NewIngressDecoder()
	malformed := 0

	for {
		raw, err := conn.ReadFrame(ctx)
		if err != nil {
			return nil // telephony WS closed: triggers terminal phase
		}

		frame, err := telephony.ParseInboundFrame(raw)
		if err != nil {
			malformed++
			b.Logger.Warn("malformed telephony frame", "call_uuid", call.CallUUID, "error", err)
			if malformed >= maxConsecutiveMalformedFrames {
				return ErrFatalFrame
			}
			continue
		}

		switch frame.Event {
		case telephony.EventMedia:
			ulaw, err := telephony.DecodeMediaPayload(frame.Media.Payload)
			if err != nil {
				malformed++
				if malformed >= maxConsecutiveMalformedFrames {
					return ErrFatalFrame
				}
				continue
			}
			pcm16 := decoder.Decode(ulaw)
			if err := call.RecordChunk(pcm16); err != nil {
				b.Logger.Warn("recorder write failed", "call_uuid", call.CallUUID, "error", err)
			}
			if call.Mode() == ModeOperator {
				if op := call.Operator(); op != nil {
					if err := op.SendCustomerAudio(pcm16); err != nil {
						b.Logger.Warn("operator channel failed, reverting to AI mode", "call_uuid", call.CallUUID, "error", err)
						call.EndTakeover()
					}
				}
			}
			if err := session.SendAudio(ctx, pcm16); err != nil {
				return err
			}
		case telephony.EventStop:
			return nil
		case telephony.EventMark:
			// forwarded echo of an egress mark; nothing to do.
		}
		malformed = 0
	}
}

// sessionLoop is the LLM Session's consumer side (C2): it applies spec.md
// §4.2's six processing rules, in order, to every server message, driving
// C3 (egress), C4 (recorder via Call), C5 (chunker) and C6 (dispatcher)
// along the way. Server messages are never processed concurrently with
// each other.
func (b *Bridge) sessionLoop(ctx context.Context, conn TelephonyConn, call *Call, session livesession.LiveSession) error {
	botAudioResampler := telephony.NewResampler(24000, 16000)

	type recvResult struct {
		msg *livesession.ServerMessage
		err error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		for {
			msg, err := session.Recv(ctx)
			select {
			case recvCh <- recvResult{msg, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var msg *livesession.ServerMessage

		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame := <-call.OperatorFrames():
			if err := conn.WriteFrame(ctx, frame); err != nil {
				return err
			}
			continue

		case r := <-recvCh:
			if r.err != nil {
				return r.err
			}
			msg = r.msg
		}

		// Rule 1: interruption.
		if msg.Interrupted {
			if clearFrame, err := call.Egress.Clear(); err == nil {
				if err := conn.WriteFrame(ctx, clearFrame); err != nil {
					return err
				}
			}
			call.FlushBotBufferInterrupted()
		}

		// Rule 2: tool calls.
		if transferred, err := b.handleToolCalls(ctx, call, session, msg.ToolCalls); err != nil {
			return err
		} else if transferred {
			return ErrTransferRequested
		}
		if msg.TransferRequested {
			call.AppendTranscript(SpeakerSystem, fmt.Sprintf("transfer to human operator requested: %s", msg.TransferReason))
			b.Chunker.MaybeShip(ctx, call)
			return ErrTransferRequested
		}

		// Rule 3: audio out.
		if len(msg.AudioChunk) > 0 {
			pcm16 := botAudioResampler.Process(msg.AudioChunk)
			if err := call.RecordChunk(pcm16); err != nil {
				b.Logger.Warn("recorder write failed", "call_uuid", call.CallUUID, "error", err)
			}
			if call.Mode() == ModeAI && !msg.Interrupted {
				frame, err := call.Egress.Encode(msg.AudioChunk)
				if err != nil {
					b.Logger.Warn("egress encode failed", "call_uuid", call.CallUUID, "error", err)
				} else if err := conn.WriteFrame(ctx, frame); err != nil {
					return err
				}
			}
		}

		// Rule 4: input transcription (user).
		if msg.InputTranscript != "" {
			call.FlushBotBuffer()
			call.AppendTranscript(SpeakerUser, msg.InputTranscript)
			b.Chunker.MaybeShip(ctx, call)
		}

		// Rule 5: output transcription (bot).
		if msg.OutputTranscript != "" {
			call.AppendBotFragment(msg.OutputTranscript)
		}

		// Rule 6: model-turn boundary.
		if msg.TurnComplete {
			if call.FlushBotBuffer() {
				b.Chunker.MaybeShip(ctx, call)
			}
		}
	}
}

// handleToolCalls dispatches every non-transfer tool call in msg and sends
// a single batched response; it reports whether
// transfer_to_human_operator was among them.
func (b *Bridge) handleToolCalls(ctx context.Context, call *Call, session livesession.LiveSession, calls []livesession.ToolCall) (bool, error) {
	if len(calls) == 0 {
		return false, nil
	}

	transferred := false
	var reason string
	var results []livesession.ToolResult

	for _, tc := range calls {
		if tc.Name == "transfer_to_human_operator" {
			transferred = true
			if r, ok := tc.Args["reason"].(string); ok {
				reason = r
			}
			continue
		}
		results = append(results, b.Dispatcher.Dispatch(ctx, tc))
	}

	if len(results) > 0 {
		if err := session.SendToolResponses(ctx, results); err != nil {
			return transferred, err
		}
	}

	if transferred {
		call.AppendTranscript(SpeakerSystem, fmt.Sprintf("transfer to human operator requested: %s", reason))
		b.Chunker.MaybeShip(ctx, call)
	}

	return transferred, nil
}
