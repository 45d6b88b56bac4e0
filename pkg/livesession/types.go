// Package livesession implements the LLM Session (C2): a bidirectional
// streaming connection to a cloud multimodal LLM, abstracted behind one
// interface backed by a native Gemini Live session
// (google.golang.org/genai).
package livesession

import "context"

// ToolCall is one function call the model issued on a server message.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolResult is the dispatcher's response to one ToolCall.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]interface{}
}

// ServerMessage is one inbound event from the LLM session, normalized
// across backends. Zero-value fields mean "not present on this message";
// a single message may carry several of these simultaneously, matching
// spec.md §4.2's processing-rule ordering.
type ServerMessage struct {
	Interrupted       bool
	ToolCalls         []ToolCall
	AudioChunk        []byte // PCM16 / 24kHz, nil if absent
	InputTranscript   string // user-speech fragment, empty if absent
	OutputTranscript  string // bot-speech fragment, empty if absent
	TurnComplete      bool   // model-turn boundary reached
	TransferRequested bool   // transfer_to_human_operator was called
	TransferReason    string
}

// LiveSession is the call bridge's live connection to the LLM. Recv blocks
// until the next server message, the context is cancelled, or the session
// ends (io.EOF-equivalent via a non-nil error). A session is owned by
// exactly one call and is not safe for concurrent Send/Recv pairs beyond
// what a single session loop issues.
type LiveSession interface {
	// SendAudio forwards one PCM16/16kHz chunk of customer audio.
	SendAudio(ctx context.Context, pcm16 []byte) error
	// SendToolResponses replies to one or more pending tool calls in a
	// single batched message.
	SendToolResponses(ctx context.Context, results []ToolResult) error
	// Recv returns the next normalized server message.
	Recv(ctx context.Context) (*ServerMessage, error)
	// Close tears down the underlying connection.
	Close() error
}

// ToolSchema declares one function available to the model, matching
// spec.md §4.6's wire contract.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON-schema-shaped parameter spec
}
