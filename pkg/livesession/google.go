package livesession

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const googleLiveModel = "gemini-2.5-flash-native-audio-latest"

// GoogleLiveConfig configures a native multimodal LLM session.
type GoogleLiveConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	VoiceName         string
	Tools             []ToolSchema
}

// GoogleLive is the LiveSession backend: it drives
// google.golang.org/genai's bidirectional Live API directly, so audio in,
// audio out, transcription and tool calls all come from one session
// rather than a composed STT/LLM/TTS pipeline — the architecture
// spec.md's interruption and transcription semantics are described
// against.
type GoogleLive struct {
	session *genai.Session
	client  *genai.Client
}

// NewGoogleLive connects a Live API session with audio-in/audio-out
// modalities and input/output transcription enabled, mirroring
// ws-app.py's GeminiTwilioBridge configuration.
func NewGoogleLive(ctx context.Context, cfg GoogleLiveConfig) (*GoogleLive, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google live: missing API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("google live: creating client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = googleLiveModel
	}

	voice := cfg.VoiceName
	if voice == "" {
		voice = "Kore"
	}

	liveConfig := &genai.LiveConnectConfig{
		ResponseModalities:      []genai.Modality{genai.ModalityAudio},
		SystemInstruction:       genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser),
		InputAudioTranscription: &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		Tools: []*genai.Tool{{FunctionDeclarations: buildFunctionDeclarations(cfg.Tools)}},
	}

	session, err := client.Live.Connect(ctx, model, liveConfig)
	if err != nil {
		return nil, fmt.Errorf("google live: connecting: %w", err)
	}

	return &GoogleLive{session: session, client: client}, nil
}

func buildFunctionDeclarations(tools []ToolSchema) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.Parameters),
		})
	}
	return decls
}

// schemaFromMap adapts the dispatcher's JSON-schema-shaped map into the
// genai SDK's typed Schema; pkg/callbridge authors every tool declaration
// as a plain map rather than a genai-specific type.
func schemaFromMap(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	schema := &genai.Schema{Type: genai.TypeObject}

	if props, ok := m["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			propMap, _ := raw.(map[string]interface{})
			propSchema := &genai.Schema{}
			if t, ok := propMap["type"].(string); ok {
				switch t {
				case "integer":
					propSchema.Type = genai.TypeInteger
				case "number":
					propSchema.Type = genai.TypeNumber
				case "string":
					propSchema.Type = genai.TypeString
				case "object":
					propSchema.Type = genai.TypeObject
				default:
					propSchema.Type = genai.TypeString
				}
			}
			schema.Properties[name] = propSchema
		}
	}

	switch req := m["required"].(type) {
	case []string:
		schema.Required = req
	case []interface{}:
		schema.Required = make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	return schema
}

// SendAudio forwards one PCM16/16kHz chunk as realtime input, matching
// ws-app.py's "audio/pcm;rate=16000" mime type.
func (g *GoogleLive) SendAudio(ctx context.Context, pcm16 []byte) error {
	return g.session.SendRealtimeInput(ctx, genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm16, MIMEType: "audio/pcm;rate=16000"},
	})
}

// SendToolResponses batches every pending tool result into one
// send_tool_response call, matching ws-app.py's func_resps accumulation.
func (g *GoogleLive) SendToolResponses(ctx context.Context, results []ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	responses := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Response,
		})
	}
	return g.session.SendToolResponse(ctx, genai.LiveToolResponseInput{FunctionResponses: responses})
}

// Recv reads and translates one server message, folding the Live API's
// response shape (tool_call / server_content.{input,output}_transcription
// / server_content.model_turn / server_content.interrupted) into the
// backend-agnostic ServerMessage. ctx is not consulted: the Live API's
// Receive takes no context, so a blocked Recv returns only when a message
// arrives or Close ends the session.
func (g *GoogleLive) Recv(ctx context.Context) (*ServerMessage, error) {
	resp, err := g.session.Receive()
	if err != nil {
		return nil, err
	}

	msg := &ServerMessage{}

	if resp.ToolCall != nil {
		for _, fc := range resp.ToolCall.FunctionCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}

	if sc := resp.ServerContent; sc != nil {
		if sc.Interrupted {
			msg.Interrupted = true
		}
		if sc.InputTranscription != nil {
			msg.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			msg.OutputTranscript = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					msg.AudioChunk = append(msg.AudioChunk, part.InlineData.Data...)
				}
			}
		}
		if sc.TurnComplete {
			msg.TurnComplete = true
		}
	}

	return msg, nil
}

func (g *GoogleLive) Close() error {
	if g.session != nil {
		return g.session.Close()
	}
	return nil
}

var _ LiveSession = (*GoogleLive)(nil)
