package realtime

import (
	"encoding/json"
	"fmt"
)

// Client event types.
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeInputAudioBufferClear  = "input_audio_buffer.clear"
)

// Server event types handled by the orchestrator. Everything else is ignored.
const (
	TypeSessionCreated          = "session.created"
	TypeConversationItemCreated = "conversation.item.created"
	TypeTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeAudioTranscriptDelta    = "response.audio_transcript.delta"
	TypeResponseDone            = "response.done"
	TypeResponseOutputItemDone  = "response.output_item.done"
	TypeError                   = "error"
)

// ── Outgoing ───────────────────────────────────────────────────────────────────

// SessionUpdateEvent configures the remote session.
type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the body of a session.update event.
type SessionConfig struct {
	Modalities               []string             `json:"modalities,omitempty"`
	Instructions             string               `json:"instructions,omitempty"`
	Voice                    string               `json:"voice,omitempty"`
	InputAudioFormat         string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat        string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription  *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	InputAudioNoiseReduction *NoiseReduction      `json:"input_audio_noise_reduction,omitempty"`
	// TurnDetection has no omitempty: an explicit null disables server VAD.
	TurnDetection *TurnDetection `json:"turn_detection"`
	Temperature   float64        `json:"temperature,omitempty"`
	ToolChoice    string         `json:"tool_choice,omitempty"`
	Tools         []ToolDef      `json:"tools,omitempty"`
}

// TranscriptionConfig selects the model transcribing user audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// NoiseReduction selects the input noise reduction mode ("near_field" or
// "far_field").
type NoiseReduction struct {
	Type string `json:"type"`
}

// TurnDetection configures voice-activity based turn taking.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

// ToolDef is a function tool in session.update.
type ToolDef struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ConversationItemCreateEvent adds an item to the conversation.
type ConversationItemCreateEvent struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is a message, function call or function call output.
type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is one part of a message item.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ControlEvent is a client event without a body (response.create,
// input_audio_buffer.clear).
type ControlEvent struct {
	Type string `json:"type"`
}

// UserTextItem builds a conversation.item.create for a typed user turn.
func UserTextItem(id, text string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			ID:      id,
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// FunctionCallOutput builds the conversation.item.create carrying a tool
// result back to the service.
func FunctionCallOutput(callID, output string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// ResponseCreate requests the next model turn.
func ResponseCreate() ControlEvent { return ControlEvent{Type: TypeResponseCreate} }

// InputAudioBufferClear discards buffered, uncommitted input audio.
func InputAudioBufferClear() ControlEvent { return ControlEvent{Type: TypeInputAudioBufferClear} }

// ── Incoming ───────────────────────────────────────────────────────────────────

// ServerEvent is the union of the server events the orchestrator reads.
// Fields not present on a given event type are left zero.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// conversation.item.input_audio_transcription.completed,
	// response.audio_transcript.delta
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Delta      string `json:"delta,omitempty"`

	// session.created
	Session *SessionInfo `json:"session,omitempty"`

	// conversation.item.created, response.output_item.done
	Item *ServerItem `json:"item,omitempty"`

	// response.done
	Response *ResponseInfo `json:"response,omitempty"`

	// error
	Error *ErrorDetail `json:"error,omitempty"`
}

// SessionInfo is the session object of session.created.
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
}

// ServerItem is a conversation item as reported by the server.
type ServerItem struct {
	ID        string        `json:"id"`
	Type      string        `json:"type,omitempty"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
}

// ResponseInfo is the response object of response.done.
type ResponseInfo struct {
	ID     string       `json:"id,omitempty"`
	Status string       `json:"status,omitempty"`
	Output []ServerItem `json:"output,omitempty"`
}

// ErrorDetail is the nested error object of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ParseServerEvent decodes one inbound data-channel message.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var evt ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ServerEvent{}, fmt.Errorf("realtime: decode server event: %w", err)
	}
	if evt.Type == "" {
		return ServerEvent{}, fmt.Errorf("realtime: server event without type")
	}
	return evt, nil
}
