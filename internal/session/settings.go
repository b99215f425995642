package session

import (
	"github.com/MrWong99/finvoice/pkg/agent"
	"github.com/MrWong99/finvoice/pkg/realtime"
)

// Settings are the session.update parameters that do not come from the
// agent script.
type Settings struct {
	Modalities         []string
	Voice              string // overrides the script voice when set
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
	NoiseReduction     string // "near_field", "far_field" or empty to omit
	TurnDetection      *realtime.TurnDetection
	Temperature        float64
	ToolChoice         string
}

// DefaultSettings returns server VAD turn taking with whisper-1
// transcription and pcm16 audio in both directions.
func DefaultSettings() Settings {
	return Settings{
		Modalities:         []string{"text", "audio"},
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: "whisper-1",
		NoiseReduction:     "near_field",
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 200,
			CreateResponse:    true,
		},
		Temperature: 0.8,
		ToolChoice:  "auto",
	}
}

// sessionUpdate builds the configuration pushed when the data channel opens.
func (s Settings) sessionUpdate(m agent.Materialized) realtime.SessionUpdateEvent {
	voice := m.Voice
	if s.Voice != "" {
		voice = s.Voice
	}
	cfg := realtime.SessionConfig{
		Modalities:        s.Modalities,
		Instructions:      m.Instructions,
		Voice:             voice,
		InputAudioFormat:  s.InputAudioFormat,
		OutputAudioFormat: s.OutputAudioFormat,
		Temperature:       s.Temperature,
		ToolChoice:        s.ToolChoice,
	}
	if s.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &realtime.TranscriptionConfig{Model: s.TranscriptionModel}
	}
	if s.NoiseReduction != "" {
		cfg.InputAudioNoiseReduction = &realtime.NoiseReduction{Type: s.NoiseReduction}
	}
	if s.TurnDetection != nil {
		td := *s.TurnDetection
		cfg.TurnDetection = &td
	}
	for _, t := range m.Tools {
		cfg.Tools = append(cfg.Tools, realtime.ToolDef{
			Type:        t.Type,
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return realtime.SessionUpdateEvent{Type: realtime.TypeSessionUpdate, Session: cfg}
}
