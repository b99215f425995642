package agent

import (
	"bytes"
	"encoding/json"
	"maps"
	"strings"
)

// Materialized is the per-use, personalised form of a [Script]. It shares no
// mutable state with the template it was produced from.
type Materialized struct {
	Name         string
	Voice        string
	Instructions string
	Tools        []Tool

	// PersonaInjected reports whether the placeholder was replaced.
	PersonaInjected bool
}

// Tool returns the declared tool called name.
func (m Materialized) Tool(name string) (Tool, bool) {
	for _, t := range m.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Materialize composes the final instructions for script.
//
// The first occurrence of [PersonaPlaceholder] is replaced by the compact
// JSON encoding of profile. When profile is empty or not valid JSON the
// instructions are left as written. Personality metadata and conversation
// states, if present, are appended as sections after the instructions.
func Materialize(script *Script, profile json.RawMessage) Materialized {
	m := Materialized{
		Name:  script.Name,
		Voice: script.Voice,
		Tools: cloneTools(script.Tools),
	}

	instructions := script.Instructions
	if persona, ok := compactJSON(profile); ok && strings.Contains(instructions, PersonaPlaceholder) {
		instructions = strings.Replace(instructions, PersonaPlaceholder, persona, 1)
		m.PersonaInjected = true
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	if p := script.Personality; p != nil {
		writePersonality(&sb, p)
	}
	if len(script.States) > 0 {
		if states, err := json.MarshalIndent(script.States, "", "  "); err == nil {
			sb.WriteString("\n\n# Conversation States\n")
			sb.Write(states)
		}
	}
	m.Instructions = sb.String()
	return m
}

func compactJSON(raw json.RawMessage) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", false
	}
	if buf.String() == "null" {
		return "", false
	}
	return buf.String(), true
}

func writePersonality(sb *strings.Builder, p *Personality) {
	fields := []struct{ title, value string }{
		{"Identity", p.Identity},
		{"Task", p.Task},
		{"Demeanor", p.Demeanor},
		{"Tone", p.Tone},
		{"Level of Enthusiasm", p.LevelOfEnthusiasm},
		{"Level of Formality", p.LevelOfFormality},
		{"Level of Emotion", p.LevelOfEmotion},
		{"Filler Words", p.FillerWords},
		{"Pacing", p.Pacing},
		{"Other details", p.OtherDetails},
	}
	header := false
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if !header {
			sb.WriteString("\n\n# Personality and Tone")
			header = true
		}
		sb.WriteString("\n## ")
		sb.WriteString(f.title)
		sb.WriteString("\n")
		sb.WriteString(f.value)
	}
}

// cloneTools deep-copies tool definitions so that callers mutating a
// Materialized value cannot reach the template.
func cloneTools(tools []Tool) []Tool {
	out := make([]Tool, len(tools))
	for i, t := range tools {
		if t.Type == "" {
			t.Type = "function"
		}
		t.Parameters = cloneMap(t.Parameters)
		out[i] = t
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		s := make([]any, len(x))
		for i := range x {
			s[i] = cloneValue(x[i])
		}
		return s
	default:
		return v
	}
}
