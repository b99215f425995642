// Package agent models the static agent script sent to the realtime service
// and the persona injection step that personalises it per connection.
//
// A [Script] is an immutable template loaded once from YAML. Before every use
// that needs up-to-date personalisation (session configuration, tool
// dispatch) callers produce a [Materialized] copy with [Materialize], passing
// the latest cached user profile. Materialized values are never cached across
// profile refreshes.
package agent

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PersonaPlaceholder is the token in [Script.Instructions] that is replaced
// by the serialised user profile.
const PersonaPlaceholder = "<add-user-persona>"

// Tool is a function tool declared to the realtime service.
type Tool struct {
	// Type is always "function" on the wire; an empty value is normalised
	// by [Materialize].
	Type        string         `yaml:"type" json:"type"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// Personality is free-text style metadata appended to the instructions.
type Personality struct {
	Identity          string `yaml:"identity"`
	Task              string `yaml:"task"`
	Demeanor          string `yaml:"demeanor"`
	Tone              string `yaml:"tone"`
	LevelOfEnthusiasm string `yaml:"level_of_enthusiasm"`
	LevelOfFormality  string `yaml:"level_of_formality"`
	LevelOfEmotion    string `yaml:"level_of_emotion"`
	FillerWords       string `yaml:"filler_words"`
	Pacing            string `yaml:"pacing"`
	OtherDetails      string `yaml:"other_details"`
}

// Transition moves the conversation to another state.
type Transition struct {
	NextStep  string `yaml:"next_step" json:"next_step"`
	Condition string `yaml:"condition" json:"condition"`
}

// ConversationState is one step of a scripted conversation flow.
type ConversationState struct {
	ID           string       `yaml:"id" json:"id"`
	Description  string       `yaml:"description" json:"description"`
	Instructions []string     `yaml:"instructions" json:"instructions"`
	Examples     []string     `yaml:"examples" json:"examples"`
	Transitions  []Transition `yaml:"transitions" json:"transitions"`
}

// Script is the declarative agent bundle.
type Script struct {
	Name              string              `yaml:"name"`
	Voice             string              `yaml:"voice"`
	PublicDescription string              `yaml:"public_description"`
	Instructions      string              `yaml:"instructions"`
	Tools             []Tool              `yaml:"tools"`
	Personality       *Personality        `yaml:"personality"`
	States            []ConversationState `yaml:"conversation_states"`
}

// Validate reports structural problems with the script.
func (s *Script) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("agent: script name is required"))
	}
	if s.Instructions == "" {
		errs = append(errs, errors.New("agent: script instructions are required"))
	}
	seen := make(map[string]int, len(s.Tools))
	for i, t := range s.Tools {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("agent: tools[%d].name is required", i))
			continue
		}
		if t.Type != "" && t.Type != "function" {
			errs = append(errs, fmt.Errorf("agent: tools[%d].type %q is invalid; only \"function\" is supported", i, t.Type))
		}
		if prev, ok := seen[t.Name]; ok {
			errs = append(errs, fmt.Errorf("agent: tools[%d].name %q duplicates tools[%d]", i, t.Name, prev))
		}
		seen[t.Name] = i
	}
	return errors.Join(errs...)
}

// ToolNames returns the declared tool names in order.
func (s *Script) ToolNames() []string {
	names := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		names[i] = t.Name
	}
	return names
}

// LoadScript reads and validates a YAML agent script from path.
func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agent: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadScriptFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("agent: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadScriptFromReader decodes a YAML agent script from r and validates it.
func LoadScriptFromReader(r io.Reader) (*Script, error) {
	s := &Script{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("agent: decode yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
