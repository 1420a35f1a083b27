// Package schema holds the static action → request-schema registry for the
// dispatcher protocol.
//
// The envelope schema validates only the action discriminator; the action
// schema then re-validates the entire payload in strict mode, rejecting
// unknown fields.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry validates dispatcher payloads against compiled schemas.
type Registry struct {
	envelope *jsonschema.Schema
	actions  map[string]*jsonschema.Schema
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the process-wide registry compiled from the static catalog.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = NewRegistry()
	})
	return defaultReg, defaultErr
}

// NewRegistry compiles the static schema catalog.
func NewRegistry() (*Registry, error) {
	compile := func(name, doc string) (*jsonschema.Schema, error) {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := "clawden://schema/" + name + ".json"
		if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		return s, nil
	}

	env, err := compile("envelope", envelopeSchema)
	if err != nil {
		return nil, err
	}
	actions := make(map[string]*jsonschema.Schema, len(actionSchemas))
	for name, doc := range actionSchemas {
		s, err := compile(name, doc)
		if err != nil {
			return nil, err
		}
		actions[name] = s
	}
	return &Registry{envelope: env, actions: actions}, nil
}

// Actions returns the sorted list of recognized action names.
func (r *Registry) Actions() []string {
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Known reports whether action has a registered schema.
func (r *Registry) Known(action string) bool {
	_, ok := r.actions[action]
	return ok
}

// ValidateEnvelope checks the minimal envelope shape and returns the action
// name. The action must also be registered.
func (r *Registry) ValidateEnvelope(payload []byte) (string, error) {
	v, err := decode(payload)
	if err != nil {
		return "", err
	}
	if err := r.envelope.Validate(v); err != nil {
		return "", fmt.Errorf("invalid envelope: %w", err)
	}
	obj, _ := v.(map[string]any)
	action, _ := obj["action"].(string)
	if !r.Known(action) {
		return action, fmt.Errorf("unknown action %q", action)
	}
	return action, nil
}

// ValidateAction strict-validates the full payload against the action schema.
func (r *Registry) ValidateAction(action string, payload []byte) error {
	s, ok := r.actions[action]
	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}
	v, err := decode(payload)
	if err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid %s request: %w", action, err)
	}
	return nil
}

// decode parses payload the way jsonschema expects (json.Number preserved).
func decode(payload []byte) (any, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}
