// Package schema provides optional per-action JSON Schema validation for
// request payloads. Actions without a registered schema pass through
// unchanged; not every action needs structural validation.
package schema

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// maxDetails caps the number of validation messages sent back on the
// wire; longer lists are truncated.
const maxDetails = 5

// Set holds compiled schemas keyed by action name. Safe for concurrent use.
type Set struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

func NewSet() *Set {
	return &Set{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to action, replacing any
// previous schema for that action.
func (s *Set) Register(action string, schemaJSON []byte) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("schema: compile for action %q: %w", action, err)
	}
	s.mu.Lock()
	s.schemas[action] = compiled
	s.mu.Unlock()
	return nil
}

// Validate checks data against the schema registered for action. It
// returns at most maxDetails human-readable "field: reason" strings; an
// empty slice means the payload is valid (or the action has no schema).
// The error return is for validator-internal failures only.
func (s *Set) Validate(action string, data []byte) ([]string, error) {
	s.mu.RLock()
	compiled := s.schemas[action]
	s.mu.RUnlock()
	if compiled == nil {
		return nil, nil
	}

	if len(data) == 0 {
		data = []byte("null")
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema: validate action %q: %w", action, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := result.Errors()
	details := make([]string, 0, maxDetails)
	for _, e := range errs {
		if len(details) == maxDetails {
			break
		}
		details = append(details, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return details, nil
}
