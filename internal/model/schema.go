package model

import (
	"encoding/json"
	"fmt"
)

// Schema is the question paper's structure: per-question entries plus the
// detected overall paper total (0 when undetected).
type Schema struct {
	Entries    map[string]SchemaEntry
	TotalMarks int
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{Entries: make(map[string]SchemaEntry)}
}

// IsEmpty reports whether no question entries were detected.
func (s *Schema) IsEmpty() bool {
	return s == nil || len(s.Entries) == 0
}

// Keys returns the question keys in natural order, excluding reserved keys.
func (s *Schema) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Entries))
	for k := range s.Entries {
		if IsInternalKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Lookup resolves a key's entry by exact key, then by its base number.
// The second return value reports which key matched ("" when none did).
func (s *Schema) Lookup(key string) (SchemaEntry, string) {
	if s.IsEmpty() {
		return SchemaEntry{}, ""
	}
	if e, ok := s.Entries[key]; ok {
		return e, key
	}
	base := BaseNumber(key)
	if e, ok := s.Entries[base]; ok {
		return e, base
	}
	return SchemaEntry{}, ""
}

// MarshalJSON writes the flat key -> entry object, with the total under TotalMarksKey.
func (s Schema) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Entries)+1)
	for k, e := range s.Entries {
		out[k] = e
	}
	if s.TotalMarks > 0 {
		out[TotalMarksKey] = s.TotalMarks
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat schema object. Entries of the wrong shape are
// replaced by defaults instead of failing the whole document.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	s.Entries = make(map[string]SchemaEntry, len(raw))
	s.TotalMarks = 0
	for k, v := range raw {
		if k == TotalMarksKey {
			var total float64
			if err := json.Unmarshal(v, &total); err == nil && total > 0 {
				s.TotalMarks = int(total)
			}
			continue
		}
		if IsInternalKey(k) {
			continue
		}
		if _, ok := ParseBase(k); !ok {
			continue
		}
		s.Entries[k] = decodeEntry(k, v)
	}
	return nil
}

type looseEntry struct {
	MaxMarks any `json:"max_marks"`
	Type     any `json:"type"`
	Group    any `json:"group"`
}

func decodeEntry(key string, v json.RawMessage) SchemaEntry {
	e := SchemaEntry{Type: TypeMandatory, Group: key}
	var le looseEntry
	if err := json.Unmarshal(v, &le); err != nil {
		return e
	}
	switch m := le.MaxMarks.(type) {
	case float64:
		if m > 0 {
			e.MaxMarks = int(m)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(m, "%d", &n); err == nil && n > 0 {
			e.MaxMarks = n
		}
	}
	if t, ok := le.Type.(string); ok {
		switch QuestionType(t) {
		case TypeOptional, TypeChallenge:
			e.Type = QuestionType(t)
		}
	}
	switch g := le.Group.(type) {
	case string:
		if g != "" {
			e.Group = g
		}
	case float64:
		e.Group = fmt.Sprintf("%d", int(g))
	}
	return e
}
