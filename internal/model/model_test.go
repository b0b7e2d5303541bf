package model

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func TestCompareKeys(t *testing.T) {
	keys := []string{"10", "9b", "2", "9a", "1", "9", "_total_marks", "11"}
	SortKeys(keys)
	want := []string{"1", "2", "9", "9a", "9b", "10", "11", "_total_marks"}
	if !slices.Equal(keys, want) {
		t.Errorf("SortKeys() = %v, want %v", keys, want)
	}
}

func TestParseBase(t *testing.T) {
	tests := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{"9", 9, true},
		{"9a", 9, true},
		{"50", 50, true},
		{"51", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ParseBase(tt.key)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseBase(%q) = %d, %v; want %d, %v", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	s := NewSchema()
	s.Entries["1"] = SchemaEntry{MaxMarks: 5, Type: TypeMandatory, Group: "1"}
	s.Entries["7"] = SchemaEntry{MaxMarks: 16, Type: TypeOptional, Group: "7"}
	s.TotalMarks = 50

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Schema
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.TotalMarks != 50 {
		t.Errorf("TotalMarks = %d, want 50", got.TotalMarks)
	}
	if got.Entries["7"] != s.Entries["7"] {
		t.Errorf("entry 7 = %+v, want %+v", got.Entries["7"], s.Entries["7"])
	}
}

func TestSchemaUnmarshalMalformedEntries(t *testing.T) {
	data := []byte(`{
		"1": {"max_marks": 5},
		"2": "not an object",
		"3": {"max_marks": "4", "type": "weird", "group": 7},
		"4": {"max_marks": -2, "type": "challenge"},
		"x": {"max_marks": 3},
		"_total_marks": "fifty"
	}`)
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.TotalMarks != 0 {
		t.Errorf("TotalMarks = %d, want 0", s.TotalMarks)
	}
	if _, ok := s.Entries["x"]; ok {
		t.Error("non-numeric key should be dropped")
	}
	if e := s.Entries["1"]; e.MaxMarks != 5 || e.Type != TypeMandatory || e.Group != "1" {
		t.Errorf("entry 1 = %+v", e)
	}
	if e := s.Entries["2"]; e.MaxMarks != 0 || e.Type != TypeMandatory || e.Group != "2" {
		t.Errorf("entry 2 = %+v, want defaults", e)
	}
	if e := s.Entries["3"]; e.MaxMarks != 4 || e.Type != TypeMandatory || e.Group != "7" {
		t.Errorf("entry 3 = %+v", e)
	}
	if e := s.Entries["4"]; e.MaxMarks != 0 || e.Type != TypeChallenge {
		t.Errorf("entry 4 = %+v", e)
	}
}

func TestSchemaLookup(t *testing.T) {
	s := NewSchema()
	s.Entries["9"] = SchemaEntry{MaxMarks: 16, Type: TypeMandatory, Group: "9"}

	if _, key := s.Lookup("9a"); key != "9" {
		t.Errorf("Lookup(9a) matched %q, want 9", key)
	}
	if _, key := s.Lookup("4"); key != "" {
		t.Errorf("Lookup(4) matched %q, want none", key)
	}
	var empty *Schema
	if _, key := empty.Lookup("1"); key != "" {
		t.Errorf("nil schema Lookup matched %q", key)
	}
}

func TestGradingConfigValidate(t *testing.T) {
	if err := DefaultGradingConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg := DefaultGradingConfig()
	cfg.StrongMatch = 1.5
	cfg.WindowStride = 0
	cfg.Lang = ""
	err := cfg.Validate()
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if len(cerr.Issues) != 3 {
		t.Errorf("expected 3 issues, got %d: %v", len(cerr.Issues), cerr)
	}
}
