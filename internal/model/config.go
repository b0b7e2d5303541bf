package model

import (
	"fmt"
	"strings"
)

// GradingConfig holds the tunable thresholds of the grading pipeline.
// The defaults are empirically chosen and should be recalibrated against
// labeled exams before being trusted.
type GradingConfig struct {
	// Concept matching.
	StrongMatch  float64 // similarity alone is enough
	KeywordMatch float64 // similarity plus a literal keyword overlap
	FuzzyMatch   float64 // similarity plus a fuzzy keyword overlap
	MaxConcepts  int
	WindowSize   int
	WindowStride int

	// Alignment.
	DefaultMarks         int     // per-question marks when the schema has none
	FallbackSimilarity   float64 // minimum similarity for semantic fallback matches
	FallbackMinChars     int     // candidates with fewer non-space chars are skipped
	FallbackTruncate     int     // characters embedded per answer during fallback
	SpellingCutoff       float64
	PageAwareRecoverRate float64 // page-aware parsing runs below this share of expected keys
	MinSegmentChars      int     // parser drops markers with shorter content (0 disables)

	Lang string // feedback language
}

// DefaultGradingConfig returns the stock thresholds.
func DefaultGradingConfig() GradingConfig {
	return GradingConfig{
		StrongMatch:          0.70,
		KeywordMatch:         0.55,
		FuzzyMatch:           0.45,
		MaxConcepts:          8,
		WindowSize:           6,
		WindowStride:         3,
		DefaultMarks:         10,
		FallbackSimilarity:   0.2,
		FallbackMinChars:     10,
		FallbackTruncate:     1000,
		SpellingCutoff:       0.6,
		PageAwareRecoverRate: 0.6,
		Lang:                 "en",
	}
}

// ConfigIssue is one invalid configuration field.
type ConfigIssue struct {
	Field   string
	Message string
}

// ConfigError aggregates every invalid field of a GradingConfig.
type ConfigError struct {
	Issues []ConfigIssue
}

func (e *ConfigError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "grading config validation failed"
	}
	lines := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		lines = append(lines, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return strings.Join(lines, "\n")
}

// Validate checks that every threshold is within its meaningful range.
func (c GradingConfig) Validate() error {
	var issues []ConfigIssue
	add := func(field, message string) {
		issues = append(issues, ConfigIssue{Field: field, Message: message})
	}
	unit := func(field string, v float64) {
		if v < 0 || v > 1 {
			add(field, fmt.Sprintf("must be within [0,1], got %g", v))
		}
	}

	unit("strong-match", c.StrongMatch)
	unit("keyword-match", c.KeywordMatch)
	unit("fuzzy-match", c.FuzzyMatch)
	unit("fallback-similarity", c.FallbackSimilarity)
	unit("spelling-cutoff", c.SpellingCutoff)
	unit("page-aware-recover-rate", c.PageAwareRecoverRate)
	if c.MaxConcepts < 1 {
		add("max-concepts", "must be >= 1")
	}
	if c.WindowSize < 1 {
		add("window-size", "must be >= 1")
	}
	if c.WindowStride < 1 || c.WindowStride > c.WindowSize {
		add("window-stride", "must be within [1, window-size]")
	}
	if c.DefaultMarks < 1 {
		add("default-marks", "must be >= 1")
	}
	if c.FallbackMinChars < 0 {
		add("fallback-min-chars", "must be >= 0")
	}
	if c.FallbackTruncate < 1 {
		add("fallback-truncate", "must be >= 1")
	}
	if c.MinSegmentChars < 0 {
		add("min-segment-chars", "must be >= 0")
	}
	if strings.TrimSpace(c.Lang) == "" {
		add("lang", "is required")
	}

	if len(issues) > 0 {
		return &ConfigError{Issues: issues}
	}
	return nil
}
