package model

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MaxQuestionNumber is the highest base number accepted as a question key.
const MaxQuestionNumber = 50

// TotalMarksKey is the reserved schema key carrying the paper's detected overall total.
const TotalMarksKey = "_total_marks"

// PageBreak is the literal marker inserted by extractors between pages of one document.
const PageBreak = "---PAGE_BREAK---"

// QuestionType classifies a question in the paper schema.
type QuestionType string

const (
	// TypeMandatory is a question that always counts toward the total.
	TypeMandatory QuestionType = "mandatory"
	// TypeOptional is a question that is one of several OR alternatives.
	TypeOptional QuestionType = "optional"
	// TypeChallenge is a bonus question that is scored but never counted.
	TypeChallenge QuestionType = "challenge"
)

// IsInternalKey reports whether a key is reserved metadata rather than a question.
func IsInternalKey(key string) bool {
	return strings.HasPrefix(key, "_")
}

// BaseNumber strips every non-digit from a key: "9a" -> "9".
func BaseNumber(key string) string {
	var sb strings.Builder
	for _, r := range key {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ParseBase returns the numeric base of a key and whether it is a valid question number.
func ParseBase(key string) (int, bool) {
	base := BaseNumber(key)
	if base == "" {
		return 0, false
	}
	n, err := strconv.Atoi(base)
	if err != nil || n < 1 || n > MaxQuestionNumber {
		return 0, false
	}
	return n, true
}

// CompareKeys orders keys numerically by base, then by their letter suffix,
// so "2" < "10" and "9a" < "9b". Keys without a number sort last.
func CompareKeys(a, b string) int {
	na, okA := ParseBase(a)
	nb, okB := ParseBase(b)
	switch {
	case okA && !okB:
		return -1
	case !okA && okB:
		return 1
	case !okA && !okB:
		return strings.Compare(a, b)
	}
	if c := cmp.Compare(na, nb); c != 0 {
		return c
	}
	return strings.Compare(suffix(a), suffix(b))
}

func suffix(key string) string {
	return strings.TrimLeft(key, "0123456789")
}

// SortKeys sorts keys in place in natural question order.
func SortKeys(keys []string) {
	slices.SortFunc(keys, CompareKeys)
}

// SchemaEntry describes one question of the paper.
type SchemaEntry struct {
	MaxMarks int          `json:"max_marks"`
	Type     QuestionType `json:"type"`
	Group    string       `json:"group"`
}

// SegmentMap maps question keys to answer text for one document.
type SegmentMap map[string]string

// Keys returns the map's keys in natural question order.
func (m SegmentMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Append adds content to a key, joining with a space. Blank content is ignored
// so no key ever maps to an empty answer.
func (m SegmentMap) Append(key, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	if prev, ok := m[key]; ok && prev != "" {
		m[key] = prev + " " + content
		return
	}
	m[key] = content
}

// MatchStrategy records how a model key found its student answer.
type MatchStrategy string

const (
	MatchExact    MatchStrategy = "exact"
	MatchBase     MatchStrategy = "base"
	MatchSemantic MatchStrategy = "semantic"
	MatchNone     MatchStrategy = "none"
)

// ScoreDetails carries the concept-level evidence behind a score.
type ScoreDetails struct {
	Similarity      float64  `json:"similarity"`
	ConceptCoverage float64  `json:"concept_coverage"`
	MatchedConcepts []string `json:"matched_concepts"`
	MissingConcepts []string `json:"missing_concepts"`
}

// ScoreRecord is one line of the exam report.
type ScoreRecord struct {
	Question   string        `json:"question"`
	Score      float64       `json:"score"`
	MaxMarks   float64       `json:"max_marks"`
	Feedback   string        `json:"feedback"`
	Details    *ScoreDetails `json:"details,omitempty"`
	Type       QuestionType  `json:"type"`
	Group      string        `json:"group"`
	Selected   bool          `json:"selected"`
	StudentKey string        `json:"student_key,omitempty"`
	Strategy   MatchStrategy `json:"strategy"`
}

// Report is the result of one evaluation run.
type Report struct {
	Breakdown  []ScoreRecord `json:"breakdown"`
	TotalScore float64       `json:"total_score"`
	MaxScore   float64       `json:"max_score"`
}

// EvaluationStatus is the lifecycle state of a background evaluation.
type EvaluationStatus string

const (
	StatusQueued    EvaluationStatus = "queued"
	StatusRunning   EvaluationStatus = "running"
	StatusCompleted EvaluationStatus = "completed"
	StatusFailed    EvaluationStatus = "failed"
)

// Stage names the pipeline step an evaluation is in, for progress polling.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageExtracting  Stage = "extracting"
	StageSchema      Stage = "schema"
	StageSegmenting  Stage = "segmenting"
	StageNormalizing Stage = "normalizing"
	StageAligning    Stage = "aligning"
	StageDone        Stage = "done"
)

// Evaluation is a stored evaluation job.
type Evaluation struct {
	ID         string           `json:"id"`
	Label      string           `json:"label"`
	Status     EvaluationStatus `json:"status"`
	Stage      Stage            `json:"stage"`
	Progress   int              `json:"progress"`
	Error      string           `json:"error,omitempty"`
	TotalScore float64          `json:"total_score"`
	MaxScore   float64          `json:"max_score"`
	Report     *Report          `json:"report,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Documents holds the per-page file paths of the three scanned documents.
// QuestionPaper may be empty.
type Documents struct {
	QuestionPaper []string `json:"question_paper,omitempty"`
	ModelAnswer   []string `json:"model_answer"`
	StudentAnswer []string `json:"student_answer"`
}
