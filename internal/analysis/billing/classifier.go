// Package billing decides whether a generated answer is substantive enough to
// count against the free-tier allowance. Classification is deterministic,
// side-effect free and total: every input maps to exactly one verdict.
package billing

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
)

// Verdict is the binary billing outcome for one answer.
type Verdict string

const (
	Billable    Verdict = "billable"
	NonBillable Verdict = "non_billable"
)

// TurnContext carries the question and rolling history of the turn being
// classified.
type TurnContext struct {
	Question string
	History  []chat.HistoryEntry
}

// Classifier is the pluggable classification strategy consumed by the
// exchange pipeline.
type Classifier interface {
	Classify(answer string, turn TurnContext) Verdict
}

// Heuristics holds the tunable thresholds of the default strategy.
type Heuristics struct {
	// MinAnswerRunes is the minimum useful answer length.
	MinAnswerRunes int
	// QuestionRatio marks an answer as clarifying once this share of its
	// sentences are interrogative.
	QuestionRatio float64
	// SubstanceThreshold is the score at which a soliciting answer still
	// counts as substantive.
	SubstanceThreshold int
}

// DefaultHeuristics returns the tuned production thresholds.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		MinAnswerRunes:     40,
		QuestionRatio:      0.5,
		SubstanceThreshold: 2,
	}
}

// errorPreambles mark internal failure messages surfaced as answer text.
var errorPreambles = []string{
	"sorry, i encountered an error",
	"sorry, i could not generate a response",
	"something went wrong",
	"an internal error occurred",
	"i'm unable to process",
	"i am unable to process",
	"please try again later",
}

// solicitations are explicit requests for missing details from the user.
var solicitations = []string{
	"could you clarify",
	"could you share",
	"could you tell me",
	"can you provide",
	"can you share",
	"i need more information",
	"i need a bit more detail",
	"need more details",
	"to give you a precise answer",
	"which ad network",
	"which platform",
	"what platform",
	"what is your app",
	"let me know which",
	"let me know what",
}

// recommendationLeads open directly actionable statements.
var recommendationLeads = []string{
	"use ", "set ", "enable ", "disable ", "increase ", "reduce ", "lower ",
	"raise ", "switch ", "test ", "implement ", "add ", "remove ", "target ",
	"segment ", "prioritize ", "start ", "avoid ", "consider ",
}

// HeuristicClassifier is the default strategy.
type HeuristicClassifier struct {
	cfg Heuristics
}

var _ Classifier = (*HeuristicClassifier)(nil)

// NewHeuristicClassifier builds the default strategy; zero-valued thresholds
// fall back to the defaults.
func NewHeuristicClassifier(cfg Heuristics) *HeuristicClassifier {
	def := DefaultHeuristics()
	if cfg.MinAnswerRunes <= 0 {
		cfg.MinAnswerRunes = def.MinAnswerRunes
	}
	if cfg.QuestionRatio <= 0 {
		cfg.QuestionRatio = def.QuestionRatio
	}
	if cfg.SubstanceThreshold <= 0 {
		cfg.SubstanceThreshold = def.SubstanceThreshold
	}
	return &HeuristicClassifier{cfg: cfg}
}

// Classify returns NonBillable for answers that are empty, failure messages,
// below the minimum useful length, or primarily requests for more information;
// everything else is Billable.
func (c *HeuristicClassifier) Classify(answer string, _ TurnContext) Verdict {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return NonBillable
	}

	lowered := strings.ToLower(trimmed)
	for _, preamble := range errorPreambles {
		if strings.Contains(lowered, preamble) {
			return NonBillable
		}
	}

	if utf8.RuneCountInString(trimmed) < c.cfg.MinAnswerRunes {
		return NonBillable
	}

	sentences := splitSentences(trimmed)
	if interrogativeRatio(sentences) >= c.cfg.QuestionRatio {
		return NonBillable
	}

	if solicitsDetails(lowered) && substanceScore(trimmed, sentences) < c.cfg.SubstanceThreshold {
		return NonBillable
	}

	return Billable
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func interrogativeRatio(sentences []string) float64 {
	if len(sentences) == 0 {
		return 0
	}
	questions := 0
	for _, s := range sentences {
		if strings.HasSuffix(s, "?") {
			questions++
		}
	}
	return float64(questions) / float64(len(sentences))
}

func solicitsDetails(lowered string) bool {
	for _, phrase := range solicitations {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// substanceScore counts concrete content: enumerated guidance, specific
// figures and directly actionable statements.
func substanceScore(text string, sentences []string) int {
	score := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isEnumerated(trimmed) {
			score++
		}
	}

	if containsFigure(text) {
		score++
	}

	for _, s := range sentences {
		lowered := strings.ToLower(s)
		for _, lead := range recommendationLeads {
			if strings.HasPrefix(lowered, lead) {
				score++
				break
			}
		}
	}

	return score
}

func isEnumerated(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "• ") || strings.HasPrefix(line, "* ") {
		return true
	}
	// Numbered items: "1. ", "2) ".
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) {
		return false
	}
	return (line[i] == '.' || line[i] == ')') && i+1 < len(line) && line[i+1] == ' '
}

func containsFigure(text string) bool {
	for i, r := range text {
		if r == '%' || r == '$' {
			return true
		}
		if unicode.IsDigit(r) {
			// Bare digits count only when part of a figure, not an
			// enumeration marker at line start.
			if i > 0 && text[i-1] != '\n' {
				return true
			}
		}
	}
	return false
}
