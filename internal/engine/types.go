package engine

import "strings"

// Risk is the severity level a rule assigns to a transcript.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskElevated Risk = "elevated"
	RiskHigh     Risk = "high"
)

// riskPriority ranks risks for rule selection. Unknown values rank 0.
var riskPriority = map[Risk]int{
	RiskHigh:     3,
	RiskElevated: 2,
	RiskLow:      1,
}

// Priority returns the selection rank of the risk level.
func (r Risk) Priority() int {
	return riskPriority[r.canonical()]
}

func (r Risk) canonical() Risk {
	return Risk(strings.ToLower(strings.TrimSpace(string(r))))
}

// Valid reports whether r is one of the three known levels, ignoring case and
// surrounding whitespace.
func (r Risk) Valid() bool {
	return r.Priority() > 0
}

// Normalize returns the lowercase form of a known risk, or RiskLow for anything else.
func (r Risk) Normalize() Risk {
	if !r.Valid() {
		return RiskLow
	}
	return r.canonical()
}

// Rule maps a set of keywords to a risk level and the advice shown when it matches.
type Rule struct {
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Risk     Risk     `json:"risk" yaml:"risk"`
	Title    string   `json:"title" yaml:"title"`
	Message  string   `json:"message" yaml:"message"`
}

// Advice is the engine's output for one transcript.
type Advice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Risk    Risk   `json:"risk"`
}

// DefaultAdvice is returned when no rule matches.
var DefaultAdvice = Advice{
	Title:   "General Guidance",
	Message: "No specific warning signs were recognised. Describe your symptoms in more detail, and contact a clinician if they persist or get worse.",
	Risk:    RiskLow,
}
