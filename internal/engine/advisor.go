package engine

import (
	"sort"
	"strings"
)

// Advisor matches transcripts against a rule set. It holds no mutable state
// and is safe for concurrent use.
type Advisor struct {
	rules Rules
}

// NewAdvisor creates an advisor over the given rules. A nil or empty rule set
// is valid; every transcript then gets DefaultAdvice.
func NewAdvisor(rules Rules) *Advisor {
	return &Advisor{rules: rules}
}

// Rules returns the advisor's rule set.
func (a *Advisor) Rules() Rules {
	return a.rules
}

// Generate returns the advice for a transcript.
//
// A rule matches when any of its keywords is a substring of the lower-cased
// transcript. Among matches the highest risk priority wins; equal priorities
// keep rule-file order.
func (a *Advisor) Generate(transcript string) Advice {
	rule, ok := a.Match(transcript)
	if !ok {
		return DefaultAdvice
	}
	return Advice{
		Title:   rule.Title,
		Message: rule.Message,
		Risk:    rule.Risk.Normalize(),
	}
}

// Match returns the selected rule for a transcript, or false when none match.
func (a *Advisor) Match(transcript string) (Rule, bool) {
	text := strings.ToLower(transcript)

	var matches []Rule
	for _, r := range a.rules {
		if matchesAny(text, r.Keywords) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return Rule{}, false
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Risk.Priority() > matches[j].Risk.Priority()
	})
	return matches[0], true
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
