// Package collab holds the external collaborators the pipeline depends on:
// speech-to-text and clinical entity extraction. Each has an HTTP-backed
// implementation and a local stand-in used when no endpoint is configured.
package collab

import (
	"context"
	"io"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// Entities are clinical mentions found in a transcript.
type Entities struct {
	Symptoms   []string `json:"symptoms"`
	ConceptIDs []string `json:"concept_ids"`
}

// Empty returns an Entities value with non-nil empty slices.
func Empty() Entities {
	return Entities{Symptoms: []string{}, ConceptIDs: []string{}}
}

// Extractor finds symptom mentions in text. Implementations never fail the
// caller: an unavailable backend yields Empty().
type Extractor interface {
	Extract(ctx context.Context, text string) Entities
}

// uniq removes duplicates and blanks, keeping first-seen order.
func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
