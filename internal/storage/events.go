package storage

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// EventWriter persists dispatch audit events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DispatchEvent)
	Close()
}

// Event sources.
const (
	SourceAnalyze = "analyze"
	SourceAgent   = "agent"
)

// DispatchEvent records one emergency dispatch attempt.
type DispatchEvent struct {
	EventID        string    `json:"event_id"`
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	Symptoms       []string  `json:"symptoms"`
	Risk           string    `json:"risk"`
	Confidence     float64   `json:"confidence"`
	Status         string    `json:"status"`
	IsDryRun       bool      `json:"is_dry_run"`
	Message        string    `json:"message"`
	TranscriptHash string    `json:"transcript_hash,omitempty"` // BLAKE2b-256 hex, empty for agent calls
	LatencyMs      float32   `json:"latency_ms"`
	Source         string    `json:"source"` // "analyze" or "agent"
}

// HashTranscript returns the hex BLAKE2b-256 digest of a transcript so audit
// rows can be correlated with history without storing patient text.
func HashTranscript(transcript string) string {
	if transcript == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])
}
