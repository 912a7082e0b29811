package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultTriggerThreshold is the minimum confidence for a high-risk context
// to dispatch an emergency action.
const DefaultTriggerThreshold = 0.7

// EmergencyContext is the transient input to the action gate.
type EmergencyContext struct {
	Risk       Risk
	Confidence float64 // 0.0 to 1.0
	Symptoms   []string
	Reason     string
}

// ParseConfidence coerces an arbitrary decoded JSON value into a confidence.
// Numbers and numeric strings are accepted; anything else yields 0.0. The
// result is clamped to [0, 1].
func ParseConfidence(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if x {
			f = 1
		}
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

// Gate decides whether an emergency context warrants dispatch.
//
// The decision itself is stateless. Gate also records that some trigger has
// fired; that flag is for observability and never suppresses a dispatch.
// Use a Debouncer to suppress repeats.
type Gate struct {
	threshold     float64
	triggered     atomic.Bool
	lastTriggered atomic.Int64 // unix millis, 0 = never
}

// NewGate creates a gate with the given confidence threshold. Non-positive
// thresholds fall back to DefaultTriggerThreshold.
func NewGate(threshold float64) *Gate {
	if threshold <= 0 {
		threshold = DefaultTriggerThreshold
	}
	return &Gate{threshold: threshold}
}

// Threshold returns the configured confidence threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// ShouldTrigger reports whether ctx is high risk with confidence at or above
// the threshold. A true result sets the already-triggered flag.
func (g *Gate) ShouldTrigger(ctx EmergencyContext) bool {
	if ctx.Risk.canonical() != RiskHigh {
		return false
	}
	if ctx.Confidence < g.threshold {
		return false
	}
	g.triggered.Store(true)
	g.lastTriggered.Store(time.Now().UnixMilli())
	return true
}

// Triggered reports whether any context has passed the gate in this process.
func (g *Gate) Triggered() bool {
	return g.triggered.Load()
}

// LastTriggeredAt returns the time of the most recent trigger, or the zero
// time if none has fired.
func (g *Gate) LastTriggeredAt() time.Time {
	ms := g.lastTriggered.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
