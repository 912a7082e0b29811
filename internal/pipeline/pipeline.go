// Package pipeline runs one transcript through advice, history, the action
// gate and the dispatcher, and handles direct emergency triggers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/medalert/internal/action"
	"github.com/triage-ai/medalert/internal/collab"
	"github.com/triage-ai/medalert/internal/engine"
	"github.com/triage-ai/medalert/internal/ledger"
	"github.com/triage-ai/medalert/internal/storage"
)

// ErrEmptyTranscript is returned by Analyze for blank input.
var ErrEmptyTranscript = errors.New("transcript is empty")

// DefaultAnalyzeConfidence is the confidence assigned to a high-risk rule
// match when Analyze builds an emergency context.
const DefaultAnalyzeConfidence = 0.9

// DefaultReason is used when an emergency trigger carries no reason.
const DefaultReason = "unspecified_reason"

// State is a step in one pipeline run.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateAdvised          State = "ADVISED"
	StateLogged           State = "LOGGED"
	StateGating           State = "GATING"
	StateDispatching      State = "DISPATCHING"
	StateDispatchedReal   State = "DISPATCHED_REAL"
	StateDispatchedDryRun State = "DISPATCHED_DRY_RUN"
	StateDispatchFailed   State = "DISPATCH_FAILED"
	StateDone             State = "DONE"
)

// Outcome describes a completed Analyze run.
type Outcome struct {
	Advice     engine.Advice
	Entry      ledger.Entry
	Entities   collab.Entities
	Dispatch   *action.Result // nil when no dispatch was attempted
	Suppressed bool           // gate passed but the debouncer held the call back
	Trace      []State
}

// State returns the final state of the run.
func (o Outcome) State() State {
	if len(o.Trace) == 0 {
		return StateReceived
	}
	return o.Trace[len(o.Trace)-1]
}

// EmergencyResult is the response to a direct emergency trigger.
type EmergencyResult struct {
	Status   string `json:"status"`
	IsDryRun *bool  `json:"is_dry_run,omitempty"`
	Message  string `json:"message,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Gate-rejection result values.
const (
	StatusIgnored        = "ignored"
	ReasonBelowThreshold = "risk_or_confidence_too_low"
	ReasonDebounced      = "suppressed_within_cooldown"
)

// Config wires the pipeline's collaborators. Nil optional fields get
// defaults: NoopExtractor, AuditOnly, a LogWriter.
type Config struct {
	Advisor           *engine.Advisor
	Ledger            ledger.Ledger
	Gate              *engine.Gate
	Dispatcher        *action.Dispatcher
	Extractor         collab.Extractor
	Debouncer         engine.Debouncer
	Events            storage.EventWriter
	IDs               *ledger.IDSource
	AnalyzeConfidence float64
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	advisor    *engine.Advisor
	ledger     ledger.Ledger
	gate       *engine.Gate
	dispatcher *action.Dispatcher
	extractor  collab.Extractor
	debouncer  engine.Debouncer
	events     storage.EventWriter
	ids        *ledger.IDSource
	confidence float64
	logger     *zap.Logger
}

// New creates a pipeline. Advisor, Ledger, Gate and Dispatcher are required.
func New(cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case cfg.Advisor == nil:
		return nil, errors.New("pipeline.New: advisor is required")
	case cfg.Ledger == nil:
		return nil, errors.New("pipeline.New: ledger is required")
	case cfg.Gate == nil:
		return nil, errors.New("pipeline.New: gate is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("pipeline.New: dispatcher is required")
	}

	p := &Pipeline{
		advisor:    cfg.Advisor,
		ledger:     cfg.Ledger,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		extractor:  cfg.Extractor,
		debouncer:  cfg.Debouncer,
		events:     cfg.Events,
		ids:        cfg.IDs,
		confidence: cfg.AnalyzeConfidence,
		logger:     logger,
	}
	if p.extractor == nil {
		p.extractor = collab.NoopExtractor{}
	}
	if p.debouncer == nil {
		p.debouncer = engine.AuditOnly{}
	}
	if p.events == nil {
		p.events = storage.NewLogWriter(logger)
	}
	if p.ids == nil {
		p.ids = ledger.NewIDSource()
	}
	if p.confidence <= 0 || p.confidence > 1 {
		p.confidence = DefaultAnalyzeConfidence
	}
	return p, nil
}

// Advisor returns the advice engine backing the pipeline.
func (p *Pipeline) Advisor() *engine.Advisor { return p.advisor }

// Ledger returns the history ledger backing the pipeline.
func (p *Pipeline) Ledger() ledger.Ledger { return p.ledger }

// Gate returns the action gate backing the pipeline.
func (p *Pipeline) Gate() *engine.Gate { return p.gate }

// Analyze generates advice for transcript, records it in history and, for
// high-risk advice, runs the action gate and dispatcher. A ledger failure is
// returned as an error; dispatch failures are reported in the Outcome.
func (p *Pipeline) Analyze(ctx context.Context, transcript string) (Outcome, error) {
	out := Outcome{Trace: []State{StateReceived}}
	if strings.TrimSpace(transcript) == "" {
		return out, ErrEmptyTranscript
	}

	out.Advice = p.advisor.Generate(transcript)
	out.Trace = append(out.Trace, StateAdvised)

	out.Entry = ledger.NewEntry(p.ids, transcript, out.Advice)
	if err := p.ledger.Append(ctx, out.Entry); err != nil {
		return out, fmt.Errorf("Analyze: %w", err)
	}
	out.Trace = append(out.Trace, StateLogged)

	if out.Advice.Risk != engine.RiskHigh {
		out.Entities = collab.Empty()
		out.Trace = append(out.Trace, StateDone)
		return out, nil
	}

	out.Entities = p.extractor.Extract(ctx, transcript)
	symptoms := out.Entities.Symptoms
	if len(symptoms) == 0 {
		symptoms = []string{out.Advice.Title}
	}
	ec := engine.EmergencyContext{
		Risk:       out.Advice.Risk,
		Confidence: p.confidence,
		Symptoms:   symptoms,
		Reason:     SnakeCase(out.Advice.Title),
	}

	out.Trace = append(out.Trace, StateGating)
	if !p.gate.ShouldTrigger(ec) {
		out.Trace = append(out.Trace, StateDone)
		return out, nil
	}

	if !p.allow(ctx, ec.Reason) {
		out.Suppressed = true
		out.Trace = append(out.Trace, StateDone)
		return out, nil
	}

	out.Trace = append(out.Trace, StateDispatching)
	res := p.dispatch(ctx, ec, storage.SourceAnalyze, storage.HashTranscript(transcript))
	out.Dispatch = &res
	out.Trace = append(out.Trace, dispatchedState(res), StateDone)
	return out, nil
}

// Emergency runs a caller-supplied context through the gate and, when it
// qualifies, the dispatcher.
func (p *Pipeline) Emergency(ctx context.Context, ec engine.EmergencyContext) EmergencyResult {
	if ec.Symptoms == nil {
		ec.Symptoms = []string{}
	}
	if strings.TrimSpace(ec.Reason) == "" {
		ec.Reason = DefaultReason
	}

	if !p.gate.ShouldTrigger(ec) {
		p.logger.Info("emergency trigger ignored",
			zap.String("risk", string(ec.Risk)),
			zap.Float64("confidence", ec.Confidence),
			zap.Float64("threshold", p.gate.Threshold()),
		)
		return EmergencyResult{Status: StatusIgnored, Reason: ReasonBelowThreshold}
	}

	if !p.allow(ctx, ec.Reason) {
		return EmergencyResult{Status: StatusIgnored, Reason: ReasonDebounced}
	}

	res := p.dispatch(ctx, ec, storage.SourceAgent, "")
	if res.Status == action.StatusError {
		return EmergencyResult{Status: string(res.Status), Message: res.Message}
	}
	dryRun := res.IsDryRun
	return EmergencyResult{Status: string(res.Status), IsDryRun: &dryRun, Message: res.Message}
}

// allow consults the debouncer. Debouncer errors fail open.
func (p *Pipeline) allow(ctx context.Context, subject string) bool {
	ok, err := p.debouncer.Allow(ctx, subject)
	if err != nil {
		p.logger.Warn("debouncer error, allowing dispatch", zap.String("subject", subject), zap.Error(err))
		return true
	}
	if !ok {
		p.logger.Info("dispatch suppressed by cooldown", zap.String("subject", subject))
	}
	return ok
}

func (p *Pipeline) dispatch(ctx context.Context, ec engine.EmergencyContext, source, transcriptHash string) action.Result {
	start := time.Now()
	res := p.dispatcher.Dispatch(ctx, ec.Reason, ec.Symptoms)
	p.events.Write(&storage.DispatchEvent{
		EventID:        uuid.New().String(),
		Timestamp:      start.UTC(),
		Reason:         ec.Reason,
		Symptoms:       ec.Symptoms,
		Risk:           string(ec.Risk),
		Confidence:     ec.Confidence,
		Status:         string(res.Status),
		IsDryRun:       res.IsDryRun,
		Message:        res.Message,
		TranscriptHash: transcriptHash,
		LatencyMs:      float32(time.Since(start).Microseconds()) / 1000.0,
		Source:         source,
	})
	return res
}

func dispatchedState(res action.Result) State {
	switch {
	case res.Status == action.StatusError:
		return StateDispatchFailed
	case res.IsDryRun:
		return StateDispatchedDryRun
	default:
		return StateDispatchedReal
	}
}

// SnakeCase lower-cases s and joins its runs of letters and digits with
// underscores: "Possible Heart Attack!" becomes "possible_heart_attack".
func SnakeCase(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return DefaultReason
	}
	return b.String()
}
