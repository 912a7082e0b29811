package action

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of one dispatch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// DefaultCallTimeout bounds a single outbound call attempt.
const DefaultCallTimeout = 15 * time.Second

// Result is returned by Dispatch.
type Result struct {
	Status   Status `json:"status"`
	IsDryRun bool   `json:"is_dry_run"`
	Message  string `json:"message,omitempty"`
}

// DispatcherConfig holds the addressing and timeout for emergency calls.
type DispatcherConfig struct {
	To      string        // recipient (doctor) number
	From    string        // sender number
	Timeout time.Duration // per-call timeout; <= 0 uses DefaultCallTimeout
}

// Dispatcher turns an emergency into a spoken alert and hands it to a Caller.
// With no Caller or missing addressing it simulates the call instead.
type Dispatcher struct {
	caller Caller
	cfg    DispatcherConfig
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. caller may be nil for dry-run mode.
func NewDispatcher(caller Caller, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	return &Dispatcher{caller: caller, cfg: cfg, logger: logger}
}

// DryRun reports whether dispatches are simulated.
func (d *Dispatcher) DryRun() bool {
	return d.caller == nil || d.cfg.To == "" || d.cfg.From == ""
}

// Dispatch places (or simulates) one emergency call. It never retries.
// The call is detached from ctx cancellation and bounded by the configured
// timeout; a timeout is reported as StatusError.
func (d *Dispatcher) Dispatch(ctx context.Context, reason string, symptoms []string) Result {
	message := BuildMessage(reason, symptoms)

	if d.DryRun() {
		d.logger.Warn("dry run: call placement not configured, simulating call",
			zap.String("from", orDefault(d.cfg.From, "DEMO_NUMBER")),
			zap.String("to", orDefault(d.cfg.To, "DOCTOR_NUMBER")),
			zap.String("message", message),
		)
		return Result{Status: StatusSuccess, IsDryRun: true, Message: "DRY RUN: Call simulated"}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	d.logger.Info("placing emergency call", zap.String("to", d.cfg.To))
	if err := d.caller.Place(callCtx, d.cfg.To, d.cfg.From, message); err != nil {
		d.logger.Error("emergency call failed",
			zap.String("to", d.cfg.To),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return Result{Status: StatusError, Message: "Call failed"}
	}

	d.logger.Info("emergency call initiated",
		zap.String("to", d.cfg.To),
		zap.String("reason", reason),
		zap.Strings("symptoms", symptoms),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Status: StatusSuccess, Message: "Call initiated"}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
