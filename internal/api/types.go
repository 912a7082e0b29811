package api

import (
	"time"

	"github.com/triage-ai/medalert/internal/collab"
)

// AnalyzeReq is the JSON body for POST /analyze.
type AnalyzeReq struct {
	Transcript string `json:"transcript"`
}

// EmergencyReq is the JSON body for POST /agent/emergency. Fields are
// decoded loosely and coerced by the handler.
type EmergencyReq struct {
	Risk       any `json:"risk"`
	Confidence any `json:"confidence"`
	Symptoms   any `json:"symptoms"`
	Reason     any `json:"reason"`
}

// AgentStatusResp is returned by GET /agent/status.
type AgentStatusResp struct {
	AlreadyTriggered bool       `json:"already_triggered"`
	LastTriggeredAt  *time.Time `json:"last_triggered_at"`
	TriggerThreshold float64    `json:"trigger_threshold"`
}

// TranscribeResp is returned by POST /transcribe.
type TranscribeResp struct {
	Filename   string          `json:"filename"`
	Transcript string          `json:"transcript"`
	MedCAT     collab.Entities `json:"medcat"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
