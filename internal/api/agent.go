package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/medalert/internal/engine"
	"github.com/triage-ai/medalert/internal/storage"
)

// handleEmergency implements POST /agent/emergency.
func (d *Dependencies) handleEmergency(w http.ResponseWriter, r *http.Request) {
	var req EmergencyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	ec := engine.EmergencyContext{
		Risk:       engine.Risk(asString(req.Risk)),
		Confidence: engine.ParseConfidence(req.Confidence),
		Symptoms:   asStrings(req.Symptoms),
		Reason:     asString(req.Reason),
	}
	d.Logger.Info("emergency trigger received",
		zap.String("risk", string(ec.Risk)),
		zap.Float64("confidence", ec.Confidence),
		zap.Strings("symptoms", ec.Symptoms),
		zap.String("reason", ec.Reason),
	)

	writeJSON(w, http.StatusOK, d.Pipeline.Emergency(r.Context(), ec))
}

// handleAgentStatus implements GET /agent/status.
func (d *Dependencies) handleAgentStatus(w http.ResponseWriter, _ *http.Request) {
	gate := d.Pipeline.Gate()
	resp := AgentStatusResp{
		AlreadyTriggered: gate.Triggered(),
		TriggerThreshold: gate.Threshold(),
	}
	if t := gate.LastTriggeredAt(); !t.IsZero() {
		resp.LastTriggeredAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListDispatches implements GET /agent/dispatches.
func (d *Dependencies) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	if d.Dispatches == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "dispatch audit store not configured"})
		return
	}

	q := r.URL.Query()
	params := storage.ListDispatchesParams{
		Source: q.Get("source"),
		Status: q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "limit must be an integer"})
			return
		}
		params.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "since must be RFC3339"})
			return
		}
		params.Since = &t
	}

	events, err := d.Dispatches.ListDispatches(r.Context(), params)
	if err != nil {
		d.Logger.Error("list dispatches failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to read dispatch events"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// asString renders a loosely-typed JSON value as a string; nil is "".
func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return fmt.Sprint(x)
	}
}

// asStrings accepts a JSON array (non-empty elements kept as strings) or a
// single string. Anything else is an empty list.
func asStrings(v any) []string {
	out := []string{}
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, e := range x {
			if s := asString(e); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
