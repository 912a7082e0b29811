package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/triage-ai/medalert/internal/collab"
	"github.com/triage-ai/medalert/internal/engine"
	"github.com/triage-ai/medalert/internal/pipeline"
)

// maxUploadBytes caps POST /transcribe bodies.
const maxUploadBytes = 25 << 20

// handleListRules implements GET /rules.
func (d *Dependencies) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := d.Pipeline.Advisor().Rules()
	if rules == nil {
		rules = engine.Rules{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// handleListHistory implements GET /history.
func (d *Dependencies) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := d.Pipeline.Ledger().List(r.Context())
	if err != nil {
		d.Logger.Error("list history failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to read history"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleClearHistory implements DELETE /history.
func (d *Dependencies) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := d.Pipeline.Ledger().Clear(r.Context()); err != nil {
		d.Logger.Error("clear history failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to clear history"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAnalyze implements POST /analyze.
func (d *Dependencies) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	out, err := d.Pipeline.Analyze(r.Context(), req.Transcript)
	if errors.Is(err, pipeline.ErrEmptyTranscript) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "transcript is required"})
		return
	}
	if err != nil {
		d.Logger.Error("analyze failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}

	fields := []zap.Field{
		zap.Int64("entry_id", out.Entry.ID),
		zap.String("risk", string(out.Advice.Risk)),
		zap.String("state", string(out.State())),
	}
	if out.Dispatch != nil {
		fields = append(fields,
			zap.String("dispatch_status", string(out.Dispatch.Status)),
			zap.Bool("dispatch_dry_run", out.Dispatch.IsDryRun),
		)
	}
	d.Logger.Info("transcript analyzed", fields...)

	writeJSON(w, http.StatusOK, out.Advice)
}

// handleTranscribe implements POST /transcribe (multipart field "file").
func (d *Dependencies) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "file is required"})
		return
	}
	defer func() { _ = file.Close() }()

	if !collab.IsAudio(header.Header.Get("Content-Type"), header.Filename) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "File must be an audio file"})
		return
	}

	transcript, err := d.Transcriber.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		d.Logger.Error("transcription failed", zap.String("filename", header.Filename), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, TranscribeResp{
		Filename:   header.Filename,
		Transcript: transcript,
		MedCAT:     d.Extractor.Extract(r.Context(), transcript),
	})
}
