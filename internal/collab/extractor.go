package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPExtractor calls a remote entity-extraction service with {"text": ...}
// and expects {"symptoms": [...], "concept_ids": [...]}.
//
// Errors are logged and degrade to empty entities; extraction is a
// read-only signal and never blocks advice.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPExtractor creates an extractor for endpoint.
func NewHTTPExtractor(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger.Info("entity extractor configured", zap.String("endpoint", endpoint))
	return &HTTPExtractor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type extractReq struct {
	Text string `json:"text"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, text string) Entities {
	if strings.TrimSpace(text) == "" {
		return Empty()
	}
	ents, err := e.extract(ctx, text)
	if err != nil {
		e.logger.Warn("entity extractor error, skipping", zap.Error(err))
		return Empty()
	}
	return ents
}

func (e *HTTPExtractor) extract(ctx context.Context, text string) (Entities, error) {
	body, err := json.Marshal(extractReq{Text: text})
	if err != nil {
		return Entities{}, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Entities{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Entities{}, fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Entities{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out Entities
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Entities{}, fmt.Errorf("decode: %w", err)
	}
	return Entities{Symptoms: uniq(out.Symptoms), ConceptIDs: uniq(out.ConceptIDs)}, nil
}

// NoopExtractor finds nothing.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string) Entities { return Empty() }
