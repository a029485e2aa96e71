// Package openai talks to OpenAI-compatible embeddings endpoints.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/logger"
	"github.com/cloudcurio/kbsearch/internal/metrics"
)

// Call defaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 200 * time.Millisecond
	// DefaultMaxInputBytes keeps a full document body under common 8k-token model windows.
	DefaultMaxInputBytes = 24000
)

// Embedder embeds document and query text through an OpenAI-compatible API.
// Transient failures (429, 5xx, transport errors) are retried with doubling backoff.
type Embedder struct {
	client        *openai.Client
	model         openai.EmbeddingModel
	dimensions    int
	user          string
	provider      string
	maxRetries    int
	backoff       time.Duration
	maxInputBytes int
	logger        *zap.Logger
}

// Config holds the embedding provider settings. Zero values pick the package defaults.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Dimensions    int
	User          string
	Provider      string
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxInputBytes int
	Logger        *zap.Logger
}

// NewEmbedder creates an embeddings client.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: orDuration(cfg.Timeout, DefaultTimeout)}

	e := &Embedder{
		client:        openai.NewClientWithConfig(clientCfg),
		model:         openai.EmbeddingModel(cfg.Model),
		dimensions:    cfg.Dimensions,
		user:          cfg.User,
		provider:      cfg.Provider,
		maxRetries:    cfg.MaxRetries,
		backoff:       orDuration(cfg.RetryBackoff, DefaultRetryBackoff),
		maxInputBytes: cfg.MaxInputBytes,
		logger:        cfg.Logger,
	}
	if e.provider == "" {
		e.provider = "openai"
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxRetries
	}
	if e.maxInputBytes <= 0 {
		e.maxInputBytes = DefaultMaxInputBytes
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{truncate(text, e.maxInputBytes)},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           e.user,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	log := logger.Or(ctx, e.logger)
	model := string(e.model)
	start := time.Now()

	resp, err := e.createWithRetry(ctx, log, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "api_error").Inc()
		apiErr := parseAPIError(err)
		log.Debug("Embeddings API call failed", zap.Duration("duration", duration), zap.Error(apiErr))
		return domain.EmbeddingResult{}, apiErr
	}
	if len(resp.Data) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, model, "empty_response").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.provider, model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.provider, model).Observe(duration.Seconds())

	usage := resp.Usage
	if usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "prompt").Add(float64(usage.PromptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(e.provider, model, "total").Add(float64(usage.TotalTokens))
	}

	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: usage.PromptTokens,
		TotalTokens:  usage.TotalTokens,
	}, nil
}

func (e *Embedder) createWithRetry(
	ctx context.Context, log *zap.Logger, req openai.EmbeddingRequest,
) (openai.EmbeddingResponse, error) {
	wait := e.backoff
	for attempt := 0; ; attempt++ {
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err == nil || attempt >= e.maxRetries || !retryable(err) {
			return resp, err //nolint:wrapcheck // mapped by parseAPIError
		}

		metrics.EmbeddingErrorsTotal.WithLabelValues(e.provider, string(e.model), "retry").Inc()
		log.Debug("Retrying embeddings call",
			zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return resp, err //nolint:wrapcheck // last provider error is more useful than ctx.Err
		case <-t.C:
		}
		wait *= 2
	}
}

// HealthCheck verifies API availability via ListModels.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	status := statusCode(err)
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func statusCode(err error) int {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	return 0
}

// parseAPIError turns a client error into a readable message wrapping
// domain.ErrEmbeddingProviderError. Transport errors keep their cause so
// context deadlines stay matchable.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingProviderError

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := extractDetail(reqErr.Body)
		if msg == "" {
			msg = string(reqErr.Body)
		}
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, msg, wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w: %w", wrap, err)
}

// extractDetail reads the "detail" field some compatible providers put in error bodies.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
