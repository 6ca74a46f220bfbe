// Package analyze produces the structured investment summary of a document.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/extract"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/resilience"
	"github.com/nooglenTech/Investment-Intelligence-Platform/pkg/anthropic"
)

// ErrAnalysis marks every analysis failure.
var ErrAnalysis = errors.New("analyze: analysis failed")

// ProviderError is an analysis failure of the provider call itself rather
// than of the document. StatusCode is 0 when no HTTP response arrived.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analyze: provider status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analyze: provider: %v", e.Err)
}

// Unwrap exposes both ErrAnalysis and the provider's error.
func (e *ProviderError) Unwrap() []error { return []error{ErrAnalysis, e.Err} }

// IsProviderFault reports whether err says the provider is unhealthy: no
// response, a timeout, throttling, rejected credentials or a 5xx. Failures
// caused by one document's content, such as unparseable output, an error
// payload or a 400, report false.
func IsProviderFault(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case 0, http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		}
		return pe.StatusCode >= 500
	}
	if errors.Is(err, ErrAnalysis) {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || resilience.IsTransient(err)
}

// Analyzer turns full document text into an AnalysisResult.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*model.AnalysisResult, error)
}

// LLM analyzes with the large Anthropic model.
type LLM struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	prefixChars int
	system      []anthropic.SystemBlock
	limiter     *rate.Limiter
}

// NewLLM creates an LLM analyzer. The system prompt is built once and sent
// with prompt caching. A nil limiter disables rate limiting.
func NewLLM(client anthropic.Client, cfg config.AnthropicConfig, prefixChars int, limiter *rate.Limiter) (*LLM, error) {
	industries, err := LoadIndustries()
	if err != nil {
		return nil, err
	}
	maxTokens := cfg.AnalyzeMaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &LLM{
		client:      client,
		model:       cfg.SonnetModel,
		maxTokens:   maxTokens,
		prefixChars: prefixChars,
		system:      anthropic.BuildCachedSystemBlocks(SystemPrompt(industries)),
		limiter:     limiter,
	}, nil
}

// Analyze truncates text to the configured prefix and requests a JSON
// summary. Any provider error, unparseable output, or payload carrying an
// error field is returned wrapping ErrAnalysis. Provider call failures are
// a *ProviderError.
func (a *LLM) Analyze(ctx context.Context, text string) (*model.AnalysisResult, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrapf(ErrAnalysis, "rate limit wait: %v", err)
		}
	}

	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      a.system,
		Messages:    []anthropic.Message{{Role: "user", Content: extract.Prefix(text, a.prefixChars)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, &ProviderError{StatusCode: anthropic.StatusCode(err), Err: err}
	}
	if resp == nil {
		return nil, eris.Wrap(ErrAnalysis, "empty response")
	}
	resp.Usage.LogCost(zap.L(), a.model, "analyze")

	if resp.StopReason == "max_tokens" {
		return nil, eris.Wrap(ErrAnalysis, "response truncated at max_tokens")
	}

	res, err := model.ParseAnalysisResult([]byte(anthropic.CleanJSON(anthropic.ResponseText(resp))))
	if err != nil {
		return nil, eris.Wrapf(ErrAnalysis, "%v", err)
	}
	if res.Failed() {
		return nil, eris.Wrapf(ErrAnalysis, "payload error: %s", res.Error)
	}
	return res, nil
}
