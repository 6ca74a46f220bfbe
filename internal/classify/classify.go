// Package classify decides whether a document is a confidential information
// memorandum before any expensive work is done on it.
package classify

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/pkg/anthropic"
)

// Relevance is the outcome of classification.
type Relevance int

const (
	// Unknown means classification did not produce a verdict.
	Unknown Relevance = iota
	// Relevant means the document is a deal memorandum.
	Relevant
	// NotRelevant means the document is something else.
	NotRelevant
)

func (r Relevance) String() string {
	switch r {
	case Relevant:
		return "relevant"
	case NotRelevant:
		return "not_relevant"
	default:
		return "unknown"
	}
}

// Classifier labels a text prefix as relevant or not.
type Classifier interface {
	Classify(ctx context.Context, textPrefix string) (Relevance, error)
}

const systemPrompt = `You are an assistant that determines if a document is a Confidential Information Memorandum (CIM), also known as a teaser or deal book, used in investment banking and private equity.

The user will provide text from the first few pages of a document. Decide whether it is a CIM.

A CIM typically contains:
- A confidentiality disclaimer.
- An executive summary of a business.
- Financial highlights (Revenue, EBITDA).
- Descriptions of the company's market, products, or services.
It is NOT a standard invoice, report, presentation, or legal contract.

Respond with only a JSON object with a single key "is_cim" whose value is a boolean.
Example for a CIM:
{"is_cim": true}

Example for any other document:
{"is_cim": false}`

// verdict is the reply shape. A pointer distinguishes a missing key from false.
type verdict struct {
	IsCIM *bool `json:"is_cim"`
}

// LLM classifies with a small, fast Anthropic model.
type LLM struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// NewLLM creates an LLM classifier from the Anthropic settings. A nil limiter
// disables rate limiting.
func NewLLM(client anthropic.Client, cfg config.AnthropicConfig, limiter *rate.Limiter) *LLM {
	maxTokens := cfg.ClassifyMaxTokens
	if maxTokens <= 0 {
		maxTokens = 64
	}
	return &LLM{
		client:    client,
		model:     cfg.HaikuModel,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

// Classify returns Unknown with an error when the provider call fails or the
// reply cannot be interpreted.
func (c *LLM) Classify(ctx context.Context, textPrefix string) (Relevance, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Unknown, eris.Wrap(err, "classify: rate limit wait")
		}
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: textPrefix}},
		Temperature: &temp,
	})
	if err != nil {
		return Unknown, eris.Wrap(err, "classify: create message")
	}
	if resp == nil {
		return Unknown, eris.New("classify: empty response")
	}
	resp.Usage.LogCost(zap.L(), c.model, "classify")

	var v verdict
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(anthropic.ResponseText(resp))), &v); err != nil {
		return Unknown, eris.Wrap(err, "classify: parse reply")
	}
	if v.IsCIM == nil {
		return Unknown, eris.New("classify: reply missing is_cim")
	}
	if *v.IsCIM {
		return Relevant, nil
	}
	return NotRelevant, nil
}
