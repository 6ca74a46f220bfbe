// Package intake adapts manual uploads and inbound email into pipeline
// submissions.
package intake

import (
	"context"
	"errors"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/pipeline"
)

var (
	// ErrUnauthorized is returned when the caller cannot be attributed or
	// the webhook secret does not match.
	ErrUnauthorized = errors.New("intake: unauthorized")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("intake: document exceeds upload limit")
	// ErrDecode is returned when an email attachment is not valid base64.
	ErrDecode = errors.New("intake: attachment content could not be decoded")
	// ErrEmptyDocument is returned for zero-length documents.
	ErrEmptyDocument = pipeline.ErrEmptyDocument
)

// DefaultMaxUploadBytes bounds manual uploads when no limit is configured.
const DefaultMaxUploadBytes int64 = 50 << 20

// Submitter accepts documents for processing.
type Submitter interface {
	Submit(ctx context.Context, s pipeline.Submission) (*model.Job, error)
}
