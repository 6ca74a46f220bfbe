package intake

import (
	"context"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/auth"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
)

// Manual accepts documents uploaded by an authenticated user.
type Manual struct {
	sub      Submitter
	maxBytes int64
}

// NewManual creates a Manual adapter. maxBytes <= 0 uses
// DefaultMaxUploadBytes.
func NewManual(sub Submitter, maxBytes int64) *Manual {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Manual{sub: sub, maxBytes: maxBytes}
}

// Submit reads the whole upload and hands it to the pipeline. It returns
// once the job is queued.
func (m *Manual) Submit(ctx context.Context, r io.Reader, id auth.Identity, filename string) (*model.Job, error) {
	if strings.TrimSpace(id.Subject) == "" {
		return nil, ErrUnauthorized
	}

	data, err := io.ReadAll(io.LimitReader(r, m.maxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "intake: read upload")
	}
	if int64(len(data)) > m.maxBytes {
		return nil, eris.Wrapf(ErrTooLarge, "intake: upload larger than %s", humanize.IBytes(uint64(m.maxBytes)))
	}
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	zap.L().Info("intake: manual upload received",
		zap.String("submitter_id", id.Subject),
		zap.String("file", filename),
		zap.String("size", humanize.IBytes(uint64(len(data)))),
	)

	job, err := m.sub.Submit(ctx, pipelineSubmission(data, id.Subject, id.DisplayName(), filename, filename))
	if err != nil {
		return nil, eris.Wrap(err, "intake: manual submit")
	}
	return job, nil
}
