package intake

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/pipeline"
)

// Acknowledgement messages returned to the email provider.
const (
	AckNoPDF    = "No PDF attachment found."
	AckAccepted = "Email received and processing started."

	// DefaultSubject is what providers send when an email has no subject.
	DefaultSubject = "No Subject"
)

// Attachment is one file of an inbound email. Content is base64.
type Attachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// InboundEmail is the webhook payload of an email provider.
type InboundEmail struct {
	From        string       `json:"from,omitempty"`
	Subject     string       `json:"subject"`
	Attachments []Attachment `json:"attachments"`
}

// Ack is the webhook response. Job is set when a job was created.
type Ack struct {
	Message string     `json:"message"`
	Job     *model.Job `json:"job,omitempty"`
}

// Email accepts documents forwarded by the email provider's webhook.
type Email struct {
	sub    Submitter
	expect []byte
}

// NewEmail creates an Email adapter guarded by secret.
func NewEmail(sub Submitter, secret string) (*Email, error) {
	if secret == "" {
		return nil, eris.New("intake: email webhook requires webhook.secret")
	}
	return &Email{sub: sub, expect: []byte("Bearer " + secret)}, nil
}

// Authorize compares the Authorization header value against the shared
// secret in constant time.
func (e *Email) Authorize(authorization string) error {
	if subtle.ConstantTimeCompare([]byte(authorization), e.expect) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Ingest verifies the authorization header, then submits the first PDF
// attachment of msg. An email without a PDF is acknowledged without
// creating a job.
func (e *Email) Ingest(ctx context.Context, authorization string, msg InboundEmail) (*Ack, error) {
	if err := e.Authorize(authorization); err != nil {
		return nil, err
	}

	att, ok := firstPDF(msg.Attachments)
	if !ok {
		zap.L().Info("intake: email without pdf attachment",
			zap.String("subject", msg.Subject),
			zap.Int("attachments", len(msg.Attachments)),
		)
		return &Ack{Message: AckNoPDF}, nil
	}

	data, err := decodeAttachment(att.Content)
	if err != nil {
		return nil, eris.Wrapf(ErrDecode, "intake: attachment %q", att.Filename)
	}

	title := strings.TrimSpace(msg.Subject)
	if title == "" || title == DefaultSubject {
		title = att.Filename
	}

	zap.L().Info("intake: email attachment received",
		zap.String("title", title),
		zap.String("file", att.Filename),
		zap.String("size", humanize.IBytes(uint64(len(data)))),
	)

	job, err := e.sub.Submit(ctx, pipelineSubmission(data, model.SystemSubmitterID, model.SystemSubmitterName, title, att.Filename))
	if err != nil {
		return nil, eris.Wrap(err, "intake: email submit")
	}
	return &Ack{Message: AckAccepted, Job: job}, nil
}

func firstPDF(atts []Attachment) (Attachment, bool) {
	for _, a := range atts {
		if strings.HasSuffix(strings.ToLower(strings.TrimSpace(a.Filename)), ".pdf") {
			return a, true
		}
	}
	return Attachment{}, false
}

var attachmentEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeAttachment accepts standard base64 with MIME line breaks and falls
// back to the unpadded and URL-safe alphabets.
func decodeAttachment(content string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '\t', ' ':
			return -1
		}
		return r
	}, content)

	var firstErr error
	for _, enc := range attachmentEncodings {
		data, err := enc.DecodeString(cleaned)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func pipelineSubmission(data []byte, submitterID, submitterName, title, fileName string) pipeline.Submission {
	return pipeline.Submission{
		Data:          data,
		SubmitterID:   submitterID,
		SubmitterName: submitterName,
		SourceName:    title,
		FileName:      fileName,
	}
}
