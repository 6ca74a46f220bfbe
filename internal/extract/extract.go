// Package extract turns PDF bytes into plain text.
package extract

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
)

var (
	// ErrExtraction is returned when the bytes cannot be parsed as a PDF.
	ErrExtraction = errors.New("extract: document could not be parsed")
	// ErrNoText is returned when no page yields visible text.
	ErrNoText = errors.New("extract: document contains no extractable text")
)

// Extractor extracts the visible text of every page, in page order. It
// never modifies data.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.ExtractConfig) (Extractor, error) {
	switch cfg.Provider {
	case "native", "":
		return NewNative(), nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("extract: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("extract: unknown provider %q", cfg.Provider)
	}
}

// requireText returns ErrNoText when text is empty or whitespace only.
func requireText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Prefix returns at most n runes of text. n <= 0 returns text unchanged.
func Prefix(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return text
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}

// validUTF8 replaces invalid byte sequences so downstream JSON encoding
// never fails on extracted text.
func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}
