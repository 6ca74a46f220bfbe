package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/extract/extracttest"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/resilience"
)

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ExtractConfig
		want    any
		wantErr string
	}{
		{"default", config.ExtractConfig{}, &Native{}, ""},
		{"native", config.ExtractConfig{Provider: "native"}, &Native{}, ""},
		{"pdftotext", config.ExtractConfig{Provider: "pdftotext", PdfToTextPath: "/usr/bin/pdftotext"}, &PdfToText{}, ""},
		{"mistral", config.ExtractConfig{Provider: "mistral", MistralKey: "k"}, &MistralOCR{}, ""},
		{"mistral missing key", config.ExtractConfig{Provider: "mistral"}, nil, "mistral provider requires mistral_api_key"},
		{"unknown", config.ExtractConfig{Provider: "tesseract"}, nil, `unknown provider "tesseract"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := NewExtractor(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, ext)
		})
	}
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "hello", Prefix("hello", 10))
	assert.Equal(t, "hel", Prefix("hello", 3))
	assert.Equal(t, "hello", Prefix("hello", 0))
	assert.Equal(t, "héé", Prefix("hééllo", 3))
	assert.Equal(t, "日本", Prefix("日本語", 2))
	assert.Equal(t, "", Prefix("", 5))
}

func TestNative_ExtractText(t *testing.T) {
	data := extracttest.PDF("Confidential Information Memorandum", "Project Falcon (2024)")
	orig := append([]byte(nil), data...)

	text, err := NewNative().ExtractText(context.Background(), data)
	require.NoError(t, err)

	first := strings.Index(text, "Confidential Information Memorandum")
	second := strings.Index(text, "Project Falcon (2024)")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first, "pages must appear in order")
	assert.Equal(t, orig, data, "input must not be modified")
}

func TestNative_NoText(t *testing.T) {
	_, err := NewNative().ExtractText(context.Background(), extracttest.PDF("", ""))
	assert.ErrorIs(t, err, ErrNoText)
}

func TestNative_WhitespaceOnly(t *testing.T) {
	_, err := NewNative().ExtractText(context.Background(), extracttest.PDF("   "))
	assert.ErrorIs(t, err, ErrNoText)
}

func TestNative_NotAPDF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("this is not a pdf at all, just some plain text that is long enough to be read by the parser trailer logic")},
		{"truncated", extracttest.PDF("hello")[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNative().ExtractText(context.Background(), tt.data)
			assert.ErrorIs(t, err, ErrExtraction)
		})
	}
}

func TestNative_CorruptBody(t *testing.T) {
	data := extracttest.PDF("hello world")
	// Keep header and trailer, garble the object bodies.
	corrupt := append([]byte(nil), data...)
	for i := 20; i < len(corrupt)-120; i++ {
		corrupt[i] = '#'
	}
	_, err := NewNative().ExtractText(context.Background(), corrupt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtraction) || errors.Is(err, ErrNoText))
}

func TestNative_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewNative().ExtractText(ctx, extracttest.PDF("hello"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPdfToText_BinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/custom/pdftotext", NewPdfToText("/custom/pdftotext").binPath)
}

func TestPdfToText_MissingBinary(t *testing.T) {
	_, err := NewPdfToText("/nonexistent/pdftotext").ExtractText(context.Background(), extracttest.PDF("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext: run")
}

func TestPdfToText_ExtractText(t *testing.T) {
	bin, err := exec.LookPath("pdftotext")
	if err != nil {
		t.Skip("pdftotext not installed")
	}

	text, err := NewPdfToText(bin).ExtractText(context.Background(), extracttest.PDF("Deal summary"))
	require.NoError(t, err)
	assert.Contains(t, text, "Deal summary")

	_, err = NewPdfToText(bin).ExtractText(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrExtraction)
}

func newMistralServer(t *testing.T, handler http.HandlerFunc) *MistralOCR {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m := NewMistralOCR("test-key", "test-model")
	m.endpoint = srv.URL
	return m
}

func TestMistralOCR_Defaults(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistralOCR_ExtractText(t *testing.T) {
	data := extracttest.PDF("hello")
	m := newMistralServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Equal(t, "data:application/pdf;base64,"+base64.StdEncoding.EncodeToString(data), req.Document.DocumentURL)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{ //nolint:errcheck
			{Index: 1, Markdown: "Page two"},
			{Index: 0, Markdown: "Page one"},
		}})
	})

	text, err := m.ExtractText(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "Page one\n\nPage two", text)
}

func TestMistralOCR_EmptyPages(t *testing.T) {
	m := newMistralServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pages":[{"index":0,"markdown":"  "}]}`)) //nolint:errcheck
	})
	_, err := m.ExtractText(context.Background(), []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrNoText)
}

func TestMistralOCR_Unprocessable(t *testing.T) {
	m := newMistralServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"invalid document"}`)) //nolint:errcheck
	})
	_, err := m.ExtractText(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestMistralOCR_ServerError(t *testing.T) {
	m := newMistralServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := m.ExtractText(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "mistral: status 503")
}
