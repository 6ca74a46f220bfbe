package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/archive"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/auth"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/classify"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/extract"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/intake"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/monitoring"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/pipeline"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/queue"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

const webhookSecret = "hook-secret"

var pdfBody = []byte("%PDF-1.4 test document")

type relevantClassifier struct{}

func (relevantClassifier) Classify(context.Context, string) (classify.Relevance, error) {
	return classify.Relevant, nil
}

type staticAnalyzer struct{}

func (staticAnalyzer) Analyze(context.Context, string) (*model.AnalysisResult, error) {
	return model.ParseAnalysisResult([]byte(`{"company":{"name":"Acme"}}`))
}

type stubSubmitter struct{ err error }

func (s stubSubmitter) Submit(context.Context, pipeline.Submission) (*model.Job, error) {
	return nil, s.err
}

type testServer struct {
	handler http.Handler
	store   store.Store
	archive archive.Archive
	queue   *queue.Memory
}

func newTestServer(t *testing.T, mutate ...func(d *Deps)) *testServer {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	arc, err := archive.NewLocal(t.TempDir())
	require.NoError(t, err)

	q := queue.NewMemory(config.QueueConfig{Workers: 1, Capacity: 16})
	coord, err := pipeline.New(config.PipelineConfig{}, pipeline.Deps{
		Store:      st,
		Archive:    arc,
		Extractor:  extract.NewNative(),
		Classifier: relevantClassifier{},
		Analyzer:   staticAnalyzer{},
		Queue:      q,
	})
	require.NoError(t, err)

	email, err := intake.NewEmail(coord, webhookSecret)
	require.NoError(t, err)

	deps := Deps{
		Jobs:          st,
		Deleter:       coord,
		Archive:       arc,
		Auth:          auth.Header{},
		Manual:        intake.NewManual(coord, 1024),
		Email:         email,
		Collector:     monitoring.NewCollector(st, q, config.MonitoringConfig{}, 16),
		LookbackHours: 24,
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv := New(config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}, MaxUploadBytes: 1024}, deps)
	return &testServer{handler: srv.Router(), store: st, archive: arc, queue: q}
}

func (ts *testServer) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func authed(r *http.Request) *http.Request {
	r.Header.Set("X-User-ID", "user-1")
	r.Header.Set("X-User-First-Name", "Grace")
	r.Header.Set("X-User-Last-Name", "Hopper")
	return r
}

func uploadRequest(t *testing.T, field, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/analyze/", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func decodeJob(t *testing.T, body io.Reader) model.Job {
	t.Helper()
	var job model.Job
	require.NoError(t, json.NewDecoder(body).Decode(&job))
	return job
}

// seedJob creates a job directly in the store, optionally archived and
// complete.
func (ts *testServer) seedJob(t *testing.T, name string, archived bool) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := ts.store.CreateJob(ctx, store.NewJob{SubmitterID: "user-1", SubmitterName: "Grace Hopper", SourceName: name})
	require.NoError(t, err)
	if !archived {
		return job
	}
	loc, err := ts.archive.Put(ctx, name, pdfBody)
	require.NoError(t, err)
	res, err := model.ParseAnalysisResult([]byte(`{"company":{"name":"Acme"}}`))
	require.NoError(t, err)
	require.NoError(t, ts.store.CompleteJob(ctx, job.ID, store.JobCompletion{ArchiveKey: name, ArchiveLocation: loc, Result: res}))
	job, err = ts.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return job
}

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"IIP API is running"}`, w.Body.String())

	w = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAnalyze_CreatesPendingJob(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(authed(uploadRequest(t, "file", "Falcon CIM.pdf", pdfBody)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	job := decodeJob(t, w.Body)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "Falcon CIM.pdf", job.SourceName)
	assert.Equal(t, "Grace Hopper", job.SubmitterName)
	assert.Equal(t, "user-1", job.SubmitterID)
	assert.Nil(t, job.ArchiveLocation)
	assert.Nil(t, job.Result)

	stored, err := ts.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, stored.Status)
	assert.Equal(t, 1, ts.queue.Len())
}

func TestAnalyze_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{"unauthenticated", func(t *testing.T) *http.Request {
			return uploadRequest(t, "file", "a.pdf", pdfBody)
		}, http.StatusUnauthorized},
		{"empty file", func(t *testing.T) *http.Request {
			return authed(uploadRequest(t, "file", "a.pdf", nil))
		}, http.StatusBadRequest},
		{"too large", func(t *testing.T) *http.Request {
			return authed(uploadRequest(t, "file", "a.pdf", bytes.Repeat([]byte("x"), 2048)))
		}, http.StatusRequestEntityTooLarge},
		{"missing file field", func(t *testing.T) *http.Request {
			return authed(uploadRequest(t, "document", "a.pdf", pdfBody))
		}, http.StatusBadRequest},
		{"not multipart", func(t *testing.T) *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/analyze/", strings.NewReader("{}"))
			r.Header.Set("Content-Type", "application/json")
			return authed(r)
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(tt.req(t))
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			jobs, err := ts.store.ListJobs(context.Background(), store.JobFilter{})
			require.NoError(t, err)
			assert.Empty(t, jobs)
		})
	}
}

func TestAnalyze_QueueFull(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Manual = intake.NewManual(stubSubmitter{err: queue.ErrQueueFull}, 1024)
	})

	w := ts.do(authed(uploadRequest(t, "file", "a.pdf", pdfBody)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func emailRequest(t *testing.T, secret string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/email-ingest", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if secret != "" {
		r.Header.Set("Authorization", "Bearer "+secret)
	}
	return r
}

func TestEmailIngest_JSON(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(emailRequest(t, webhookSecret, map[string]any{
		"subject": "Project Falcon",
		"attachments": []map[string]string{
			{"filename": "falcon.pdf", "content": base64.StdEncoding.EncodeToString(pdfBody)},
		},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ack struct {
		Message string    `json:"message"`
		Job     model.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, intake.AckAccepted, ack.Message)
	assert.Equal(t, "Project Falcon", ack.Job.SourceName)
	assert.Equal(t, model.SystemSubmitterID, ack.Job.SubmitterID)
	assert.Equal(t, model.SystemSubmitterName, ack.Job.SubmitterName)
}

func TestEmailIngest_Envelope(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(emailRequest(t, webhookSecret, map[string]any{
		"type": "email.received",
		"data": map[string]any{
			"subject": "No Subject",
			"attachments": []map[string]string{
				{"filename": "memo.PDF", "content": base64.StdEncoding.EncodeToString(pdfBody)},
			},
		},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"file_name":"memo.PDF"`)
}

func TestEmailIngest_Form(t *testing.T) {
	ts := newTestServer(t)

	atts, err := json.Marshal([]intake.Attachment{{Filename: "deal.pdf", Content: base64.StdEncoding.EncodeToString(pdfBody)}})
	require.NoError(t, err)
	form := url.Values{"subject": {"Form deal"}, "attachments": {string(atts)}}

	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/email-ingest", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("Authorization", "Bearer "+webhookSecret)

	w := ts.do(r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"file_name":"Form deal"`)
}

func TestEmailIngest_Outcomes(t *testing.T) {
	validPDF := []map[string]string{{"filename": "a.pdf", "content": base64.StdEncoding.EncodeToString(pdfBody)}}

	tests := []struct {
		name    string
		secret  string
		payload any
		status  int
		message string
		jobs    int
	}{
		{"wrong secret", "nope", map[string]any{"attachments": validPDF}, http.StatusUnauthorized, "", 0},
		{"missing secret", "", map[string]any{"attachments": validPDF}, http.StatusUnauthorized, "", 0},
		{"no pdf", webhookSecret, map[string]any{"attachments": []map[string]string{{"filename": "a.txt", "content": "aGk="}}},
			http.StatusOK, intake.AckNoPDF, 0},
		{"no attachments", webhookSecret, map[string]any{"subject": "hi"}, http.StatusOK, intake.AckNoPDF, 0},
		{"bad base64", webhookSecret, map[string]any{"attachments": []map[string]string{{"filename": "a.pdf", "content": "***"}}},
			http.StatusBadRequest, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(emailRequest(t, tt.secret, tt.payload))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.message != "" {
				assert.Contains(t, w.Body.String(), tt.message)
			}
			jobs, err := ts.store.ListJobs(context.Background(), store.JobFilter{})
			require.NoError(t, err)
			assert.Len(t, jobs, tt.jobs)
		})
	}
}

func TestEmailIngest_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/webhooks/email-ingest", strings.NewReader("{not json"))
	r.Header.Set("Authorization", "Bearer "+webhookSecret)
	w := ts.do(r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeals_ListGetDelete(t *testing.T) {
	ts := newTestServer(t)
	first := ts.seedJob(t, "first.pdf", false)
	second := ts.seedJob(t, "second.pdf", true)

	w := ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/deals", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []model.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID, "newest first")
	assert.Equal(t, first.ID, jobs[1].ID)
	assert.NotContains(t, w.Body.String(), "archive_key")

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/deals/"+second.ID, nil)))
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeJob(t, w.Body)
	assert.Equal(t, model.JobStatusComplete, got.Status)
	assert.Equal(t, "Acme", got.Result.CompanyName())

	w = ts.do(authed(httptest.NewRequest(http.MethodDelete, "/api/deals/"+second.ID, nil)))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/deals/"+second.ID, nil)))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(authed(httptest.NewRequest(http.MethodDelete, "/api/deals/"+second.ID, nil)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := ts.archive.Get(context.Background(), "second.pdf")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestDeals_RequireAuth(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/deals", "/api/deals/x", "/api/deals/x/view-pdf", "/api/stats"} {
		w := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestViewPDF(t *testing.T) {
	ts := newTestServer(t)
	archived := ts.seedJob(t, "memo.pdf", true)
	pending := ts.seedJob(t, "pending.pdf", false)

	w := ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/deals/"+archived.ID+"/view-pdf", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "inline")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "memo.pdf")
	assert.Equal(t, pdfBody, w.Body.Bytes())

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/deals/"+pending.ID+"/view-pdf", nil)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/deals/missing/view-pdf", nil)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	ts.seedJob(t, "a.pdf", true)
	ts.seedJob(t, "b.pdf", false)

	w := ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/stats", nil)))
	require.Equal(t, http.StatusOK, w.Code)
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.JobsTotal)
	assert.Equal(t, 1, snap.JobsComplete)
	assert.Equal(t, 1, snap.JobsPending)
	assert.Equal(t, 16, snap.QueueCapacity)

	ts = newTestServer(t, func(d *Deps) { d.Collector = nil })
	w = ts.do(authed(httptest.NewRequest(http.MethodGet, "/api/stats", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	r := httptest.NewRequest(http.MethodOptions, "/api/deals", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", "GET")

	w := ts.do(r)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
