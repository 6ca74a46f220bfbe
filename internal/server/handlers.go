package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/auth"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/intake"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

// multipartOverhead allows for form boundaries and headers around the file.
const multipartOverhead = 1 << 20

var errBadRequest = errors.New("server: bad request")

// badRequest marks err as a client error unless the body limit was hit.
func badRequest(err error, msg string) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return eris.Wrap(err, msg)
	}
	return eris.Wrapf(errBadRequest, "%s: %v", msg, err)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "IIP API is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Jobs.Ping(r.Context()); err != nil {
		zap.L().Warn("server: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyze streams the multipart "file" part into the manual intake.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data with a file field")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		if err != nil {
			s.writeErr(w, badRequest(err, "server: read multipart"))
			return
		}
		if part.FormName() != "file" {
			part.Close() //nolint:errcheck
			continue
		}

		job, err := s.deps.Manual.Submit(r.Context(), part, *id, part.FileName())
		part.Close() //nolint:errcheck
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}
}

func (s *Server) handleEmailIngest(w http.ResponseWriter, r *http.Request) {
	authorization := r.Header.Get("Authorization")
	if err := s.deps.Email.Authorize(authorization); err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid webhook secret")
		return
	}

	// Base64 inflates attachments by a third.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*4/3+multipartOverhead)
	msg, err := decodeInboundEmail(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	ack, err := s.deps.Email.Ingest(r.Context(), authorization, *msg)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// decodeInboundEmail accepts a JSON payload, optionally wrapped in a
// {"type", "data"} event envelope, or a form whose "attachments" field is
// a JSON array.
func decodeInboundEmail(r *http.Request) (*intake.InboundEmail, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, eris.Wrapf(errBadRequest, "server: parse form: %v", err)
		}
		msg := &intake.InboundEmail{
			From:    r.FormValue("from"),
			Subject: r.FormValue("subject"),
		}
		if raw := strings.TrimSpace(r.FormValue("attachments")); raw != "" {
			if err := json.Unmarshal([]byte(raw), &msg.Attachments); err != nil {
				return nil, eris.Wrapf(errBadRequest, "server: attachments field: %v", err)
			}
		}
		return msg, nil
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, badRequest(err, "server: read body")
		}
		if !gjson.ValidBytes(body) {
			return nil, eris.Wrap(errBadRequest, "server: body is not valid JSON")
		}
		if data := gjson.GetBytes(body, "data"); data.IsObject() && gjson.GetBytes(body, "type").Exists() {
			body = []byte(data.Raw)
		}
		var msg intake.InboundEmail
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, eris.Wrapf(errBadRequest, "server: decode email: %v", err)
		}
		return &msg, nil
	}
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:      model.JobStatus(q.Get("status")),
		SubmitterID: q.Get("submitter_id"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	jobs, err := s.deps.Jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteDeal(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Deleter.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleViewPDF(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !job.Archived() || s.deps.Archive == nil {
		writeError(w, http.StatusNotFound, "PDF not found for this deal")
		return
	}

	rc, err := s.deps.Archive.Get(r.Context(), *job.ArchiveKey)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	defer rc.Close() //nolint:errcheck

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": job.SourceName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zap.L().Warn("server: stream archived document", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Collector == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring is not configured")
		return
	}
	snap, err := s.deps.Collector.Collect(r.Context(), s.deps.LookbackHours)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
