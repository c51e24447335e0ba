package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handler returns the routed, CORS-enabled and access-logged API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract", s.rateLimitMiddleware(s.handleExtract))
	mux.HandleFunc("GET /extract", s.rateLimitMiddleware(s.handleExtract))
	mux.HandleFunc("GET /api/extract_audio", s.rateLimitMiddleware(s.handleExtract))
	mux.HandleFunc("GET /status/{id}", s.rateLimitMiddleware(s.handleStatus))
	mux.HandleFunc("GET /download/{file}", s.rateLimitMiddleware(s.handleDownload))
	mux.HandleFunc("DELETE /delete/{id}", s.handleDelete)
	mux.HandleFunc("GET /details", s.rateLimitMiddleware(s.handleDetails))
	mux.HandleFunc("GET /api/get_youtube_details", s.rateLimitMiddleware(s.handleDetails))
	mux.HandleFunc("GET /transcript", s.rateLimitMiddleware(s.handleTranscript))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /stats", s.handleStats)
	return corsMiddleware(s.accessLogMiddleware(mux))
}

type extractResponse struct {
	JobID               string    `json:"job_id"`
	Status              JobStatus `json:"status"`
	DownloadURL         string    `json:"download_url,omitempty"`
	FileName            string    `json:"file_name,omitempty"`
	Error               string    `json:"error,omitempty"`
	CheckStatusEndpoint string    `json:"check_status_endpoint"`
}

func (s *Server) extractResponse(job ConversionJob) extractResponse {
	resp := extractResponse{
		JobID:               job.ID,
		Status:              job.Status,
		Error:               job.Error,
		CheckStatusEndpoint: s.statusURL(job.ID),
	}
	if job.Status == StatusCompleted {
		resp.DownloadURL = job.DownloadURL
		resp.FileName = job.FileName
	}
	return resp
}

// readExtractRequest accepts a JSON body on POST and query parameters on GET.
func readExtractRequest(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			return req, err
		}
	} else {
		q := r.URL.Query()
		req.URL = q.Get("url")
		req.Format = q.Get("format")
		req.Bitrate = q.Get("bitrate")
	}
	req.URL = strings.TrimSpace(req.URL)
	return req, nil
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, err := readExtractRequest(w, r)
	if err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "Missing 'url' parameter", http.StatusBadRequest)
		return
	}
	if !isFetchableURL(req.URL) {
		http.Error(w, "Invalid URL; expected an http(s) video URL", http.StatusBadRequest)
		return
	}
	if req.Format == "" {
		req.Format = s.cfg.DefaultFormat
	}
	if req.Bitrate == "" {
		req.Bitrate = s.cfg.DefaultBitrate
	}
	target, err := LookupAudioTarget(req.Format, req.Bitrate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if existing := s.store.FindCompleted(req.URL, target.Format, target.Bitrate); existing != nil {
		writeJSON(w, http.StatusOK, s.extractResponse(*existing))
		return
	}

	job := &ConversionJob{
		ID:         uuid.New().String(),
		URL:        req.URL,
		Format:     target.Format,
		Bitrate:    target.Bitrate,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: s.cfg.MaxRetries,
		Priority:   1,
	}
	jobID := job.ID
	snapshot := *job
	s.store.Save(r.Context(), job)
	resultCh := s.waiters.register(jobID)
	s.metrics.queued.Add(1)

	select {
	case s.queue <- job:
	default:
		s.waiters.unregister(jobID, resultCh)
		s.store.Delete(r.Context(), jobID)
		s.metrics.queued.Add(-1)
		http.Error(w, "Server busy, please try again later.", http.StatusServiceUnavailable)
		return
	}

	timer := time.NewTimer(s.cfg.FastPathWait)
	defer timer.Stop()
	select {
	case done, ok := <-resultCh:
		if ok {
			writeJSON(w, http.StatusOK, s.extractResponse(done))
			return
		}
	case <-timer.C:
		s.waiters.unregister(jobID, resultCh)
	case <-r.Context().Done():
		s.waiters.unregister(jobID, resultCh)
		return
	}

	if current, err := s.store.Get(r.Context(), jobID); err == nil {
		snapshot = *current
	}
	writeJSON(w, http.StatusAccepted, s.extractResponse(snapshot))
}

type statusResponse struct {
	JobID       string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	Format      string     `json:"format"`
	DownloadURL string     `json:"download_url,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	Error       string     `json:"error,omitempty"`
	Metadata    *Metadata  `json:"metadata,omitempty"`
	Retries     int        `json:"retries"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	resp := statusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Format:    job.Format,
		Error:     job.Error,
		Metadata:  job.Metadata,
		Retries:   job.Retries,
		CreatedAt: job.CreatedAt,
	}
	if job.Status == StatusCompleted {
		resp.DownloadURL = job.DownloadURL
		resp.FileName = job.FileName
	}
	if !job.CompletedAt.IsZero() {
		completed := job.CompletedAt
		resp.CompletedAt = &completed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	jobID := strings.TrimSuffix(name, filepath.Ext(name))
	if uuid.Validate(jobID) != nil {
		http.Error(w, "File not found or conversion not completed", http.StatusNotFound)
		return
	}
	job, err := s.store.Get(r.Context(), jobID)
	if err != nil || job.Status != StatusCompleted {
		http.Error(w, "File not found or conversion not completed", http.StatusNotFound)
		return
	}
	if job.FilePath == "" {
		http.Error(w, "File path not available", http.StatusInternalServerError)
		return
	}

	file, err := os.Open(job.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "File expired", http.StatusGone)
		return
	}
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}

	downloadName := job.FileName
	if downloadName == "" {
		downloadName = filepath.Base(job.FilePath)
	}
	w.Header().Set("Content-Type", ContentTypeForExt(filepath.Ext(job.FilePath)))
	w.Header().Set("Content-Disposition", contentDisposition(downloadName))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, "", st.ModTime(), file)

	// HEAD requests from link checkers do not count as a download.
	if r.Method == http.MethodGet && job.FirstDownloadedAt.IsZero() {
		job.FirstDownloadedAt = time.Now()
		s.store.Save(context.WithoutCancel(r.Context()), job)
		s.scheduleDeletion(job.ID)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		http.Error(w, "Job is still running", http.StatusConflict)
		return
	}
	s.store.Delete(r.Context(), job.ID)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": job.ID})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request, jobID string) (*ConversionJob, bool) {
	if jobID == "" {
		http.Error(w, "Missing job ID", http.StatusBadRequest)
		return nil, false
	}
	job, err := s.store.Get(r.Context(), jobID)
	if errors.Is(err, ErrJobNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("job lookup")
		http.Error(w, "Job lookup failed", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
