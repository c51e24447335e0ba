package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const shutdownGrace = 15 * time.Second

// Server owns the job queue, the worker pool and the HTTP handlers.
type Server struct {
	cfg       Config
	logger    zerolog.Logger
	media     MediaToolchain
	store     *JobStore
	publisher Publisher
	waiters   *jobWaiters
	queue     chan *ConversionJob
	limiter   *rate.Limiter
	metrics   serverMetrics
	startedAt time.Time
	wg        sync.WaitGroup
}

// NewServer wires the service together. publisher may be nil.
func NewServer(cfg Config, logger zerolog.Logger, media MediaToolchain, store *JobStore, publisher Publisher) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		media:     media,
		store:     store,
		publisher: publisher,
		waiters:   newJobWaiters(),
		queue:     make(chan *ConversionJob, cfg.QueueCapacity),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		startedAt: time.Now(),
	}
}

// Start launches the workers and background loops. They stop when ctx is
// cancelled; Wait blocks until they have.
func (s *Server) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.healthLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.cleanupLoop(ctx)
	}()
}

func (s *Server) Wait() {
	s.wg.Wait()
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info().
		Str("addr", s.cfg.Addr).
		Int("workers", s.cfg.Workers).
		Float64("rate_limit", s.cfg.RequestsPerSecond).
		Int("burst", s.cfg.Burst).
		Bool("redis", s.store.redis != nil).
		Msg("server running")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("graceful shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	s.logger.Info().Msg("graceful shutdown completed")
	return err
}

func (s *Server) healthLoop(ctx context.Context) {
	if s.cfg.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.logger.Debug().
				Int64("active_jobs", s.metrics.active.Load()).
				Int64("queued_jobs", s.metrics.queued.Load()).
				Int64("completed_jobs", s.metrics.completed.Load()).
				Int64("failed_jobs", s.metrics.failed.Load()).
				Int("stored_jobs", s.store.Len()).
				Msg("health")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) cleanupLoop(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupOldJobs()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) cleanupOldJobs() {
	n := s.store.CleanupOlderThan(time.Now().Add(-s.cfg.JobTTL))
	if n > 0 {
		s.logger.Info().Int("removed", n).Dur("ttl", s.cfg.JobTTL).Msg("cleaned up old jobs")
	}
}

// scheduleDeletion removes a job and its file some time after its first
// download.
func (s *Server) scheduleDeletion(jobID string) {
	if s.cfg.DeleteAfterDownload <= 0 {
		return
	}
	time.AfterFunc(s.cfg.DeleteAfterDownload, func() {
		s.store.Delete(context.Background(), jobID)
		s.logger.Debug().Str("job_id", jobID).Msg("deleted downloaded job")
	})
}

func (s *Server) publicURL(path string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + path
}

func (s *Server) downloadURL(jobID, ext string) string {
	return s.publicURL("/download/" + jobID + "." + ext)
}

func (s *Server) statusURL(jobID string) string {
	return s.publicURL("/status/" + jobID)
}
