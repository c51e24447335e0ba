package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func (s *Server) worker(ctx context.Context, workerID int) {
	s.logger.Debug().Int("worker", workerID).Msg("worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *Server) processJob(ctx context.Context, job *ConversionJob, workerID int) {
	s.metrics.queued.Add(-1)
	s.metrics.active.Add(1)
	defer s.metrics.active.Add(-1)

	logger := s.logger.With().Int("worker", workerID).Str("job_id", job.ID).Str("url", job.URL).Logger()
	logger.Info().Int("attempt", job.Retries+1).Msg("processing job")

	job.Status = StatusProcessing
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	s.store.Save(ctx, job)

	target, err := LookupAudioTarget(job.Format, job.Bitrate)
	if err != nil {
		s.failJob(ctx, logger, job, "invalid audio target", err)
		return
	}
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		s.failJob(ctx, logger, job, "error creating downloads directory", err)
		return
	}

	info, err := s.media.Probe(ctx, job.URL)
	if err != nil {
		s.handleJobFailure(ctx, logger, job, err, "yt-dlp stream extraction failed")
		return
	}
	src, err := selectAudioFormat(info.Formats)
	if err != nil {
		s.failJob(ctx, logger, job, "format selection failed", err)
		return
	}

	outputPath := OutputPath(s.cfg.OutputDir, job.ID, target.Ext)
	if err := s.media.Transcode(ctx, src, outputPath, target); err != nil {
		s.handleJobFailure(ctx, logger, job, err, "ffmpeg conversion failed")
		return
	}

	job.Status = StatusCompleted
	job.CompletedAt = time.Now()
	job.FilePath = outputPath
	job.FileName = DownloadName(info.Title, target.Ext)
	job.DownloadURL = s.downloadURL(job.ID, target.Ext)
	job.Error = ""
	job.Metadata = &Metadata{
		Title:    info.Title,
		Uploader: info.Uploader,
		Duration: info.Duration,
		AudioURL: src.URL,
		Ext:      src.Ext,
		Abr:      int(src.ABR),
	}

	if s.publisher != nil {
		remote, err := s.publisher.Publish(ctx, job.ID+"."+target.Ext, outputPath, target.ContentType)
		if err != nil {
			logger.Warn().Err(err).Msg("publish failed, serving local file")
		} else {
			job.DownloadURL = remote
		}
	}

	s.store.Save(ctx, job)
	s.metrics.completed.Add(1)
	s.metrics.observe(job.CompletedAt.Sub(job.StartedAt))
	s.waiters.notify(*job)
	logger.Info().Str("download_url", job.DownloadURL).Msg("job completed successfully")
}

// permanent failures are not worth retrying.
func permanent(err error) bool {
	return errors.Is(err, ErrToolUnavailable) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrNoAudioFormat) ||
		errors.Is(err, context.Canceled)
}

func (s *Server) handleJobFailure(ctx context.Context, logger zerolog.Logger, job *ConversionJob, err error, stage string) {
	if permanent(err) || ctx.Err() != nil {
		s.failJob(ctx, logger, job, stage, err)
		return
	}
	job.Retries++
	if job.Retries > job.MaxRetries {
		s.failJob(ctx, logger, job, stage, fmt.Errorf("%w. Max retries (%d) exceeded", err, job.MaxRetries))
		return
	}

	logger.Warn().Err(err).Int("retry", job.Retries).Int("max_retries", job.MaxRetries).Msg(stage + ", retrying")
	select {
	case <-time.After(s.cfg.RetryDelay):
	case <-ctx.Done():
		s.failJob(ctx, logger, job, stage, fmt.Errorf("%w. Shutting down", err))
		return
	}

	job.Status = StatusPending
	s.store.Save(ctx, job)
	s.metrics.queued.Add(1)
	select {
	case s.queue <- job:
	default:
		s.metrics.queued.Add(-1)
		s.failJob(ctx, logger, job, stage, fmt.Errorf("%w. Retry dropped, queue full", err))
	}
}

func (s *Server) failJob(ctx context.Context, logger zerolog.Logger, job *ConversionJob, stage string, err error) {
	job.Status = StatusFailed
	job.Error = fmt.Sprintf("%s: %v", stage, err)
	job.CompletedAt = time.Now()
	// The store write must survive a cancelled worker context.
	s.store.Save(context.WithoutCancel(ctx), job)
	s.metrics.failed.Add(1)
	s.waiters.notify(*job)
	logger.Error().Err(err).Str("stage", stage).Msg("job failed")
}
