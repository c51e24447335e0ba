package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobStore keeps jobs in memory and mirrors them to Redis when one is
// reachable, so status lookups survive a restart.
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*ConversionJob
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewJobStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *JobStore {
	return &JobStore{
		jobs:   make(map[string]*ConversionJob),
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// ConnectRedis returns a client when the server answers a ping, and nil
// otherwise; the caller then runs memory-only.
func ConnectRedis(ctx context.Context, cfg Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis not available, using in-memory storage")
		_ = client.Close()
		return nil
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis connected successfully")
	return client
}

func redisKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Save stores a snapshot of job. Callers keep ownership of job and must
// call Save again after mutating it.
func (s *JobStore) Save(ctx context.Context, job *ConversionJob) {
	snapshot := *job
	s.mu.Lock()
	s.jobs[job.ID] = &snapshot
	s.mu.Unlock()

	if s.redis == nil {
		return
	}
	data, err := json.Marshal(&snapshot)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("encode job")
		return
	}
	if err := s.redis.Set(ctx, redisKey(job.ID), data, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("mirror job to redis")
	}
}

// Get returns a copy of the job, looking in memory first and Redis second.
func (s *JobStore) Get(ctx context.Context, jobID string) (*ConversionJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if ok {
		cp := *job
		return &cp, nil
	}
	if s.redis == nil {
		return nil, ErrJobNotFound
	}
	val, err := s.redis.Get(ctx, redisKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", jobID, err)
	}
	var stored ConversionJob
	if err := json.Unmarshal(val, &stored); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &stored, nil
}

// Delete removes the job and its audio file.
func (s *JobStore) Delete(ctx context.Context, jobID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	delete(s.jobs, jobID)
	s.mu.Unlock()

	if !ok {
		if stored, err := s.Get(ctx, jobID); err == nil {
			job, ok = stored, true
		}
	}
	if ok && job.FilePath != "" {
		removeFile(s.logger, job.FilePath)
	}
	if s.redis != nil {
		if err := s.redis.Del(ctx, redisKey(jobID)).Err(); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("delete job from redis")
		}
	}
}

// FindCompleted returns a finished job for the same request whose file is
// still on disk.
func (s *JobStore) FindCompleted(url, format, bitrate string) *ConversionJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.URL == url && job.Format == format && job.Bitrate == bitrate &&
			job.Status == StatusCompleted && fileExists(job.FilePath) {
			cp := *job
			return &cp
		}
	}
	return nil
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// RedisConnected reports whether jobs are mirrored.
func (s *JobStore) RedisConnected(ctx context.Context) bool {
	return s.redis != nil && s.redis.Ping(ctx).Err() == nil
}

// CleanupOlderThan drops jobs created before cutoff along with their files
// and returns how many were removed.
func (s *JobStore) CleanupOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	var expired []*ConversionJob
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) && job.Status.Terminal() {
			expired = append(expired, job)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, job := range expired {
		if job.FilePath != "" {
			removeFile(s.logger, job.FilePath)
		}
	}
	return len(expired)
}

func (s *JobStore) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

func removeFile(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("remove file")
	}
}
