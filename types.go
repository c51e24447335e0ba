package main

import (
	"errors"
	"time"
)

var (
	ErrToolUnavailable   = errors.New("tool unavailable")
	ErrNoSubtitles       = errors.New("no subtitles available")
	ErrNoAudioFormat     = errors.New("no usable audio formats found")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrJobNotFound       = errors.New("job not found")
)

type Metadata struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
	AudioURL string  `json:"audio_url"`
	Ext      string  `json:"ext"`
	Abr      int     `json:"abr"`
}

type Request struct {
	URL     string `json:"url"`
	Format  string `json:"format,omitempty"`
	Bitrate string `json:"bitrate,omitempty"`
}

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no worker will touch the job again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type ConversionJob struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	Format            string    `json:"format"`
	Bitrate           string    `json:"bitrate"`
	Status            JobStatus `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
	FilePath          string    `json:"file_path"`
	FileName          string    `json:"file_name"`
	DownloadURL       string    `json:"download_url"`
	FirstDownloadedAt time.Time `json:"first_downloaded_at"`
	Error             string    `json:"error"`
	Metadata          *Metadata `json:"metadata"`
	Retries           int       `json:"retries"`
	MaxRetries        int       `json:"max_retries"`
	Priority          int       `json:"priority"`
}

// VideoInfo is what a probe learns about a URL before anything is downloaded.
type VideoInfo struct {
	Title    string
	Uploader string
	Channel  string
	Duration float64
	Formats  []SourceFormat
}

// SourceFormat is one stream offered by the extractor.
type SourceFormat struct {
	FormatID    string
	ACodec      string
	VCodec      string
	Ext         string
	Protocol    string
	URL         string
	ABR         float64
	TBR         float64
	HTTPHeaders map[string]string
}

// SubtitleFetch is the result of downloading a caption track.
type SubtitleFetch struct {
	Title    string
	Channel  string
	Language string
	Content  string
}

// Details is the body of the details endpoint. Transcript and metadata
// failures are reported separately so a partial result stays usable.
type Details struct {
	Title            *string `json:"title"`
	ChannelName      *string `json:"channel_name"`
	TranscriptText   *string `json:"transcript_text"`
	LanguageDetected *string `json:"language_detected"`
	Error            *string `json:"error"`
	MetadataError    *string `json:"metadata_error,omitempty"`
}

type HealthStatus struct {
	Status        string          `json:"status"`
	ActiveJobs    int64           `json:"active_jobs"`
	QueuedJobs    int64           `json:"queued_jobs"`
	CompletedJobs int64           `json:"completed_jobs"`
	FailedJobs    int64           `json:"failed_jobs"`
	Workers       int             `json:"workers"`
	Uptime        string          `json:"uptime"`
	MemoryUsage   string          `json:"memory_usage"`
	Tools         map[string]bool `json:"tools"`
	Redis         bool            `json:"redis"`
}
