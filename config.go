package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults, tuned for a single box with plenty of bandwidth.
const (
	// Worker Configuration
	DefaultWorkerPoolSize   = 20
	DefaultMaxJobRetries    = 3
	DefaultJobQueueCapacity = 1000
	DefaultRetryDelay       = 5 * time.Second

	// Rate Limiting
	DefaultRequestsPerSecond = 100
	DefaultBurstSize         = 200

	// Redis Configuration
	DefaultRedisAddr = "localhost:6379"

	// Job Expiration
	DefaultJobTTL          = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultDeleteAfter     = 10 * time.Minute

	// Health Check
	DefaultHealthCheckInterval = 30 * time.Second

	// Fast-path response: wait briefly for quick jobs
	DefaultFastPathWait = 8 * time.Second

	DefaultSocketTimeout    = 30 * time.Second
	DefaultMetadataTimeout  = 45 * time.Second
	DefaultTranscodeTimeout = 10 * time.Minute
)

// Config is built once at start-up and handed to everything that needs it.
type Config struct {
	Addr          string
	PublicBaseURL string
	OutputDir     string
	TempDir       string

	ProxyURL   string
	UserAgent  string
	YTDLPPath  string
	FFmpegPath string

	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	QueueCapacity int

	RequestsPerSecond float64
	Burst             int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JobTTL              time.Duration
	FastPathWait        time.Duration
	HealthCheckInterval time.Duration
	CleanupInterval     time.Duration
	DeleteAfterDownload time.Duration

	SubtitleLangs    []string
	SocketTimeout    time.Duration
	MetadataTimeout  time.Duration
	TranscodeTimeout time.Duration

	DefaultFormat  string
	DefaultBitrate string

	S3Bucket   string
	S3Region   string
	S3Prefix   string
	PresignTTL time.Duration

	LogLevel  string
	LogFormat string
}

func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		PublicBaseURL:       "http://localhost:8080",
		OutputDir:           "downloads",
		TempDir:             os.TempDir(),
		YTDLPPath:           "yt-dlp",
		FFmpegPath:          "ffmpeg",
		Workers:             DefaultWorkerPoolSize,
		MaxRetries:          DefaultMaxJobRetries,
		RetryDelay:          DefaultRetryDelay,
		QueueCapacity:       DefaultJobQueueCapacity,
		RequestsPerSecond:   DefaultRequestsPerSecond,
		Burst:               DefaultBurstSize,
		RedisAddr:           DefaultRedisAddr,
		JobTTL:              DefaultJobTTL,
		FastPathWait:        DefaultFastPathWait,
		HealthCheckInterval: DefaultHealthCheckInterval,
		CleanupInterval:     DefaultCleanupInterval,
		DeleteAfterDownload: DefaultDeleteAfter,
		SubtitleLangs:       []string{"ro", "en"},
		SocketTimeout:       DefaultSocketTimeout,
		MetadataTimeout:     DefaultMetadataTimeout,
		TranscodeTimeout:    DefaultTranscodeTimeout,
		DefaultFormat:       "mp3",
		DefaultBitrate:      "192k",
		S3Prefix:            "audio",
		PresignTTL:          time.Hour,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// LoadConfig reads an optional .env file, then the environment, on top of
// DefaultConfig. Callers apply their own overrides and then Validate.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	cfg := DefaultConfig()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setString(&c.Addr, "YTAUDIO_ADDR")
	e.setString(&c.PublicBaseURL, "YTAUDIO_PUBLIC_URL")
	e.setString(&c.OutputDir, "YTAUDIO_OUTPUT_DIR")
	e.setString(&c.TempDir, "YTAUDIO_TEMP_DIR")
	e.setString(&c.ProxyURL, "PROXY_SERVER")
	e.setString(&c.ProxyURL, "YTAUDIO_PROXY")
	e.setString(&c.UserAgent, "YTAUDIO_USER_AGENT")
	e.setString(&c.YTDLPPath, "YTAUDIO_YTDLP")
	e.setString(&c.FFmpegPath, "YTAUDIO_FFMPEG")

	e.setInt(&c.Workers, "YTAUDIO_WORKERS")
	e.setInt(&c.MaxRetries, "YTAUDIO_MAX_RETRIES")
	e.setDuration(&c.RetryDelay, "YTAUDIO_RETRY_DELAY")
	e.setInt(&c.QueueCapacity, "YTAUDIO_QUEUE_CAPACITY")
	e.setFloat(&c.RequestsPerSecond, "YTAUDIO_RATE_LIMIT")
	e.setInt(&c.Burst, "YTAUDIO_RATE_BURST")

	e.setString(&c.RedisAddr, "REDIS_ADDR")
	e.setString(&c.RedisAddr, "YTAUDIO_REDIS_ADDR")
	e.setString(&c.RedisPassword, "YTAUDIO_REDIS_PASSWORD")
	e.setInt(&c.RedisDB, "YTAUDIO_REDIS_DB")

	e.setDuration(&c.JobTTL, "YTAUDIO_JOB_TTL")
	e.setDuration(&c.FastPathWait, "YTAUDIO_FAST_PATH_WAIT")
	e.setDuration(&c.HealthCheckInterval, "YTAUDIO_HEALTH_INTERVAL")
	e.setDuration(&c.CleanupInterval, "YTAUDIO_CLEANUP_INTERVAL")
	e.setDuration(&c.DeleteAfterDownload, "YTAUDIO_DELETE_AFTER_DOWNLOAD")

	e.setList(&c.SubtitleLangs, "YTAUDIO_SUBTITLE_LANGS")
	e.setDuration(&c.SocketTimeout, "YTAUDIO_SOCKET_TIMEOUT")
	e.setDuration(&c.MetadataTimeout, "YTAUDIO_METADATA_TIMEOUT")
	e.setDuration(&c.TranscodeTimeout, "YTAUDIO_TRANSCODE_TIMEOUT")

	e.setString(&c.DefaultFormat, "YTAUDIO_FORMAT")
	e.setString(&c.DefaultBitrate, "YTAUDIO_BITRATE")

	e.setString(&c.S3Bucket, "YTAUDIO_S3_BUCKET")
	e.setString(&c.S3Region, "YTAUDIO_S3_REGION")
	e.setString(&c.S3Prefix, "YTAUDIO_S3_PREFIX")
	e.setDuration(&c.PresignTTL, "YTAUDIO_S3_PRESIGN_TTL")

	e.setString(&c.LogLevel, "LOG_LEVEL")
	e.setString(&c.LogFormat, "LOG_FORMAT")

	return errors.Join(e.errs...)
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.RequestsPerSecond <= 0 || c.Burst < 1 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %v/s burst %d", c.RequestsPerSecond, c.Burst))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output dir must be set"))
	}
	if len(c.SubtitleLangs) == 0 {
		errs = append(errs, errors.New("at least one subtitle language is required"))
	}
	if _, err := LookupAudioTarget(c.DefaultFormat, c.DefaultBitrate); err != nil {
		errs = append(errs, fmt.Errorf("default format: %w", err))
	}
	if c.ProxyURL != "" {
		if u, err := url.Parse(c.ProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid proxy URL %q", c.ProxyURL))
		}
	}
	return errors.Join(errs...)
}

// envReader collects every parse error instead of stopping at the first.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) setString(dst *string, key string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(dst *int, key string) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(dst *float64, key string) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) setDuration(dst *time.Duration, key string) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) setList(dst *[]string, key string) {
	if v, ok := e.get(key); ok {
		*dst = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
