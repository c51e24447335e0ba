package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeMedia stands in for yt-dlp and ffmpeg. Transcode writes a small file
// to outputPath so download handlers have something to serve.
type fakeMedia struct {
	mu sync.Mutex

	checks map[string]error

	info     *VideoInfo
	probeErr error
	probes   int

	transcodeErrs []error
	transcodes    int
	targets       []AudioTarget
	block         chan struct{}

	fetch      *SubtitleFetch
	fetchErr   error
	fetchDirs  []string
	fetchLangs [][]string
}

func (f *fakeMedia) Check() map[string]error {
	if f.checks != nil {
		return f.checks
	}
	return map[string]error{toolYTDLP: nil, toolFFmpeg: nil}
}

func (f *fakeMedia) Probe(ctx context.Context, videoURL string) (*VideoInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.info, nil
}

func (f *fakeMedia) Transcode(ctx context.Context, src SourceFormat, outputPath string, target AudioTarget) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.transcodes++
	f.targets = append(f.targets, target)
	var err error
	if len(f.transcodeErrs) > 0 {
		err = f.transcodeErrs[0]
		f.transcodeErrs = f.transcodeErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("ID3 fake audio"), 0o644)
}

func (f *fakeMedia) FetchSubtitles(ctx context.Context, videoURL, dir string, langs []string) (*SubtitleFetch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchDirs = append(f.fetchDirs, dir)
	f.fetchLangs = append(f.fetchLangs, langs)
	// Leave a file behind so callers can be checked for cleanup.
	_ = os.WriteFile(filepath.Join(dir, "transcript_test.en.vtt"), []byte("WEBVTT"), 0o644)
	if f.fetch == nil {
		return nil, f.fetchErr
	}
	cp := *f.fetch
	return &cp, f.fetchErr
}

func (f *fakeMedia) transcodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcodes
}

func testVideoInfo() *VideoInfo {
	return &VideoInfo{
		Title:    "Never Gonna: Give You Up",
		Uploader: "Rick Astley",
		Duration: 213,
		Formats: []SourceFormat{
			{FormatID: "18", Ext: "mp4", ACodec: "mp4a.40.2", VCodec: "avc1", Protocol: "https", URL: "https://cdn.example/18", TBR: 500},
			{FormatID: "140", Ext: "m4a", ACodec: "mp4a.40.2", VCodec: "none", Protocol: "https", URL: "https://cdn.example/140", ABR: 129.5},
		},
	}
}

type fakePublisher struct {
	mu    sync.Mutex
	names []string
	url   string
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, name, filePath, contentType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, name)
	if p.err != nil {
		return "", p.err
	}
	return p.url + name, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.TempDir = t.TempDir()
	cfg.PublicBaseURL = "http://api.test"
	cfg.Workers = 2
	cfg.QueueCapacity = 10
	cfg.RetryDelay = time.Millisecond
	cfg.FastPathWait = 2 * time.Second
	cfg.HealthCheckInterval = 0
	cfg.CleanupInterval = 0
	cfg.DeleteAfterDownload = 0
	cfg.RedisAddr = ""
	return cfg
}

// newTestServer returns a server with its workers running until the test
// ends.
func newTestServer(t *testing.T, cfg Config, media MediaToolchain, publisher Publisher) *Server {
	t.Helper()
	store := NewJobStore(nil, cfg.JobTTL, testLogger())
	srv := NewServer(cfg, testLogger(), media, store, publisher)
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})
	return srv
}
