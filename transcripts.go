package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"ytaudio/internal/caption"
)

const (
	unknownTitle   = "Unknown Title"
	unknownChannel = "Unknown Channel"
)

// Transcript is a flattened caption track plus what yt-dlp said about the
// video while fetching it.
type Transcript struct {
	Title    string
	Channel  string
	Language string
	Text     string
}

// FetchTranscript downloads the preferred caption track for videoURL into a
// private directory under tempDir, flattens it and removes the directory.
// On ErrNoSubtitles the returned Transcript still carries the title and
// channel when they were learned.
func FetchTranscript(ctx context.Context, media MediaToolchain, tempDir string, langs []string, videoURL string, logger zerolog.Logger) (*Transcript, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	dir, err := os.MkdirTemp(tempDir, "transcript-")
	if err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("remove transcript dir")
		}
	}()

	fetch, err := media.FetchSubtitles(ctx, videoURL, dir, langs)
	if fetch == nil && err == nil {
		err = fmt.Errorf("%w for %s", ErrNoSubtitles, strings.Join(langs, "/"))
	}
	var tr *Transcript
	if fetch != nil {
		tr = &Transcript{Title: fetch.Title, Channel: fetch.Channel, Language: fetch.Language}
	}
	if err != nil {
		return tr, err
	}
	tr.Text = caption.Flatten(fetch.Content)
	logger.Info().Str("url", videoURL).Str("lang", tr.Language).Int("chars", len(tr.Text)).Msg("transcript parsed")
	return tr, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// handleDetails returns title, channel and transcript in one response. A
// missing transcript degrades the response instead of failing it.
func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	videoURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if videoURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing 'url' parameter"})
		return
	}
	if !isYouTubeURL(videoURL) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid URL; only YouTube URLs are supported by this endpoint."})
		return
	}

	logger := s.logger.With().Str("url", videoURL).Logger()
	tr, err := FetchTranscript(r.Context(), s.media, s.cfg.TempDir, s.cfg.SubtitleLangs, videoURL, logger)
	if tr == nil {
		tr = &Transcript{}
	}

	var details Details
	if err != nil {
		msg := transcriptError(err, s.cfg.SubtitleLangs)
		details.Error = &msg
		logger.Warn().Err(err).Msg("transcript unavailable")
	} else {
		details.TranscriptText = &tr.Text
		details.LanguageDetected = strPtr(tr.Language)
	}

	if tr.Title == "" && !errors.Is(err, ErrToolUnavailable) {
		info, perr := s.media.Probe(r.Context(), videoURL)
		if perr != nil {
			msg := perr.Error()
			details.MetadataError = &msg
			logger.Warn().Err(perr).Msg("metadata fetch failed")
		} else {
			tr.Title = info.Title
			tr.Channel = info.Uploader
			if tr.Channel == "" {
				tr.Channel = info.Channel
			}
		}
	}
	if tr.Title != "" || details.TranscriptText != nil {
		details.Title = strPtr(orDefault(tr.Title, unknownTitle))
		details.ChannelName = strPtr(orDefault(tr.Channel, unknownChannel))
	}

	status := http.StatusOK
	if details.TranscriptText == nil && details.Title == nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, details)
}

// handleTranscript returns only the flattened transcript as plain text.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	videoURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if videoURL == "" {
		http.Error(w, "Missing 'url' parameter", http.StatusBadRequest)
		return
	}
	if !isFetchableURL(videoURL) {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return
	}
	langs := s.cfg.SubtitleLangs
	if v := r.URL.Query().Get("langs"); v != "" {
		langs = splitList(v)
		for _, lang := range langs {
			if !ValidSubtitleLang(lang) {
				http.Error(w, fmt.Sprintf("Invalid language code %q", lang), http.StatusBadRequest)
				return
			}
		}
	}

	tr, err := FetchTranscript(r.Context(), s.media, s.cfg.TempDir, langs, videoURL, s.logger)
	switch {
	case errors.Is(err, ErrNoSubtitles):
		http.Error(w, transcriptError(err, langs), http.StatusNotFound)
		return
	case errors.Is(err, ErrToolUnavailable):
		http.Error(w, transcriptError(err, langs), http.StatusServiceUnavailable)
		return
	case err != nil:
		s.logger.Error().Err(err).Str("url", videoURL).Msg("transcript fetch failed")
		http.Error(w, transcriptError(err, langs), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if tr.Language != "" {
		w.Header().Set("Content-Language", tr.Language)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(tr.Text))
}

func transcriptError(err error, langs []string) string {
	switch {
	case errors.Is(err, ErrNoSubtitles):
		return fmt.Sprintf("No subtitles available for the requested languages (%s).", strings.ToUpper(strings.Join(langs, "/")))
	case errors.Is(err, ErrToolUnavailable):
		return "Transcript service unavailable: " + err.Error()
	default:
		return "yt-dlp error: " + err.Error()
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
