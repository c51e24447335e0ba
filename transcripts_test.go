package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVTT = "WEBVTT\nKind: captions\nLanguage: ro\n\n1\n00:00:00.000 --> 00:00:02.000\n<c>Salut</c> &amp; bine ați venit\n\n2\n00:00:02.000 --> 00:00:04.000\n1989\n"

func TestFetchTranscript(t *testing.T) {
	media := &fakeMedia{fetch: &SubtitleFetch{Title: "T", Channel: "C", Language: "ro", Content: sampleVTT}}
	tempDir := t.TempDir()

	tr, err := FetchTranscript(t.Context(), media, tempDir, []string{"ro", "en"}, "https://youtu.be/x", testLogger())
	require.NoError(t, err)
	assert.Equal(t, &Transcript{Title: "T", Channel: "C", Language: "ro", Text: "Salut & bine ați venit\n1989"}, tr)

	require.Len(t, media.fetchDirs, 1)
	assert.NoDirExists(t, media.fetchDirs[0], "per-request directory is removed")
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchTranscriptPartial(t *testing.T) {
	media := &fakeMedia{
		fetch:    &SubtitleFetch{Title: "T", Channel: "C"},
		fetchErr: fmt.Errorf("%w for ro/en", ErrNoSubtitles),
	}
	tr, err := FetchTranscript(t.Context(), media, t.TempDir(), []string{"ro", "en"}, "https://youtu.be/x", testLogger())
	assert.ErrorIs(t, err, ErrNoSubtitles)
	require.NotNil(t, tr)
	assert.Equal(t, "T", tr.Title)
	assert.Empty(t, tr.Text)
}

func TestFetchTranscriptNothingReturned(t *testing.T) {
	tr, err := FetchTranscript(t.Context(), &fakeMedia{}, t.TempDir(), []string{"en"}, "https://youtu.be/x", testLogger())
	assert.ErrorIs(t, err, ErrNoSubtitles)
	assert.Nil(t, tr)
}

func TestDetails(t *testing.T) {
	const target = "/details?url=https://www.youtube.com/watch?v=dQw4w9WgXcQ"

	t.Run("full result", func(t *testing.T) {
		media := &fakeMedia{fetch: &SubtitleFetch{Title: "T", Channel: "C", Language: "ro", Content: sampleVTT}}
		srv := newTestServer(t, testConfig(t), media, nil)
		rec := doRequest(srv.Handler(), http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)

		d := decodeJSON[Details](t, rec)
		require.NotNil(t, d.TranscriptText)
		assert.Equal(t, "Salut & bine ați venit\n1989", *d.TranscriptText)
		assert.Equal(t, "T", *d.Title)
		assert.Equal(t, "C", *d.ChannelName)
		assert.Equal(t, "ro", *d.LanguageDetected)
		assert.Nil(t, d.Error)
		assert.Nil(t, d.MetadataError)
		assert.Equal(t, 0, media.probes)
	})

	t.Run("no subtitles keeps title", func(t *testing.T) {
		media := &fakeMedia{
			fetch:    &SubtitleFetch{Title: "T", Channel: "C"},
			fetchErr: fmt.Errorf("%w for ro/en", ErrNoSubtitles),
		}
		srv := newTestServer(t, testConfig(t), media, nil)
		rec := doRequest(srv.Handler(), http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)

		d := decodeJSON[Details](t, rec)
		assert.Nil(t, d.TranscriptText)
		assert.Nil(t, d.LanguageDetected)
		require.NotNil(t, d.Error)
		assert.Equal(t, "No subtitles available for the requested languages (RO/EN).", *d.Error)
		assert.Equal(t, "T", *d.Title)
	})

	t.Run("title recovered by probe", func(t *testing.T) {
		media := &fakeMedia{fetchErr: errors.New("HTTP Error 429"), info: testVideoInfo()}
		srv := newTestServer(t, testConfig(t), media, nil)
		rec := doRequest(srv.Handler(), http.MethodGet, "/api/get_youtube_details?url=https://youtu.be/dQw4w9WgXcQ", "")
		require.Equal(t, http.StatusOK, rec.Code)

		d := decodeJSON[Details](t, rec)
		assert.Equal(t, "Never Gonna: Give You Up", *d.Title)
		assert.Equal(t, "Rick Astley", *d.ChannelName)
		assert.Contains(t, *d.Error, "HTTP Error 429")
		assert.Nil(t, d.MetadataError)
		assert.Equal(t, 1, media.probes)
	})

	t.Run("nothing usable", func(t *testing.T) {
		media := &fakeMedia{fetchErr: errors.New("video unavailable"), probeErr: errors.New("video unavailable")}
		srv := newTestServer(t, testConfig(t), media, nil)
		rec := doRequest(srv.Handler(), http.MethodGet, target, "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		d := decodeJSON[Details](t, rec)
		assert.Nil(t, d.Title)
		assert.Nil(t, d.TranscriptText)
		require.NotNil(t, d.Error)
		require.NotNil(t, d.MetadataError)
		assert.Equal(t, "video unavailable", *d.MetadataError)
	})

	t.Run("tool missing skips probe", func(t *testing.T) {
		media := &fakeMedia{fetchErr: fmt.Errorf("%w: yt-dlp", ErrToolUnavailable)}
		srv := newTestServer(t, testConfig(t), media, nil)
		rec := doRequest(srv.Handler(), http.MethodGet, target, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, 0, media.probes)
	})

	t.Run("bad input", func(t *testing.T) {
		srv := newTestServer(t, testConfig(t), &fakeMedia{}, nil)
		h := srv.Handler()
		assert.Equal(t, http.StatusBadRequest, doRequest(h, http.MethodGet, "/details", "").Code)
		assert.Equal(t, http.StatusBadRequest, doRequest(h, http.MethodGet, "/details?url=https://vimeo.com/1", "").Code)
	})
}

func TestTranscriptEndpoint(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		media := &fakeMedia{fetch: &SubtitleFetch{Language: "en", Content: sampleVTT}}
		srv := newTestServer(t, testConfig(t), media, nil)
		rec := doRequest(srv.Handler(), http.MethodGet, "/transcript?url=https://vimeo.com/1&langs=en,de", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "en", rec.Header().Get("Content-Language"))
		assert.Equal(t, "Salut & bine ați venit\n1989", rec.Body.String())
		assert.Equal(t, [][]string{{"en", "de"}}, media.fetchLangs)
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no subtitles", fmt.Errorf("%w for en", ErrNoSubtitles), http.StatusNotFound},
		{"tool missing", fmt.Errorf("%w: yt-dlp", ErrToolUnavailable), http.StatusServiceUnavailable},
		{"upstream", errors.New("HTTP Error 403"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, testConfig(t), &fakeMedia{fetchErr: tt.err}, nil)
			rec := doRequest(srv.Handler(), http.MethodGet, "/transcript?url=https://youtu.be/x", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("missing url", func(t *testing.T) {
		srv := newTestServer(t, testConfig(t), &fakeMedia{}, nil)
		assert.Equal(t, http.StatusBadRequest, doRequest(srv.Handler(), http.MethodGet, "/transcript", "").Code)
	})

	t.Run("rejects path-like langs", func(t *testing.T) {
		media := &fakeMedia{fetch: &SubtitleFetch{Language: "en", Content: sampleVTT}}
		srv := newTestServer(t, testConfig(t), media, nil)
		rec := doRequest(srv.Handler(), http.MethodGet, "/transcript?url=https://youtu.be/x&langs=en,x/../../../secret/private", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid language code")
		assert.Empty(t, media.fetchLangs, "toolchain is never invoked")
	})
}
