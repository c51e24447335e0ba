package main

import (
	"net/url"
	"path/filepath"
	"strings"
	"unicode"
)

const maxTitleRunes = 120

// SanitizeFilename makes a video title safe to use as a download name.
func SanitizeFilename(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, title)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.Trim(cleaned, " .-")

	if r := []rune(cleaned); len(r) > maxTitleRunes {
		cleaned = strings.TrimRight(string(r[:maxTitleRunes]), " .-")
	}
	if cleaned == "" {
		return "audio"
	}
	return cleaned
}

// DownloadName is the name offered to the client in Content-Disposition.
func DownloadName(title, ext string) string {
	return SanitizeFilename(title) + "." + ext
}

// OutputPath is where a job's audio lives on disk. Only the job id goes
// into the path, never user input.
func OutputPath(dir, jobID, ext string) string {
	return filepath.Join(dir, jobID+"."+ext)
}

// contentDisposition quotes an ASCII fallback and adds the RFC 5987 form for
// titles with non-ASCII characters.
func contentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || r == '"' {
			return '_'
		}
		return r
	}, name)
	v := `attachment; filename="` + ascii + `"`
	if ascii != name {
		v += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return v
}

// isYouTubeURL accepts the watch, short, embed and music hosts.
func isYouTubeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be", "youtube-nocookie.com":
		return true
	}
	return false
}

// isFetchableURL is the looser check used for audio extraction, where
// yt-dlp supports many sites besides YouTube.
func isFetchableURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
