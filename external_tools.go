package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"
)

const (
	toolYTDLP  = "yt-dlp"
	toolFFmpeg = "ffmpeg"
)

// MediaToolchain is everything the service asks of the external tools.
type MediaToolchain interface {
	// Check reports, per tool, whether it can be run.
	Check() map[string]error
	Probe(ctx context.Context, videoURL string) (*VideoInfo, error)
	Transcode(ctx context.Context, src SourceFormat, outputPath string, target AudioTarget) error
	// FetchSubtitles downloads the first available caption track in langs
	// into dir. On ErrNoSubtitles the returned value still carries the
	// title and channel when yt-dlp reported them.
	FetchSubtitles(ctx context.Context, videoURL, dir string, langs []string) (*SubtitleFetch, error)
}

// Toolchain runs yt-dlp and ffmpeg as child processes.
type Toolchain struct {
	cfg    Config
	logger zerolog.Logger
}

func NewToolchain(cfg Config, logger zerolog.Logger) *Toolchain {
	return &Toolchain{cfg: cfg, logger: logger.With().Str("component", "toolchain").Logger()}
}

func (t *Toolchain) Check() map[string]error {
	return map[string]error{
		toolYTDLP:  lookTool(toolYTDLP, t.cfg.YTDLPPath),
		toolFFmpeg: lookTool(toolFFmpeg, t.cfg.FFmpegPath),
	}
}

func lookTool(name, path string) error {
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("%w: %s (%v)", ErrToolUnavailable, name, err)
	}
	return nil
}

func (t *Toolchain) ytdlp() *ytdlp.Command {
	dl := ytdlp.New().
		SetExecutable(t.cfg.YTDLPPath).
		NoPlaylist().
		NoProgress().
		NoWarnings()
	if t.cfg.ProxyURL != "" {
		dl = dl.Proxy(t.cfg.ProxyURL)
	}
	if t.cfg.UserAgent != "" {
		dl = dl.AddHeaders("User-Agent:" + t.cfg.UserAgent)
	}
	if t.cfg.SocketTimeout > 0 {
		dl = dl.SocketTimeout(t.cfg.SocketTimeout.Seconds())
	}
	return dl
}

func (t *Toolchain) Probe(ctx context.Context, videoURL string) (*VideoInfo, error) {
	if err := lookTool(toolYTDLP, t.cfg.YTDLPPath); err != nil {
		return nil, err
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, t.cfg.MetadataTimeout)
	defer cancel()

	res, err := t.ytdlp().SkipDownload().PrintJSON().Run(ctxTimeout, videoURL)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata error: %w%s", err, stderrSuffix(res))
	}
	info, err := parseYTDLPInfo(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata parse error: %w", err)
	}
	return info.videoInfo(), nil
}

func (t *Toolchain) Transcode(ctx context.Context, src SourceFormat, outputPath string, target AudioTarget) error {
	if err := lookTool(toolFFmpeg, t.cfg.FFmpegPath); err != nil {
		return err
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, t.cfg.TranscodeTimeout)
	defer cancel()

	start := time.Now()
	args := ffmpegArgs(src, outputPath, target, t.cfg.ProxyURL, t.cfg.UserAgent)
	cmd := exec.CommandContext(ctxTimeout, t.cfg.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("ffmpeg error: %w | %s", err, strings.TrimSpace(stderr.String()))
	}
	t.logger.Debug().Str("output", outputPath).Dur("elapsed", time.Since(start)).Msg("ffmpeg conversion finished")
	return nil
}

func (t *Toolchain) FetchSubtitles(ctx context.Context, videoURL, dir string, langs []string) (*SubtitleFetch, error) {
	if err := lookTool(toolYTDLP, t.cfg.YTDLPPath); err != nil {
		return nil, err
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, t.cfg.MetadataTimeout)
	defer cancel()

	base := "transcript_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	res, err := t.ytdlp().
		SkipDownload().
		PrintJSON().
		WriteSubs().
		WriteAutoSubs().
		SubLangs(strings.Join(langs, ",")).
		SubFormat("vtt").
		Output(filepath.Join(dir, base+".%(ext)s")).
		Run(ctxTimeout, videoURL)
	if err != nil {
		msg := err.Error() + stderrSuffix(res)
		if isNoSubtitlesMessage(msg) {
			return &SubtitleFetch{}, fmt.Errorf("%w for %s", ErrNoSubtitles, strings.Join(langs, "/"))
		}
		return nil, fmt.Errorf("yt-dlp subtitle error: %w%s", err, stderrSuffix(res))
	}

	fetch := &SubtitleFetch{}
	info, err := parseYTDLPInfo(res.Stdout)
	if err != nil {
		t.logger.Warn().Err(err).Str("url", videoURL).Msg("yt-dlp printed no usable metadata")
		info = &ytdlpInfo{}
	} else {
		fetch.Title = info.Title
		fetch.Channel = info.channelName()
	}

	path, lang := findSubtitleFile(dir, base, langs, info.RequestedSubtitles)
	if path == "" {
		return fetch, fmt.Errorf("%w for %s", ErrNoSubtitles, strings.Join(langs, "/"))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fetch, fmt.Errorf("read subtitle file: %w", err)
	}
	fetch.Language = lang
	fetch.Content = string(content)
	t.logger.Debug().Str("path", path).Str("lang", lang).Msg("subtitle track downloaded")
	return fetch, nil
}

type ytdlpFormat struct {
	FormatID    string            `json:"format_id"`
	ACodec      string            `json:"acodec"`
	VCodec      string            `json:"vcodec"`
	Ext         string            `json:"ext"`
	Protocol    string            `json:"protocol"`
	URL         string            `json:"url"`
	ABR         float64           `json:"abr"`
	TBR         float64           `json:"tbr"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

type ytdlpSubtitle struct {
	Ext      string `json:"ext"`
	Filepath string `json:"filepath"`
}

type ytdlpInfo struct {
	Title              string                   `json:"title"`
	Uploader           string                   `json:"uploader"`
	Channel            string                   `json:"channel"`
	Duration           float64                  `json:"duration"`
	Formats            []ytdlpFormat            `json:"formats"`
	RequestedSubtitles map[string]ytdlpSubtitle `json:"requested_subtitles"`
}

func (i *ytdlpInfo) channelName() string {
	if i.Uploader != "" {
		return i.Uploader
	}
	return i.Channel
}

func (i *ytdlpInfo) videoInfo() *VideoInfo {
	v := &VideoInfo{
		Title:    i.Title,
		Uploader: i.Uploader,
		Channel:  i.Channel,
		Duration: i.Duration,
		Formats:  make([]SourceFormat, 0, len(i.Formats)),
	}
	for _, f := range i.Formats {
		v.Formats = append(v.Formats, SourceFormat{
			FormatID:    f.FormatID,
			ACodec:      f.ACodec,
			VCodec:      f.VCodec,
			Ext:         f.Ext,
			Protocol:    f.Protocol,
			URL:         f.URL,
			ABR:         f.ABR,
			TBR:         f.TBR,
			HTTPHeaders: f.HTTPHeaders,
		})
	}
	return v
}

// parseYTDLPInfo decodes the first JSON object line in yt-dlp's stdout.
// Informational lines yt-dlp prints around it are skipped.
func parseYTDLPInfo(stdout string) (*ytdlpInfo, error) {
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var info ytdlpInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, err
		}
		return &info, nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("no JSON object in yt-dlp output")
}

func stderrSuffix(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return " | " + s
	}
	return ""
}

func isNoSubtitlesMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "no subtitles") || strings.Contains(msg, "subtitles not available")
}

// findSubtitleFile looks for the downloaded caption track in preference
// order: the path yt-dlp reported, the path the output template implies,
// then any file in dir carrying the base name and a language prefix.
// Language codes that are not plain tags are skipped, and every candidate
// must resolve inside dir.
func findSubtitleFile(dir, base string, langs []string, requested map[string]ytdlpSubtitle) (string, string) {
	valid := make([]string, 0, len(langs))
	for _, lang := range langs {
		if ValidSubtitleLang(lang) {
			valid = append(valid, lang)
		}
	}
	langs = valid

	for _, lang := range langs {
		if sub, ok := requested[lang]; ok && sub.Filepath != "" && withinDir(dir, sub.Filepath) && fileExists(sub.Filepath) {
			return sub.Filepath, lang
		}
		if p := filepath.Join(dir, base+"."+lang+".vtt"); withinDir(dir, p) && fileExists(p) {
			return p, lang
		}
	}

	matches, _ := filepath.Glob(filepath.Join(dir, base+".*.vtt"))
	sort.Strings(matches)
	for _, lang := range langs {
		for _, m := range matches {
			name := strings.TrimPrefix(filepath.Base(m), base+".")
			if strings.HasPrefix(name, lang+"-") || strings.HasPrefix(name, lang+".") {
				return m, lang
			}
		}
	}
	return "", ""
}

var reSubtitleLang = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidSubtitleLang reports whether lang is a bare language tag such as
// "en", "pt-BR" or "zh_Hans".
func ValidSubtitleLang(lang string) bool {
	return len(lang) <= 32 && reSubtitleLang.MatchString(lang)
}

func withinDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// selectAudioFormat prefers audio-only streams, falling back to any stream
// that carries audio, and ranks them with scoreFormat.
func selectAudioFormat(formats []SourceFormat) (SourceFormat, error) {
	candidates := make([]SourceFormat, 0, len(formats))
	for _, f := range formats {
		if f.URL == "" {
			continue
		}
		isAudioOnly := (f.VCodec == "none" || f.VCodec == "") && f.ACodec != "none"
		if isAudioOnly {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		for _, f := range formats {
			if f.URL != "" && f.ACodec != "none" {
				candidates = append(candidates, f)
			}
		}
	}
	if len(candidates) == 0 {
		return SourceFormat{}, ErrNoAudioFormat
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := scoreFormat(candidates[i]), scoreFormat(candidates[j])
		if si == sj {
			return candidates[i].ABR > candidates[j].ABR
		}
		return si > sj
	})
	return candidates[0], nil
}

func scoreFormat(f SourceFormat) int {
	score := 0
	switch strings.ToLower(f.Ext) {
	case "m4a":
		score += 100
	case "webm":
		score += 90
	case "ogg", "opus":
		score += 85
	case "mp4":
		score += 70
	default:
		score += 60
	}
	p := strings.ToLower(f.Protocol)
	if strings.HasPrefix(p, "https") {
		score += 30
	} else if strings.HasPrefix(p, "http") {
		score += 25
	} else if strings.Contains(p, "m3u8") || strings.Contains(p, "hls") {
		score += 20
	} else if strings.Contains(p, "dash") {
		score += 15
	}
	if f.ABR > 0 {
		score += int(f.ABR)
	} else if f.TBR > 0 {
		score += int(f.TBR / 2)
	}
	return score
}

// ffmpegArgs builds the command line for one transcode. HTTP inputs get the
// headers yt-dlp resolved them with, so signed stream URLs stay valid.
func ffmpegArgs(src SourceFormat, outputPath string, target AudioTarget, proxyURL, userAgent string) []string {
	args := []string{"-y", "-loglevel", "error", "-nostdin"}

	if strings.HasPrefix(src.URL, "http://") || strings.HasPrefix(src.URL, "https://") {
		ua := userAgent
		var extra []string
		for k, v := range src.HTTPHeaders {
			if strings.EqualFold(k, "User-Agent") {
				if ua == "" {
					ua = v
				}
				continue
			}
			extra = append(extra, k+": "+v+"\r\n")
		}
		sort.Strings(extra)
		if ua != "" {
			args = append(args, "-user_agent", ua)
		}
		if len(extra) > 0 {
			args = append(args, "-headers", strings.Join(extra, ""))
		}
		if strings.HasPrefix(proxyURL, "http://") || strings.HasPrefix(proxyURL, "https://") {
			args = append(args, "-http_proxy", proxyURL)
		}
	}

	args = append(args, "-i", src.URL, "-vn", "-c:a", target.Codec)
	if target.Bitrate != "" {
		args = append(args, "-b:a", target.Bitrate)
	}
	if target.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprint(target.SampleRate))
	}
	return append(args, outputPath)
}
