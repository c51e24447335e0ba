package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// AudioTarget describes what ffmpeg should produce for a requested format.
type AudioTarget struct {
	Format      string
	Ext         string
	Codec       string
	ContentType string
	SampleRate  int
	Bitrate     string // empty for lossless targets
}

type audioCodec struct {
	ext         string
	codec       string
	contentType string
	sampleRate  int
	lossless    bool
}

var audioCodecs = map[string]audioCodec{
	"mp3":  {ext: "mp3", codec: "libmp3lame", contentType: "audio/mpeg", sampleRate: 44100},
	"m4a":  {ext: "m4a", codec: "aac", contentType: "audio/mp4", sampleRate: 44100},
	"aac":  {ext: "m4a", codec: "aac", contentType: "audio/mp4", sampleRate: 44100},
	"opus": {ext: "opus", codec: "libopus", contentType: "audio/ogg", sampleRate: 48000}, // libopus rejects 44.1kHz
	"ogg":  {ext: "ogg", codec: "libvorbis", contentType: "audio/ogg", sampleRate: 44100},
	"wav":  {ext: "wav", codec: "pcm_s16le", contentType: "audio/wav", sampleRate: 44100, lossless: true},
	"flac": {ext: "flac", codec: "flac", contentType: "audio/flac", sampleRate: 44100, lossless: true},
}

var reBitrate = regexp.MustCompile(`^[1-9][0-9]{1,3}k$`)

// LookupAudioTarget resolves a user supplied format and bitrate. Both are
// case-insensitive; the bitrate is ignored for lossless formats.
func LookupAudioTarget(format, bitrate string) (AudioTarget, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	c, ok := audioCodecs[format]
	if !ok {
		return AudioTarget{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, format, strings.Join(SupportedFormats(), ", "))
	}
	t := AudioTarget{Format: format, Ext: c.ext, Codec: c.codec, ContentType: c.contentType, SampleRate: c.sampleRate}
	if c.lossless {
		return t, nil
	}
	bitrate = strings.ToLower(strings.TrimSpace(bitrate))
	if !reBitrate.MatchString(bitrate) {
		return AudioTarget{}, fmt.Errorf("%w: bitrate %q, want e.g. 192k", ErrUnsupportedFormat, bitrate)
	}
	t.Bitrate = bitrate
	return t, nil
}

// ContentTypeForExt maps a stored file extension back to its MIME type.
func ContentTypeForExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, c := range audioCodecs {
		if c.ext == ext {
			return c.contentType
		}
	}
	return "application/octet-stream"
}

func SupportedFormats() []string {
	out := make([]string, 0, len(audioCodecs))
	for f := range audioCodecs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
