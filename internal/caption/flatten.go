// Package caption turns timed caption documents (WebVTT, SRT and friends)
// into plain transcripts.
package caption

import (
	"io"
	"regexp"
	"strings"
	"unicode"
)

// TimingDelimiter marks a cue timing line, e.g. "00:00:01.000 --> 00:00:02.000".
const TimingDelimiter = "-->"

var reTag = regexp.MustCompile(`<[^>]*>`)

// Entity maps an escaped markup token to its replacement text.
type Entity struct {
	Token       string
	Replacement string
}

// DefaultEntities is applied in order. "&amp;" comes last so a
// double-escaped "&amp;lt;" decodes exactly once, to "&lt;".
var DefaultEntities = []Entity{
	{Token: "&lt;", Replacement: "<"},
	{Token: "&gt;", Replacement: ">"},
	{Token: "&nbsp;", Replacement: " "},
	{Token: "&amp;", Replacement: "&"},
}

// Flattener strips timing, cue numbers and inline markup from caption text.
// The zero value uses DefaultEntities.
type Flattener struct {
	Entities []Entity
}

// Flatten runs the default Flattener over document.
func Flatten(document string) string {
	return Flattener{}.Flatten(document)
}

// Flatten returns the dialogue lines of document joined by "\n".
//
// A timing line opens a dialogue block and a blank line closes it. Digit-only
// lines outside a block are cue numbers; inside a block they are dialogue.
// Anything else outside a block (the WEBVTT header, Kind:, STYLE...) is
// ignored.
func (f Flattener) Flatten(document string) string {
	entities := f.Entities
	if entities == nil {
		entities = DefaultEntities
	}

	var out []string
	inDialogue := false
	for _, raw := range splitLines(document) {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			inDialogue = false
		case strings.Contains(line, TimingDelimiter):
			inDialogue = true
		case !inDialogue && isDigits(line):
		case inDialogue:
			if text := cleanLine(line, entities); text != "" {
				out = append(out, text)
			}
		}
	}
	return strings.Join(out, "\n")
}

// FlattenReader reads r to the end and flattens it.
func (f Flattener) FlattenReader(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return f.Flatten(string(b)), nil
}

func cleanLine(line string, entities []Entity) string {
	line = reTag.ReplaceAllString(line, "")
	for _, e := range entities {
		line = strings.ReplaceAll(line, e.Token, e.Replacement)
	}
	return strings.TrimSpace(line)
}

// splitLines splits on "\r\n", "\r" and "\n".
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
