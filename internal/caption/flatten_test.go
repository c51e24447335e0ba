package caption

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "blank line closes dialogue before next cue number",
			in:   "1\n00:00:01.000 --> 00:00:02.000\nHello\n\n2\n00:00:03.000 --> 00:00:04.000\nWorld",
			want: "Hello\nWorld",
		},
		{
			name: "voice tag stripped",
			in:   "00:00:01.000 --> 00:00:02.000\n<v Alice>Hi there</v>",
			want: "Hi there",
		},
		{
			name: "entities decoded",
			in:   "00:00:01.000 --> 00:00:02.000\n5 &lt; 10 &amp; true",
			want: "5 < 10 & true",
		},
		{
			name: "multi-line cue keeps order",
			in:   "00:00:00.000 --> 00:00:05.000\nLine one\nLine two\n\n",
			want: "Line one\nLine two",
		},
		{
			name: "line empty after tag removal dropped",
			in:   "00:00:00.000 --> 00:00:05.000\n<i></i>\nkept",
			want: "kept",
		},
		{
			name: "header only",
			in:   "WEBVTT",
			want: "",
		},
		{
			name: "empty document",
			in:   "",
			want: "",
		},
		{
			name: "plain dialogue passes through unchanged",
			in:   "00:00:00.000 --> 00:00:05.000\nJust words, nothing else.\nA second line!",
			want: "Just words, nothing else.\nA second line!",
		},
		{
			name: "digits inside a cue are dialogue",
			in:   "7\n00:00:00.000 --> 00:00:05.000\nThe answer is\n42\n\n8\n00:00:06.000 --> 00:00:07.000\nok",
			want: "The answer is\n42\nok",
		},
		{
			name: "webvtt header and metadata ignored",
			in: "WEBVTT\nKind: captions\nLanguage: en\n\n" +
				"00:00:00.000 --> 00:00:02.000 align:start position:0%\n" +
				"Hello<00:00:00.500><c> world</c>\n",
			want: "Hello world",
		},
		{
			name: "srt with crlf line endings",
			in:   "1\r\n00:00:01,000 --> 00:00:02,000\r\nFirst\r\n\r\n2\r\n00:00:03,000 --> 00:00:04,000\r\nSecond\r\n",
			want: "First\nSecond",
		},
		{
			name: "bare carriage returns",
			in:   "1\r00:00:01,000 --> 00:00:02,000\rOld mac\r\r2\r00:00:03,000 --> 00:00:04,000\rline endings",
			want: "Old mac\nline endings",
		},
		{
			name: "surrounding whitespace trimmed",
			in:   "  00:00:01.000 --> 00:00:02.000  \n\t  padded text \t\n",
			want: "padded text",
		},
		{
			name: "whitespace-only line closes dialogue",
			in:   "00:00:01.000 --> 00:00:02.000\nfirst\n   \t\n3\nnot dialogue",
			want: "first",
		},
		{
			name: "nbsp entity becomes space",
			in:   "00:00:01.000 --> 00:00:02.000\nfoo&nbsp;bar",
			want: "foo bar",
		},
		{
			name: "line of only nbsp entity dropped",
			in:   "00:00:01.000 --> 00:00:02.000\n&nbsp;\nnext",
			want: "next",
		},
		{
			name: "unclosed angle bracket kept",
			in:   "00:00:01.000 --> 00:00:02.000\n1 < 2",
			want: "1 < 2",
		},
		{
			name: "tags are non-greedy",
			in:   "00:00:01.000 --> 00:00:02.000\n<b>bold</b> and <i>italic</i>",
			want: "bold and italic",
		},
		{
			name: "decoded brackets are not stripped as tags",
			in:   "00:00:01.000 --> 00:00:02.000\n&lt;b&gt;literal&lt;/b&gt;",
			want: "<b>literal</b>",
		},
		{
			name: "unicode dialogue",
			in:   "00:00:01.000 --> 00:00:02.000\n<c.ro>Bună ziua, lume</c>",
			want: "Bună ziua, lume",
		},
		{
			name: "cue settings line before timing ignored",
			in:   "STYLE\n::cue { color: lime }\n\nNOTE a comment\n\n00:00:01.000 --> 00:00:02.000\nspoken",
			want: "spoken",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Flatten(tt.in))
		})
	}
}

func TestFlattenEscaping(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single escaped less-than", "&lt;", "<"},
		{"single escaped ampersand", "&amp;", "&"},
		{"double escaped less-than decodes once", "&amp;lt;", "&lt;"},
		{"double escaped ampersand decodes once", "&amp;amp;", "&amp;"},
		{"double escaped nbsp decodes once", "a&amp;nbsp;b", "a&nbsp;b"},
		{"mixed", "x &gt; y &amp;&amp; y &gt;= z", "x > y && y >= z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "00:00:01.000 --> 00:00:02.000\n" + tt.in
			assert.Equal(t, tt.want, Flatten(doc))
		})
	}
}

func TestFlattenerCustomEntities(t *testing.T) {
	f := Flattener{Entities: []Entity{
		{Token: "&quot;", Replacement: `"`},
		{Token: "&amp;", Replacement: "&"},
	}}
	doc := "00:00:01.000 --> 00:00:02.000\n&quot;quoted&quot; &lt;kept&gt;"
	assert.Equal(t, `"quoted" &lt;kept&gt;`, f.Flatten(doc))

	none := Flattener{Entities: []Entity{}}
	assert.Equal(t, "&amp;", none.Flatten("00:00:01.000 --> 00:00:02.000\n&amp;"))
}

func TestFlattenReader(t *testing.T) {
	got, err := Flattener{}.FlattenReader(strings.NewReader("1\n00:00:01,000 --> 00:00:02,000\nfrom a reader\n"))
	require.NoError(t, err)
	assert.Equal(t, "from a reader", got)
}

func TestFlattenNoTrailingNewline(t *testing.T) {
	got := Flatten("00:00:01.000 --> 00:00:02.000\nend\n\n\n")
	assert.False(t, strings.HasSuffix(got, "\n"))
}

func TestFlattenConcurrent(t *testing.T) {
	doc := "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.000\n<v Bob>one</v>\n\n2\n00:00:03.000 --> 00:00:04.000\ntwo &amp; three\n"
	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Flatten(doc)
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, "one\ntwo & three", r)
	}
}

func TestIsDigits(t *testing.T) {
	assert.True(t, isDigits("12"))
	assert.True(t, isDigits("٣")) // Arabic-Indic three
	assert.False(t, isDigits(""))
	assert.False(t, isDigits("1a"))
	assert.False(t, isDigits("-1"))
}
