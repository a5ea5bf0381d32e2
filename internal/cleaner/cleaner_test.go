package cleaner

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain", in: "hello world", want: "hello world"},
		{name: "whitespace runs", in: "  a \t\n b\r\n\nc  ", want: "a b c"},
		{name: "control chars", in: "a\x00b\x07c", want: "abc"},
		{name: "non-ascii removed", in: "café naïve", want: "caf nave"},
		{name: "non-ascii between spaces", in: "a \u2014 b", want: "a b"},
		{name: "nbsp collapses", in: "a\u00a0\u00a0b", want: "a b"},
		{name: "zero width", in: "a\u200bb", want: "ab"},
		{name: "only non-ascii", in: "日本語", want: ""},
		{name: "invalid utf8", in: "a\xffb", want: "ab"},
		{name: "page markers", in: "--- Page 1 ---\nfoo\n\n--- Page 2 ---\nbar", want: "--- Page 1 --- foo --- Page 2 --- bar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

var samples = []string{
	"",
	" ",
	"Invoice #123\n\n\tTotal:   $45.00",
	"a \u2014 b \u2014 c",
	"\x00\x01\x02   x \u3000 y",
	"émigré   café  menu",
	"a\xff\xfe b",
	"mixed\r\nline\rendings\n",
	"☃ snow ☃ man ☃",
}

func TestCleanIdempotent(t *testing.T) {
	for _, s := range samples {
		once := Clean(s)
		assert.Equal(t, once, Clean(once), "input %q", s)
	}
}

func TestCleanInvariants(t *testing.T) {
	for _, s := range samples {
		out := Clean(s)
		assert.NotContains(t, out, "  ", "input %q", s)
		assert.Equal(t, strings.TrimSpace(out), out, "input %q", s)
		for _, r := range out {
			assert.True(t, unicode.IsPrint(r) && r <= unicode.MaxASCII, "rune %q in output for %q", r, s)
		}
	}
}
