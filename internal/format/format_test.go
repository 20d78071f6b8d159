package format

import (
	"strings"
	"testing"
)

func TestIntegrationText(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		in       string
		want     string
	}{
		{
			name:     "trims outer whitespace",
			platform: "telegram",
			in:       "  hello  \n",
			want:     "hello",
		},
		{
			name:     "normalizes crlf",
			platform: "telegram",
			in:       "line one\r\nline two",
			want:     "line one\nline two",
		},
		{
			name:     "strips control characters",
			platform: "slack",
			in:       "he\x00llo\x07 there",
			want:     "hello there",
		},
		{
			name:     "keeps tabs and newlines",
			platform: "slack",
			in:       "a\tb\nc",
			want:     "a\tb\nc",
		},
		{
			name:     "blank collapses to empty",
			platform: "discord",
			in:       " \r\n \t ",
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IntegrationText(tt.platform, tt.in); got != tt.want {
				t.Errorf("IntegrationText(%q, %q) = %q, want %q", tt.platform, tt.in, got, tt.want)
			}
		})
	}
}

func TestIntegrationTextClampsToPlatformLimit(t *testing.T) {
	long := strings.Repeat("x", 5000)

	got := IntegrationText("discord", long)
	if n := len([]rune(got)); n != 2000 {
		t.Errorf("discord output = %d runes, want 2000", n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated output does not end with ellipsis")
	}

	if got := IntegrationText("telegram", long); len([]rune(got)) != 4096 {
		t.Errorf("telegram output = %d runes, want 4096", len([]rune(got)))
	}

	// Unknown platforms use the default limit.
	if got := IntegrationText("irc", strings.Repeat("y", 9000)); len([]rune(got)) != defaultLimit {
		t.Errorf("unknown platform output = %d runes, want %d", len([]rune(got)), defaultLimit)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"héllo wörld", 6, "héllo…"},
		{"x", 0, ""},
		{"xy", 1, "…"},
	}
	for _, tt := range tests {
		if got := TruncateRunes(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
