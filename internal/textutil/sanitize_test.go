package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"cover.png", "cover.png"},
		{"  My Cover (final).PNG ", "My-Cover-(final).PNG"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\art?.jpg`, "C-Users-me-art.jpg"},
		{"bad\x00name\n.txt", "badname.txt"},
		{"...", "upload"},
		{"", "upload"},
		{"#%?.png", "upload.png"},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.input); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSanitizeFileNameKeepsExtensionWhenShortening(t *testing.T) {
	got := SanitizeFileName(strings.Repeat("ä", 300) + ".webm")
	if !strings.HasSuffix(got, ".webm") {
		t.Fatalf("extension lost: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != maxFileNameRunes {
		t.Fatalf("expected %d runes, got %d", maxFileNameRunes, n)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"a longer sentence", 8, "a longe…"},
		{"word boundary here", 6, "word…"},
		{"日本語のテキスト", 4, "日本語…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.input, tt.limit); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.want)
		}
	}
}
