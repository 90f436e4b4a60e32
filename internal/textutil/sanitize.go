package textutil

import (
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

const maxFileNameRunes = 96

// fileNameReplacer replaces filesystem and URL-unsafe characters.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	" ", "-",
	"?", "",
	"#", "",
	"%", "",
	"\"", "",
	"'", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName reduces name to a single safe path segment usable in a
// blob key and a public URL. Directory parts are dropped, control characters
// removed, and long names shortened while keeping the extension. Returns
// "upload" when nothing usable remains.
func SanitizeFileName(name string) string {
	name = path.Base(filepath.ToSlash(strings.TrimSpace(name)))
	if name == "." || name == "/" {
		return "upload"
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = fileNameReplacer.Replace(name)
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	ext := path.Ext(name)
	if ext == "." {
		ext = ""
	}
	stem := strings.Trim(strings.TrimSuffix(name, ext), "-.")
	if budget := maxFileNameRunes - len([]rune(ext)); len([]rune(stem)) > budget {
		stem = string([]rune(stem)[:budget])
	}
	if stem == "" {
		stem = "upload"
	}
	return stem + ext
}

// Truncate shortens s to at most limit runes, ending with an ellipsis when
// anything was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
