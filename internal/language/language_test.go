package language

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"", "en", true},
		{"EN", "en", true},
		{"fra", "fr", true},
		{"fre", "fr", true},
		{"German", "de", true},
		{"pt-BR", "pt", true},
		{"zh-Hant-TW", "zh", true},
		{"tlh", "", false},
		{"not a language", "", false},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Normalize(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"en":    "English",
		"es-MX": "Spanish",
		"nld":   "Dutch",
		"xx":    "XX",
	}
	for input, want := range tests {
		if got := DisplayName(input); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSupportedNormalizeToThemselves(t *testing.T) {
	for _, code := range Supported() {
		if got, ok := Normalize(code); !ok || got != code {
			t.Errorf("Normalize(%q) = %q, %v", code, got, ok)
		}
	}
}
