package language

import (
	"strings"

	xlang "golang.org/x/text/language"
)

// Default is used when a request names no language.
const Default = "en"

type entry struct {
	code2   string
	code3   string
	alt3    string
	display string
}

var languages = []entry{
	{"en", "eng", "", "English"},
	{"es", "spa", "", "Spanish"},
	{"fr", "fra", "fre", "French"},
	{"de", "deu", "ger", "German"},
	{"it", "ita", "", "Italian"},
	{"pt", "por", "", "Portuguese"},
	{"ja", "jpn", "", "Japanese"},
	{"ko", "kor", "", "Korean"},
	{"zh", "zho", "chi", "Chinese"},
	{"ru", "rus", "", "Russian"},
	{"ar", "ara", "", "Arabic"},
	{"hi", "hin", "", "Hindi"},
	{"nl", "nld", "dut", "Dutch"},
	{"pl", "pol", "", "Polish"},
	{"sv", "swe", "", "Swedish"},
	{"da", "dan", "", "Danish"},
	{"no", "nor", "", "Norwegian"},
	{"fi", "fin", "", "Finnish"},
}

var index = func() map[string]*entry {
	m := make(map[string]*entry, len(languages)*4)
	for i := range languages {
		e := &languages[i]
		m[e.code2] = e
		m[e.code3] = e
		if e.alt3 != "" {
			m[e.alt3] = e
		}
		m[strings.ToLower(e.display)] = e
	}
	return m
}()

// Normalize maps an ISO 639 code, a BCP 47 tag such as "pt-BR", or an English
// language name to the two-letter code stored on inputs. Empty input yields
// Default. ok is false for languages outside the supported set.
func Normalize(value string) (code string, ok bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return Default, true
	}
	if e, found := index[value]; found {
		return e.code2, true
	}
	tag, err := xlang.Parse(value)
	if err != nil {
		return "", false
	}
	base, confidence := tag.Base()
	if confidence == xlang.No {
		return "", false
	}
	if e, found := index[base.String()]; found {
		return e.code2, true
	}
	return "", false
}

// DisplayName returns the English name for a supported code, or the
// uppercased input otherwise.
func DisplayName(code string) string {
	if normalized, ok := Normalize(code); ok {
		return index[normalized].display
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// Supported lists the two-letter codes Normalize accepts.
func Supported() []string {
	codes := make([]string, 0, len(languages))
	for _, e := range languages {
		codes = append(codes, e.code2)
	}
	return codes
}
