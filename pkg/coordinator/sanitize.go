package coordinator

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	markupPattern      = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// SanitizeFact strips executable markup and control characters from a
// memory-fact payload. The result is plain text safe to persist.
func SanitizeFact(fact string) string {
	cleaned := scriptBlockPattern.ReplaceAllString(fact, "")
	cleaned = markupPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, cleaned)
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
