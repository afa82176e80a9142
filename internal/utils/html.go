package utils

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// EscapeHTML escapes user-provided text for Telegram HTML parse mode.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Truncate shortens s to at most n runes. Truncation happens before escaping
// so no entity or multibyte sequence is ever cut in half.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
