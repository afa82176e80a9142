package utils_test

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"referral-bot/internal/utils"
)

func TestEscapeHTML(t *testing.T) {
	require.Equal(t, "a &amp; b", utils.EscapeHTML("a & b"))
	require.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", utils.EscapeHTML("<b>bold</b>"))
	require.Equal(t, "&quot;q&quot;", utils.EscapeHTML(`"q"`))
	require.Equal(t, "plain", utils.EscapeHTML("plain"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", utils.Truncate("short", 30))
	require.Equal(t, "abc", utils.Truncate("abcdef", 3))
	require.Equal(t, "", utils.Truncate("abc", 0))

	// Multibyte names must be cut on rune boundaries, never mid-sequence.
	cut := utils.Truncate("ЀЀЀЀЀ", 3)
	require.True(t, utf8.ValidString(cut))
	require.Equal(t, 3, len([]rune(cut)))

	emoji := utils.Truncate("🎉🎉🎉🎉", 2)
	require.True(t, utf8.ValidString(emoji))
	require.Equal(t, "🎉🎉", emoji)
}
