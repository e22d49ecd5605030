package web

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 80))
	assert.Equal(t, "abcde", truncate("abcde", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 5))

	// multi-byte characters are never split
	title := strings.Repeat("β", 100)
	got := truncate(title, 80)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("β", 77)+"...", got)
}
