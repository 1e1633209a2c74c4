package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	text := strings.Repeat(line+"\n", 10)

	chunks := splitText(text, 100, "")
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 100)
		assert.False(t, strings.HasSuffix(c, "\n"))
		assert.True(t, strings.HasPrefix(c, "a"))
	}
	assert.Equal(t, strings.TrimRight(text, "\n"), strings.Join(chunks, "\n"))
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 98) + "<b>bold</b>"
	chunks := splitText(text, 100, "HTML")
	assert.Equal(t, []string{strings.Repeat("x", 98), "<b>bold</b>"}, chunks)
}

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hi"}, splitText("hi", 100, ""))
}

func TestMessageLink(t *testing.T) {
	t.Parallel()
	a := &Adapter{}
	assert.Equal(t, "https://t.me/c/1234567890/42", a.MessageLink(0, -1001234567890, 42))
	assert.Empty(t, a.MessageLink(0, 555, 42))
	assert.Empty(t, a.MessageLink(0, -1001234567890, 0))
}
