package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsScript(t *testing.T) {
	out := Sanitize(`hello <script>alert("x")</script>world`)
	assert.NotContains(t, out, "script")
	assert.Contains(t, out, "hello")
}

func TestSanitizeKeepsBasicFormatting(t *testing.T) {
	out := Sanitize("<b>bold</b> and <em>emphasis</em>")
	assert.Contains(t, out, "<b>bold</b>")
	assert.Contains(t, out, "<em>emphasis</em>")
}

func TestSanitizeTrimsWhitespace(t *testing.T) {
	assert.Equal(t, "plain", Sanitize("  plain  "))
}
