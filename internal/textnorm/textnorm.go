// Package textnorm canonicalizes snippet and note text before any
// comparison or persist. Every content equality check in the sync core
// goes through ContentDiffers so that line-ending or whitespace noise
// never shows up as a phantom edit or conflict.
package textnorm

import "strings"

var nbspReplacer = strings.NewReplacer(
	" ", " ",
	" ", " ",
)

// Normalize converts all line endings to "\n", replaces non-breaking
// space code points with ordinary spaces, and strips trailing whitespace
// from each line. It is pure and idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = nbspReplacer.Replace(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// ContentDiffers reports whether two content strings differ after
// normalization. Raw string inequality is not a substitute: it flags
// syntactically-irrelevant differences as edits.
func ContentDiffers(a, b string) bool {
	return Normalize(a) != Normalize(b)
}
