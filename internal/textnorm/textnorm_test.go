package textnorm

import "testing"

func TestNormalizeLineEndings(t *testing.T) {
	got := Normalize("one\r\ntwo\rthree\nfour")
	want := "one\ntwo\nthree\nfour"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeNonBreakingSpaces(t *testing.T) {
	got := Normalize("a b c")
	if got != "a b c" {
		t.Fatalf("expected %q, got %q", "a b c", got)
	}
}

func TestNormalizeStripsTrailingWhitespacePerLine(t *testing.T) {
	got := Normalize("one  \ntwo\t\nthree")
	want := "one\ntwo\nthree"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"mixed\r\nendings\rhere\n",
		"nbsp and trailing  \r\n\ttabs\t",
		"already\nnormal",
	}
	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestContentDiffers(t *testing.T) {
	if ContentDiffers("hello  \r\n", "hello\n") {
		t.Fatalf("expected whitespace-only difference to compare equal")
	}
	if !ContentDiffers("hello", "hello world") {
		t.Fatalf("expected real difference to be detected")
	}
}
