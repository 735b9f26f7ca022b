package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitEmpty(t *testing.T) {
	t.Parallel()
	if got := New().Split(""); len(got) != 0 {
		t.Fatalf("Split(\"\") = %d chunks, want none", len(got))
	}
}

func TestSplitShortTextReturnsInput(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"hi", "hello world", strings.Repeat("a", DefaultWindow)} {
		got := New().Split(text)
		if len(got) != 1 || got[0] != text {
			t.Fatalf("Split(%d runes) = %#v, want single chunk equal to input", len([]rune(text)), got)
		}
	}
}

func TestSplitCutsAfterSentenceEnd(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 380) + ". " + strings.Repeat("b", 100)

	chunks := New().Split(text)
	if len(chunks) != 2 {
		t.Fatalf("Split: got %d chunks, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Fatalf("first chunk should end at the sentence boundary, got %q", chunks[0][len(chunks[0])-10:])
	}
	if n := len([]rune(chunks[0])); n != 381 {
		t.Fatalf("first chunk length = %d runes, want 381", n)
	}
}

func TestSplitFallsBackToWhitespace(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 390) + " " + strings.Repeat("b", 200)

	chunks := New().Split(text)
	if len(chunks) != 2 {
		t.Fatalf("Split: got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 390) {
		t.Fatalf("first chunk should cut at the whitespace, got %d runes", len([]rune(chunks[0])))
	}
}

func TestSplitForceCutWithoutBoundaries(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 600)

	chunks := New().Split(text)
	if len(chunks) != 2 {
		t.Fatalf("Split: got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0]) != 400 || len(chunks[1]) != 300 {
		t.Fatalf("chunk lengths = %d, %d, want 400, 300", len(chunks[0]), len(chunks[1]))
	}
	// The second chunk re-covers the 100-rune overlap, so the source must
	// reassemble from the first chunk plus the non-overlap remainder.
	if chunks[0]+chunks[1][100:] != text {
		t.Fatalf("chunks do not reassemble the source text")
	}
}

func TestSplitMergesShortTail(t *testing.T) {
	t.Parallel()
	s := Splitter{Window: 100, Overlap: 20, MinSize: 50}
	text := strings.Repeat("a", 100) + strings.Repeat("b", 10)

	chunks := s.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("short tail should merge into previous chunk, got %d chunks", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], strings.Repeat("b", 10)) {
		t.Fatalf("merged chunk should carry the tail, got %q", chunks[0])
	}
}

func TestSplitRuneBoundaries(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("汉", 390) + "。" + strings.Repeat("字", 109)

	chunks := New().Split(text)
	if len(chunks) != 2 {
		t.Fatalf("Split: got %d chunks, want 2", len(chunks))
	}
	first := []rune(chunks[0])
	if len(first) != 391 {
		t.Fatalf("first chunk length = %d runes, want 391", len(first))
	}
	if first[len(first)-1] != '。' {
		t.Fatalf("first chunk should end with the full-width period, got %q", first[len(first)-1])
	}
}

func TestSplitCoversSourceWithoutGaps(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "Sentence number %04d carries a unique marker. ", i)
	}
	text := b.String()

	chunks := New().Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	prevPos, prevLen := -1, 0
	for i, c := range chunks {
		if n := len([]rune(c)); n < DefaultMinSize || n > DefaultWindow {
			t.Fatalf("chunk %d length = %d runes, want within [%d, %d]", i, n, DefaultMinSize, DefaultWindow)
		}
		pos := strings.Index(text, c)
		if pos < 0 {
			t.Fatalf("chunk %d is not a substring of the source", i)
		}
		if prevPos >= 0 {
			if pos <= prevPos {
				t.Fatalf("chunk %d out of order: pos %d after %d", i, pos, prevPos)
			}
			if pos > prevPos+prevLen {
				t.Fatalf("coverage gap before chunk %d: starts at %d, previous ended at %d", i, pos, prevPos+prevLen)
			}
		}
		prevPos, prevLen = pos, len(c)
	}
	if prevPos+prevLen < len(text)-1 {
		t.Fatalf("final chunk ends at %d, source has %d bytes", prevPos+prevLen, len(text))
	}
}
