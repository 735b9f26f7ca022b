// Package chunker splits page text into overlapping segments sized for the
// embedding model's context window. Cut points prefer sentence boundaries so
// that segments stay semantically coherent for mixed CJK and Latin content.
package chunker

import (
	"strings"
	"unicode"
)

// Defaults tuned for a 512-token embedding model on mixed Chinese and
// English text (~1.5 chars/token CJK, ~4 chars/token Latin).
const (
	DefaultWindow  = 400
	DefaultOverlap = 100
	DefaultMinSize = 50
)

// Lookback ranges, in runes from the window end, scanned for a cut point.
const (
	sentenceLookback  = 80
	separatorLookback = 40
)

// Splitter slides a fixed-size window over the text and cuts at the
// rightmost sentence-terminal rune near the window edge, falling back to
// whitespace or weak punctuation, then to a hard cut at the boundary.
// All sizes are in runes. Overlap is a target, not a hard guarantee.
type Splitter struct {
	Window  int
	Overlap int
	MinSize int
}

// New returns a Splitter with the default window, overlap and minimum size.
func New() Splitter {
	return Splitter{Window: DefaultWindow, Overlap: DefaultOverlap, MinSize: DefaultMinSize}
}

// Split cuts text into ordered, non-empty chunks. Empty input yields no
// chunks; input no longer than the window is returned as the single chunk.
// Segments shorter than MinSize are folded into the preceding chunk, so
// every chunk except a sole one is at least MinSize runes long.
func (s Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= s.Window {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.Window

		if end >= len(runes) {
			chunks = s.emit(chunks, string(runes[start:]), true)
			break
		}

		cut := s.cut(runes, start, end)
		chunks = s.emit(chunks, string(runes[start:cut]), false)

		next := cut - s.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// cut picks a boundary inside (start, end]. It scans the last
// sentenceLookback runes of the window right-to-left for a sentence-terminal
// rune and cuts just after it, then retries the last separatorLookback runes
// for whitespace or a weak separator, then force-cuts at the window edge.
func (s Splitter) cut(runes []rune, start, end int) int {
	from := end - sentenceLookback
	if from < start {
		from = start
	}
	for i := end - 1; i >= from; i-- {
		if isSentenceEnd(runes[i]) {
			return i + 1
		}
	}

	from = end - separatorLookback
	if from < start {
		from = start
	}
	for i := end - 1; i >= from; i-- {
		if isSeparator(runes[i]) {
			return i + 1
		}
	}

	return end
}

// emit appends a trimmed segment, folding anything shorter than MinSize into
// the previous chunk. A short final segment with no predecessor is kept so a
// lone remainder is never lost.
func (s Splitter) emit(chunks []string, segment string, final bool) []string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return chunks
	}
	if len([]rune(segment)) >= s.MinSize {
		return append(chunks, segment)
	}
	if len(chunks) > 0 {
		chunks[len(chunks)-1] += " " + segment
		return chunks
	}
	if final {
		return append(chunks, segment)
	}
	return chunks
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?', '\n':
		return true
	}
	return false
}

func isSeparator(r rune) bool {
	switch r {
	case ',', '，', ';', '；', '、':
		return true
	}
	return unicode.IsSpace(r)
}
