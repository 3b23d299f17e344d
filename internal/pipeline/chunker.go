package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/blindreview/redactor/internal/stage"
)

// Segment is one bounded slice of a document. Start is the byte offset of the
// slice within the original text.
type Segment struct {
	Start int
	Text  string
}

// SplitText slices text into ordered segments of at most maxBytes each.
// Split points fall on safe boundaries: never inside a multi-byte rune and
// never between a redaction open delimiter and its close. Paragraph breaks
// are preferred, then line breaks, then spaces.
func SplitText(text string, maxBytes int) []Segment {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return []Segment{{Start: 0, Text: text}}
	}

	var segments []Segment
	pos := 0
	for pos < len(text) {
		remaining := len(text) - pos
		if remaining <= maxBytes {
			segments = append(segments, Segment{Start: pos, Text: text[pos:]})
			break
		}

		cut := pos + splitPoint(text[pos:pos+maxBytes])
		cut = avoidOpenDelimiter(text, pos, cut)
		if cut <= pos {
			// No separator inside the window; take the whole window, backed
			// off any rune the boundary bisects and extended past any
			// delimiter it would have torn open.
			cut = runeAlign(text, pos+maxBytes)
			cut = extendPastDelimiter(text, pos, cut)
		}
		if cut <= pos {
			// maxBytes is smaller than the rune at pos; take that one rune
			// so the loop always advances.
			_, size := utf8.DecodeRuneInString(text[pos:])
			cut = pos + size
		}

		segments = append(segments, Segment{Start: pos, Text: text[pos:cut]})
		pos = cut
	}
	return segments
}

// splitPoint picks the best separator within the window, as an offset into it.
// Returns 0 when the window has none.
func splitPoint(window string) int {
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return idx + len(sep)
		}
	}
	return 0
}

// runeAlign moves cut left until it no longer bisects a multi-byte rune.
func runeAlign(s string, cut int) int {
	if cut >= len(s) {
		return len(s)
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

// avoidOpenDelimiter moves the cut before the last unmatched open delimiter,
// so a redacted span is never torn across two segments. Returns a value <=
// pos when backing off would produce an empty segment.
func avoidOpenDelimiter(text string, pos, cut int) int {
	seg := text[pos:cut]
	if strings.Count(seg, stage.OpenDelim) <= strings.Count(seg, stage.CloseDelim) {
		return cut
	}
	open := strings.LastIndex(seg, stage.OpenDelim)
	if open <= 0 {
		return pos
	}
	return pos + open
}

// extendPastDelimiter pushes the cut past the close of a span the window
// boundary landed inside, trading segment size for span integrity.
func extendPastDelimiter(text string, pos, cut int) int {
	seg := text[pos:cut]
	if strings.Count(seg, stage.OpenDelim) <= strings.Count(seg, stage.CloseDelim) {
		return cut
	}
	if rel := strings.Index(text[cut:], stage.CloseDelim); rel >= 0 {
		return cut + rel + len(stage.CloseDelim)
	}
	return len(text)
}
