package models

// Span is a half-open [Start, End) byte range into a text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes the span covers.
func (s Span) Len() int { return s.End - s.Start }

// Shift returns the span offset by n bytes.
func (s Span) Shift(n int) Span { return Span{Start: s.Start + n, End: s.End + n} }

// WellFormed reports whether the span is non-negative and ordered.
func (s Span) WellFormed() bool { return s.Start >= 0 && s.Start <= s.End }

// Annotation links a span in the original text to its counterpart in the
// redacted text. Valid=false marks a span whose delimiter pairing could not
// be resolved; such annotations are surfaced to the caller, never dropped.
type Annotation struct {
	OriginalSpan Span   `json:"originalSpan"`
	RedactedSpan Span   `json:"redactedSpan"`
	Valid        bool   `json:"valid"`
	OpenDelim    string `json:"openDelim,omitempty"`
	CloseDelim   string `json:"closeDelim,omitempty"`
}

// Shift returns the annotation with both spans offset by the given amounts.
func (a Annotation) Shift(origOffset, redactedOffset int) Annotation {
	a.OriginalSpan = a.OriginalSpan.Shift(origOffset)
	a.RedactedSpan = a.RedactedSpan.Shift(redactedOffset)
	return a
}

// RedactedDocument is the output of a redaction pipeline: the original text,
// its redacted form, and the span correspondence between the two.
type RedactedDocument struct {
	Original    string       `json:"original"`
	Redacted    string       `json:"redacted"`
	Annotations []Annotation `json:"annotations"`
}

// ValidRatio is the fraction of annotations whose delimiter pairing resolved.
// Returns 1 for a document with no annotations.
func (d RedactedDocument) ValidRatio() float64 {
	if len(d.Annotations) == 0 {
		return 1
	}
	valid := 0
	for _, a := range d.Annotations {
		if a.Valid {
			valid++
		}
	}
	return float64(valid) / float64(len(d.Annotations))
}
