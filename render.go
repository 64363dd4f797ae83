package chatclient

import (
	"strings"
	"unicode/utf8"
)

// Segment is a run of display text. Bold runs come from **...** markers in
// message text.
type Segment struct {
	Text string
	Bold bool
}

// RenderSegments splits message text into display segments, interpreting
// markdown-style **bold** markers. Unterminated markers are rendered
// literally. Pure formatting, no state.
func RenderSegments(text string) []Segment {
	var segments []Segment
	for text != "" {
		start := strings.Index(text, "**")
		if start < 0 {
			segments = append(segments, Segment{Text: text})
			break
		}
		end := strings.Index(text[start+2:], "**")
		if end < 0 {
			segments = append(segments, Segment{Text: text})
			break
		}
		if start > 0 {
			segments = append(segments, Segment{Text: text[:start]})
		}
		bold := text[start+2 : start+2+end]
		if bold != "" {
			segments = append(segments, Segment{Text: bold, Bold: true})
		}
		text = text[start+2+end+2:]
	}
	return segments
}

// WrapText soft-wraps text at word boundaries so that no line exceeds the
// column budget, measured in runes so multi-byte scripts fill the line.
// Words longer than the budget are emitted on their own line unbroken.
// Existing newlines are preserved.
func WrapText(text string, columns int) []string {
	if columns <= 0 {
		return strings.Split(text, "\n")
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		current := words[0]
		width := utf8.RuneCountInString(current)
		for _, word := range words[1:] {
			wordWidth := utf8.RuneCountInString(word)
			if width+1+wordWidth > columns {
				lines = append(lines, current)
				current = word
				width = wordWidth
				continue
			}
			current += " " + word
			width += 1 + wordWidth
		}
		lines = append(lines, current)
	}
	return lines
}
