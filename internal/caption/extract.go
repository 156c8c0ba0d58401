package caption

import (
	"strings"
	"unicode/utf8"

	"github.com/nugget/moodcaption/internal/gemini"
)

// minCaptionRunes is the length a cleaned line must exceed to count as
// a caption rather than a stray fragment like "Hi" or "1.".
const minCaptionRunes = 5

// bulletQuote is the list-item artifact models emit when they ignore the
// "one caption only" instruction and answer with a quoted bullet list.
const bulletQuote = `*   "`

// Extract picks the caption out of a generateContent response. It walks
// candidates, then parts, then lines in order and returns the first line
// that qualifies (see [cleanLine]). ok is false when nothing qualifies.
//
// This is a text-scraping heuristic, not a parser: the model's output
// format is not contractually fixed, and Extract only knows the shapes
// seen in practice (markdown headings, bold lead-ins, quoted bullets).
func Extract(resp *gemini.Response) (caption string, ok bool) {
	if resp == nil {
		return "", false
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			for _, line := range splitLines(part.Text) {
				if c, ok := cleanLine(line); ok {
					return c, true
				}
			}
		}
	}
	return "", false
}

// splitLines splits text on newlines, trims each line and drops the
// empty ones. Order is preserved.
func splitLines(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// cleanLine rejects markdown headings and bold lead-ins, strips the
// bullet-quote artifact and every double quote, and accepts the result
// if it is longer than minCaptionRunes.
func cleanLine(line string) (string, bool) {
	if strings.HasPrefix(line, "**") || strings.HasPrefix(line, "#") {
		return "", false
	}
	c := strings.ReplaceAll(line, bulletQuote, "")
	c = strings.ReplaceAll(c, `"`, "")
	c = strings.TrimSpace(c)
	if utf8.RuneCountInString(c) <= minCaptionRunes {
		return "", false
	}
	return c, true
}
