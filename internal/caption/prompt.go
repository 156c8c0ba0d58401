package caption

import "fmt"

// BuildPrompt returns the single instruction sent upstream. The wording
// pushes the model toward one bare line; Extract copes when it doesn't
// comply.
func BuildPrompt(description, mood string) string {
	return fmt.Sprintf(
		"Generate ONE short Instagram caption for: '%s'. Mood: %s. "+
			"Return ONLY the caption text, nothing else. No intro, no bullet points, just one caption.",
		description, mood,
	)
}
