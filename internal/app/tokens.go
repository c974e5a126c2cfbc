package app

import "unicode/utf8"

// EstimateTokens guesses the token count of a piece of text. The server
// owns the real tokenizer; this feeds the composer hint and the context
// gauge, so it leans high rather than low.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// BPE vocabularies land around 3-4 bytes per token for English-ish
	// text. bytes/3 over-counts slightly; runes/2 guards CJK and emoji
	// where bytes per rune run high but tokens per rune do not.
	byBytes := len(text) / 3
	byRunes := utf8.RuneCountInString(text) / 2
	if byRunes > byBytes {
		return byRunes
	}
	return byBytes
}

// EstimateTranscriptTokens sums the estimate over a transcript with a
// small per-entry overhead for role framing.
func EstimateTranscriptTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
