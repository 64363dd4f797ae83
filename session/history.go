package session

// EstimateTokens estimates the token count for a given text using a
// Unicode-aware heuristic. ASCII characters (English, numbers,
// punctuation) are weighted at ~4 per token; non-ASCII characters (CJK,
// Cyrillic, Arabic, Emoji, etc.) at ~1 per token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		switch {
		case r <= 127:
			weight += 1 // ~4 ASCII chars = 1 token
		default:
			weight += 4 // ~1 non-ASCII char = 1 token (conservative)
		}
	}
	return (weight + 3) / 4
}

// TruncateHistory bounds a transcript for the persisted snapshot cache.
// It applies the message limit first, then the token limit, removing the
// oldest messages as needed; the most recent messages are preserved.
func TruncateHistory(history []Message, tokenLimit, messageLimit int) []Message {
	if len(history) == 0 {
		return history
	}

	if messageLimit > 0 && len(history) > messageLimit {
		history = history[len(history)-messageLimit:]
	}

	if tokenLimit <= 0 {
		return history
	}

	totalTokens := 0
	for _, msg := range history {
		totalTokens += EstimateTokens(msg.Text)
	}

	for totalTokens > tokenLimit && len(history) > 0 {
		totalTokens -= EstimateTokens(history[0].Text)
		history = history[1:]
	}

	return history
}
