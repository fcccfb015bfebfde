package llm

import "unicode/utf8"

// charsPerToken is the rough ratio used when a backend has no tokenizer endpoint
const charsPerToken = 4

// EstimateTokens approximates the token count of text
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateMessagesTokens approximates the token count of a conversation
func EstimateMessagesTokens(contents ...string) int {
	total := 0
	for _, c := range contents {
		total += EstimateTokens(c)
	}
	return total
}
