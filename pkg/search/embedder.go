package search

import "strings"

// tokenize splits text into lowercase whitespace-delimited terms and maps
// each to a bounded vocabulary id by hashing — good enough for a local
// sentence-embedding model's input_ids without shipping a real
// tokenizer/vocab file.
func tokenize(text string, maxTokens, vocabSize int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := strings.Fields(strings.ToLower(text))
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	for i := 0; i < maxTokens; i++ {
		if i >= len(words) {
			break
		}
		inputIDs[i] = int64(hashToken(words[i])%uint32(vocabSize)) + 1
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

func hashToken(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
