package usecase

import "unicode/utf8"

// SplitText splits text into consecutive chunks of at most maxLen code points.
// Chunk boundaries always fall between runes, so every chunk is valid UTF-8 when
// the input is, and joining the chunks yields text unchanged. Empty text yields
// no chunks. A non-positive maxLen disables splitting.
func SplitText(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		return []string{text}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/maxLen+1)
	start, runes := 0, 0
	for i := range text {
		if runes == maxLen {
			chunks = append(chunks, text[start:i])
			start, runes = i, 0
		}
		runes++
	}
	return append(chunks, text[start:])
}
