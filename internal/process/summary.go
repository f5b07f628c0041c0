package process

import (
	"regexp"
	"sort"
	"strings"
)

var sentenceSplitRe = regexp.MustCompile(`[.!?]+`)

// summarize produces an extractive summary: sentences are scored by the
// average frequency of their words, early sentences get a small bonus,
// and the best ones are concatenated up to maxLen characters.
func summarize(text string, maxLen int) string {
	text = normalizeText(text)
	if text == "" || len(text) <= maxLen {
		return text
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) == 1 {
		return truncate(sentences[0], maxLen)
	}

	scores := scoreSentences(sentences)
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var b strings.Builder
	for _, idx := range order {
		s := sentences[idx]
		if b.Len()+len(s)+1 > maxLen {
			continue
		}
		b.WriteString(s)
		b.WriteString(" ")
	}
	if b.Len() == 0 {
		return truncate(sentences[order[0]], maxLen)
	}
	return strings.TrimSpace(b.String())
}

func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func scoreSentences(sentences []string) []float64 {
	freq := make(map[string]int)
	tokenized := make([][]string, len(sentences))
	for i, s := range sentences {
		words := contentWords(s)
		tokenized[i] = words
		for _, w := range words {
			freq[w]++
		}
	}

	scores := make([]float64, len(sentences))
	for i, words := range tokenized {
		if len(words) == 0 {
			continue
		}
		total := 0
		for _, w := range words {
			total += freq[w]
		}
		score := float64(total) / float64(len(words))
		if i < 3 {
			score *= 1.2
		}
		scores[i] = score
	}
	return scores
}

func contentWords(s string) []string {
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if !isStopword(w) {
			out = append(out, w)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
