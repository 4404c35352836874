package service

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkConfig controls how source text is cut into summary and detail
// chunks.
type ChunkConfig struct {
	SentencesPerSummary int
	MinSentenceRunes    int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		SentencesPerSummary: 3,
		MinSentenceRunes:    10,
	}
}

// PlannedSummary is one SUMMARY chunk and the DETAIL sentences under it.
type PlannedSummary struct {
	Content string
	Details []string
}

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	inlineSpace    = regexp.MustCompile(`[ \t\f\v]+`)
)

// PlanChunks splits text into paragraphs, paragraphs into sentences, and
// groups sentences into summaries. The summaries cover the whole text. A
// summary with a single sentence gets no details, since the detail would
// duplicate it.
func PlanChunks(text string, cfg ChunkConfig) []PlannedSummary {
	if cfg.SentencesPerSummary <= 0 {
		cfg = DefaultChunkConfig()
	}

	var plan []PlannedSummary
	for _, para := range splitParagraphs(text) {
		sentences := mergeShortSentences(splitSentences(para), cfg.MinSentenceRunes)
		for _, group := range groupSentences(sentences, cfg.SentencesPerSummary) {
			ps := PlannedSummary{Content: strings.Join(group, " ")}
			if len(group) > 1 {
				ps.Details = append(ps.Details, group...)
			}
			plan = append(plan, ps)
		}
	}
	return plan
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return inlineSpace.ReplaceAllString(text, " ")
}

func splitParagraphs(text string) []string {
	parts := paragraphBreak.Split(cleanText(text), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// splitSentences ends a sentence at terminal punctuation followed by
// whitespace or end of text, and at line breaks. A period inside a number
// such as 1.05 does not end a sentence.
func splitSentences(paragraph string) []string {
	runes := []rune(paragraph)
	var out []string
	start := 0

	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			emit(i)
			continue
		}
		if !isTerminal(r) {
			continue
		}
		j := i + 1
		for j < len(runes) && isTerminal(runes[j]) {
			j++
		}
		if j == len(runes) || unicode.IsSpace(runes[j]) || r == '。' {
			emit(j)
			i = j - 1
		}
	}
	emit(len(runes))
	return out
}

// mergeShortSentences folds fragments shorter than minRunes into the
// following sentence, or the previous one when the fragment is last.
func mergeShortSentences(sentences []string, minRunes int) []string {
	if minRunes <= 0 || len(sentences) < 2 {
		return sentences
	}

	out := make([]string, 0, len(sentences))
	pending := ""
	for _, s := range sentences {
		if pending != "" {
			s = pending + " " + s
			pending = ""
		}
		if utf8.RuneCountInString(s) < minRunes {
			pending = s
			continue
		}
		out = append(out, s)
	}
	if pending != "" {
		if len(out) == 0 {
			return []string{pending}
		}
		out[len(out)-1] += " " + pending
	}
	return out
}

// groupSentences cuts every size sentences. A trailing single sentence
// joins the previous group instead of standing alone.
func groupSentences(sentences []string, size int) [][]string {
	var groups [][]string
	for i := 0; i < len(sentences); i += size {
		end := i + size
		if end > len(sentences) {
			end = len(sentences)
		}
		groups = append(groups, sentences[i:end])
	}
	if n := len(groups); n > 1 && len(groups[n-1]) == 1 {
		merged := append(append([]string{}, groups[n-2]...), groups[n-1]...)
		groups = append(groups[:n-2], merged)
	}
	return groups
}
