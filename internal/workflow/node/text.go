package node

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TruncateByRunes 按字符数截断
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// TailByRunes 取末尾 maxRunes 个字符
func TailByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= maxRunes {
		return s
	}
	skip := total - maxRunes
	n := 0
	for i := range s {
		if n == skip {
			return s[i:]
		}
		n++
	}
	return ""
}

// LeadTailExcerpt 压缩为“开头 + 结尾”摘录，长度有界
func LeadTailExcerpt(s string, leadRunes, tailRunes int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= leadRunes+tailRunes {
		return s
	}
	lead := strings.TrimSpace(TruncateByRunes(s, leadRunes))
	tail := strings.TrimSpace(TailByRunes(s, tailRunes))
	return lead + " [...] " + tail
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	default:
		return false
	}
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')', '」', '』':
		return true
	default:
		return false
	}
}

// SplitSentences 按句末标点切分句子（保留标点，去除空句）
func SplitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isSentenceEnd(runes[end]) || isClosing(runes[end])) {
			end++
		}
		// 英文句点后需跟空白或文本结束，避免切开 "3.5" 之类
		if runes[i] == '.' && end < len(runes) && !unicode.IsSpace(runes[end]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FirstSentences 取前 n 句
func FirstSentences(text string, n int) string {
	sentences := SplitSentences(text)
	if n < len(sentences) {
		sentences = sentences[:n]
	}
	return strings.Join(sentences, " ")
}

// LastSentences 取后 n 句
func LastSentences(text string, n int) string {
	sentences := SplitSentences(text)
	if n < len(sentences) {
		sentences = sentences[len(sentences)-n:]
	}
	return strings.Join(sentences, " ")
}

// CountWords 按空白切分计数
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// AverageWordsPerSentence 平均句长（词），空文本返回 0
func AverageWordsPerSentence(text string) float64 {
	words := CountWords(text)
	if words == 0 {
		return 0
	}
	sentences := len(SplitSentences(text))
	if sentences == 0 {
		sentences = 1
	}
	return float64(words) / float64(sentences)
}
