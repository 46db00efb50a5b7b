package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer splits text into lower-cased terms with stopword removal.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLen    int
}

// NewTokenizer creates a new Tokenizer. Words shorter than minLen are dropped.
func NewTokenizer(minLen int) *Tokenizer {
	return &Tokenizer{
		stopwords: stopwords,
		minLen:    minLen,
	}
}

// Tokenize splits text into terms for embedding.
func (t *Tokenizer) Tokenize(text string) []string {
	words := Words(text)
	tokens := words[:0]

	for _, word := range words {
		if len([]rune(word)) < t.minLen {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

var stopwords = defaultStopwords()

// IsStopword reports whether the lower-cased word is a common English
// stopword.
func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

// Words returns every lower-cased word of text, keeping stopwords.
func Words(text string) []string {
	words := splitWords(text)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// Normalize lower-cases text, collapses runs of whitespace and trims
// surrounding punctuation, so "  Who is  Ravi? " becomes "who is ravi".
func Normalize(text string) string {
	text = strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "which", "me", "my",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"about", "tell", "please", "some", "than", "too", "very", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
