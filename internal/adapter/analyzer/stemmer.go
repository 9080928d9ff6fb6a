package analyzer

import (
	"github.com/kljensen/snowball/english"
)

// Stemmer reduces English words to their Snowball (Porter2) stem.
type Stemmer struct{}

func NewStemmer() *Stemmer {
	return &Stemmer{}
}

// Stem returns the stem of a lower-cased word. Words shorter than three
// runes are returned unchanged.
func (s *Stemmer) Stem(word string) string {
	if len([]rune(word)) < 3 {
		return word
	}
	return english.Stem(word, false)
}
