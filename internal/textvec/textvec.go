// Package textvec turns short event descriptors into bag-of-words vectors.
package textvec

import "strings"

// Tokenize lowercases text and splits it on whitespace. Empty tokens are dropped.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Vocabulary assigns dense indexes to tokens in first-seen order.
type Vocabulary struct {
	index map[string]int
	terms []string
}

func NewVocabulary() *Vocabulary {
	return &Vocabulary{index: map[string]int{}}
}

// BuildVocabulary feeds every document through Add in order.
func BuildVocabulary(docs [][]string) *Vocabulary {
	vocab := NewVocabulary()
	for _, tokens := range docs {
		vocab.Add(tokens)
	}
	return vocab
}

func (v *Vocabulary) Add(tokens []string) {
	for _, token := range tokens {
		if _, exists := v.index[token]; exists {
			continue
		}
		v.index[token] = len(v.terms)
		v.terms = append(v.terms, token)
	}
}

// Index returns the position of token, or -1 when it is not in the vocabulary.
func (v *Vocabulary) Index(token string) int {
	if v == nil {
		return -1
	}
	idx, ok := v.index[token]
	if !ok {
		return -1
	}
	return idx
}

func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Terms returns a copy of the vocabulary in index order.
func (v *Vocabulary) Terms() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

// Vectorize counts token occurrences. Tokens unknown to the vocabulary are ignored.
func Vectorize(vocab *Vocabulary, tokens []string) []float64 {
	vec := make([]float64, vocab.Len())
	for _, token := range tokens {
		if idx := vocab.Index(token); idx >= 0 {
			vec[idx]++
		}
	}
	return vec
}
