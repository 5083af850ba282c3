package textvec

import (
	"reflect"
	"testing"
)

func TestTokenize_LowercasesAndDropsEmpty(t *testing.T) {
	t.Parallel()

	got := Tokenize("  AI   Tech\tMeetup \n")
	want := []string{"ai", "tech", "meetup"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected tokens: got %v want %v", got, want)
	}
	if tokens := Tokenize("   "); len(tokens) != 0 {
		t.Fatalf("expected no tokens for blank text, got %v", tokens)
	}
}

func TestBuildVocabulary_InsertionOrder(t *testing.T) {
	t.Parallel()

	vocab := BuildVocabulary([][]string{
		{"ai", "tech"},
		{"football"},
		{},
		{"tech", "ai"},
	})

	want := []string{"ai", "tech", "football"}
	if got := vocab.Terms(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected vocabulary: got %v want %v", got, want)
	}
	if idx := vocab.Index("football"); idx != 2 {
		t.Fatalf("unexpected football index: got %d want 2", idx)
	}
	if idx := vocab.Index("music"); idx != -1 {
		t.Fatalf("expected unknown token index -1, got %d", idx)
	}
}

func TestVectorize_CountsTermFrequency(t *testing.T) {
	t.Parallel()

	vocab := BuildVocabulary([][]string{{"ai", "tech", "football"}})
	got := Vectorize(vocab, []string{"tech", "ai", "tech", "unknown"})
	want := []float64{1, 2, 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected vector: got %v want %v", got, want)
	}
}
