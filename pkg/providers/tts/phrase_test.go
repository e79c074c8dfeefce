package tts

import (
	"strings"
	"testing"
)

func TestSplitIntoPhrasesEmpty(t *testing.T) {
	if got := SplitIntoPhrases(""); len(got) != 0 {
		t.Fatalf("expected no phrases, got %v", got)
	}
	if got := SplitIntoPhrases("   \n\t  "); len(got) != 0 {
		t.Fatalf("expected no phrases for whitespace-only input, got %v", got)
	}
}

func TestSplitIntoPhrasesShort(t *testing.T) {
	got := SplitIntoPhrases("Hello world.")
	if len(got) != 1 || got[0] != "Hello world." {
		t.Fatalf("expected single unsplit phrase, got %v", got)
	}
}

func TestSplitIntoPhrasesMultiple(t *testing.T) {
	text := "This is the first sentence of a longer response. " +
		"Here comes the second sentence, which is also fairly long. " +
		"And finally the third sentence wraps things up nicely."
	got := SplitIntoPhrases(text)
	if len(got) < 2 {
		t.Fatalf("expected at least 2 phrases, got %d: %v", len(got), got)
	}
}

func TestSplitIntoPhrasesPreservesContent(t *testing.T) {
	text := "This is the first sentence of a longer response. " +
		"Here comes the second sentence, which is also fairly long. " +
		"And finally the third sentence wraps things up nicely."
	got := SplitIntoPhrases(text)
	joined := strings.Join(got, " ")
	for _, word := range []string{"first", "second", "third"} {
		if !strings.Contains(joined, word) {
			t.Errorf("expected joined phrases to contain %q, got %q", word, joined)
		}
	}
}

func TestSplitIntoPhrasesMergesShortRemainder(t *testing.T) {
	text := "This is a reasonably long opening sentence that exceeds eighty characters in length. Ok."
	got := SplitIntoPhrases(text)
	if len(got) == 0 {
		t.Fatal("expected at least one phrase")
	}
	last := got[len(got)-1]
	if !strings.Contains(last, "Ok.") {
		t.Fatalf("expected short remainder merged into last phrase, got %v", got)
	}
}
