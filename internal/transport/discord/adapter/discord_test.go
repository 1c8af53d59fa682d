package adapter

import (
	"strings"
	"testing"
)

func TestSplitDiscordTextShortPassthrough(t *testing.T) {
	t.Parallel()
	chunks := splitDiscordText("hello", 2000)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestSplitDiscordTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("line one\n", 5) + "tail"
	chunks := splitDiscordText(text, 30)
	for i, c := range chunks {
		if len(c) > 30 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(c))
		}
	}
	// Every chunk before the tail must end on a complete line.
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, "line one") {
			t.Fatalf("chunk %d split mid-line: %q", i, c)
		}
	}
	if last := chunks[len(chunks)-1]; !strings.HasSuffix(last, "tail") {
		t.Fatalf("tail lost, last chunk = %q", last)
	}
}

func TestSplitDiscordTextHardSplitWithoutNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 75)
	chunks := splitDiscordText(text, 30)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if len(c) > 30 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(c))
		}
		total += len(c)
	}
	if total != 75 {
		t.Fatalf("total = %d, want 75", total)
	}
}
