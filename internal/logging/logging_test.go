package logging

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := New("debug", format)
		if err != nil {
			t.Fatalf("format %q: %v", format, err)
		}
		logger.Named("test").Debug("hello")
	}

	if _, err := New("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTailKeepsLastBytes(t *testing.T) {
	tail := NewTail(10)
	tail.Write([]byte("hello "))
	if tail.String() != "hello " {
		t.Fatalf("got %q", tail.String())
	}

	tail.Write([]byte("world, again"))
	got := tail.String()
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "rld, again") {
		t.Errorf("got %q", got)
	}
	if len(got) != 13 {
		t.Errorf("expected 10 kept bytes plus marker, got %d", len(got))
	}

	small := NewTail(8)
	small.Write([]byte("abcde"))
	small.Write([]byte("fghij"))
	if small.String() != "...cdefghij" {
		t.Errorf("got %q", small.String())
	}
}
