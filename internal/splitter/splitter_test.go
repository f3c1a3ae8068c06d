package splitter

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitSmallFile(t *testing.T) {
	s := NewLineSplitter()
	content := "package main\n\nfunc main() {}\n"

	chunks := s.Split("main.go", content)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	c := chunks[0]
	if c.StartLine != 1 {
		t.Errorf("StartLine = %d, want 1", c.StartLine)
	}
	if c.Language != "go" {
		t.Errorf("Language = %q, want go", c.Language)
	}
}

func TestSplitWindowsAndOverlap(t *testing.T) {
	s := &LineSplitter{WindowLines: 10, OverlapLines: 2}

	var b strings.Builder
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	chunks := s.Split("notes.md", b.String())

	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want at least 3", len(chunks))
	}
	if chunks[0].StartLine != 1 || chunks[0].EndLine != 10 {
		t.Errorf("first chunk lines = %d-%d, want 1-10", chunks[0].StartLine, chunks[0].EndLine)
	}
	// each window starts overlap lines before the previous one ended
	if chunks[1].StartLine != 9 {
		t.Errorf("second chunk StartLine = %d, want 9", chunks[1].StartLine)
	}
	last := chunks[len(chunks)-1]
	if last.EndLine < 25 {
		t.Errorf("last chunk EndLine = %d, must cover the file end", last.EndLine)
	}
}

func TestSplitSkipsBlankContent(t *testing.T) {
	s := NewLineSplitter()
	if chunks := s.Split("empty.go", "\n\n\n"); len(chunks) != 0 {
		t.Errorf("blank file produced %d chunks", len(chunks))
	}
}

func TestLanguageForPath(t *testing.T) {
	cases := map[string]string{
		"a/b/server.go":  "go",
		"x.PY":           "python",
		"component.tsx":  "typescript",
		"Makefile":       "text",
		"script.unknown": "text",
	}
	for path, want := range cases {
		if got := LanguageForPath(path); got != want {
			t.Errorf("LanguageForPath(%q) = %q, want %q", path, got, want)
		}
	}
}
