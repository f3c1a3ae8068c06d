// Package splitter turns source files into chunks for embedding. The AST
// splitter is an external collaborator; LineSplitter is the built-in default
// used when none is plugged in.
package splitter

import (
	"path/filepath"
	"strings"
)

// Chunk is one piece of a source file.
type Chunk struct {
	Content   string
	StartLine int // 1-based, inclusive
	EndLine   int // inclusive
	Language  string
}

// Splitter splits a file's content into chunks.
type Splitter interface {
	Split(relativePath, content string) []Chunk
}

// LineSplitter chunks files into fixed line windows with overlap. It is
// language-agnostic beyond extension tagging.
type LineSplitter struct {
	WindowLines  int
	OverlapLines int
}

// NewLineSplitter returns a splitter with the default window geometry.
func NewLineSplitter() *LineSplitter {
	return &LineSplitter{WindowLines: 100, OverlapLines: 20}
}

// Split implements Splitter.
func (s *LineSplitter) Split(relativePath, content string) []Chunk {
	window := s.WindowLines
	if window <= 0 {
		window = 100
	}
	overlap := s.OverlapLines
	if overlap < 0 || overlap >= window {
		overlap = 0
	}

	lang := LanguageForPath(relativePath)
	lines := strings.Split(content, "\n")

	var chunks []Chunk
	for start := 0; start < len(lines); start += window - overlap {
		end := start + window
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
				Language:  lang,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}

// languageByExtension maps file extensions to language tags attached to
// chunk metadata.
var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".rs":    "rust",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".proto": "protobuf",
	".tf":    "terraform",
	".lua":   "lua",
	".zig":   "zig",
	".ex":    "elixir",
	".exs":   "elixir",
	".erl":   "erlang",
	".hs":    "haskell",
	".ml":    "ocaml",
	".vue":   "vue",
	".css":   "css",
	".html":  "html",
}

// LanguageForPath returns the language tag for a file path, or "text".
func LanguageForPath(path string) string {
	if lang, ok := languageByExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "text"
}

// DefaultExtensions is the file set indexed when the caller does not narrow
// it with customExtensions.
func DefaultExtensions() []string {
	out := make([]string, 0, len(languageByExtension))
	for ext := range languageByExtension {
		out = append(out, ext)
	}
	return out
}
