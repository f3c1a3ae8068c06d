package search

import (
	"os"
	"path/filepath"
	"strings"
)

// readSnippet returns lines [startLine, endLine] (1-based, inclusive) of the
// file at root/relPath, or "" when the file cannot be read or the range is
// stale.
func readSnippet(root, relPath string, startLine, endLine int) string {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")

	if startLine < 1 || startLine > len(lines) || endLine < startLine {
		return ""
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	return strings.Join(lines[startLine-1:endLine], "\n")
}
