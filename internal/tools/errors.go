package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorKind classifies tool errors for programmatic clients.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindExternal   ErrorKind = "external"
	KindInternal   ErrorKind = "internal"
)

// toolError is the structured error payload surfaced to clients. It carries
// a machine-readable kind and a human-readable message, never internal paths
// or secrets.
type toolError struct {
	Error struct {
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
	} `json:"error"`
}

// errResult builds a structured tool error result.
func errResult(kind ErrorKind, format string, args ...interface{}) *mcp.CallToolResult {
	var payload toolError
	payload.Error.Kind = kind
	payload.Error.Message = fmt.Sprintf(format, args...)

	data, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(payload.Error.Message)
	}
	return mcp.NewToolResultError(string(data))
}

// okResult marshals a payload into a successful tool result.
func okResult(payload any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errResult(KindInternal, "cannot encode result: %v", err)
	}
	return mcp.NewToolResultText(string(data))
}
