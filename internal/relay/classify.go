package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"docrelay/internal/models"
)

// IsBinary reports whether a response content type carries a document
// rather than text.
func IsBinary(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/pdf") || strings.Contains(ct, "octet-stream")
}

// Classify reads a successful webhook response into a RelayResult.
func Classify(contentType string, body io.Reader, originalName string) (*models.RelayResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	if IsBinary(contentType) {
		if contentType == "" {
			contentType = "application/pdf"
		}
		return models.BinaryResult(data, SuggestedFilename(originalName), contentType), nil
	}
	content, parsed := FormatText(data)
	return models.TextResult(content, parsed), nil
}

// SuggestedFilename replaces a trailing ".pdf" (any case) with "_processed.pdf".
// Names without that suffix are returned unchanged.
func SuggestedFilename(name string) string {
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".pdf") {
		return name[:len(name)-4] + "_processed.pdf"
	}
	return name
}

// FormatText re-indents JSON objects and arrays with two spaces, keeping key
// order. Anything else, including bare JSON scalars, is returned verbatim.
func FormatText(data []byte) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return string(data), false
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return string(data), false
	}
	return out.String(), true
}
