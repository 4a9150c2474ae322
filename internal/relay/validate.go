package relay

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"docrelay/internal/models"
)

const docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// acceptedTypes maps the accepted MIME types to their file extension.
var acceptedTypes = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	docxType:             ".docx",
	"text/plain":         ".txt",
}

// genericTypes carry no format information, so the extension decides.
var genericTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
	"application/zip":          true,
}

// Validate checks the declared file against the accepted types and maxBytes.
func Validate(file models.FileInfo, maxBytes int64) error {
	if strings.TrimSpace(file.Name) == "" {
		return validationError(http.StatusBadRequest, "No file uploaded")
	}
	if !Accepted(file) {
		return validationError(http.StatusUnsupportedMediaType,
			"Unsupported file type %q. Please upload a PDF, DOC, DOCX or TXT file.", file.Name)
	}
	if maxBytes > 0 && file.Size > maxBytes {
		return &Error{
			Kind:    KindOversize,
			Message: fmt.Sprintf("File is too large (%s). Maximum size is %s.", FormatMB(file.Size), FormatLimit(maxBytes)),
		}
	}
	return nil
}

// Accepted reports whether the declared type (or, for generic types, the
// extension) is one of PDF, DOC, DOCX or TXT.
func Accepted(file models.FileInfo) bool {
	mediaType := normalizeType(file.MimeType)
	ext := strings.ToLower(filepath.Ext(file.Name))
	if genericTypes[mediaType] {
		for _, accepted := range acceptedTypes {
			if accepted == ext {
				return true
			}
		}
		return false
	}
	_, ok := acceptedTypes[mediaType]
	return ok
}

// DeclaredType returns the MIME type sent upstream, inferring it from the
// extension when the browser supplied a generic one.
func DeclaredType(file models.FileInfo) string {
	mediaType := normalizeType(file.MimeType)
	if !genericTypes[mediaType] {
		return file.MimeType
	}
	ext := strings.ToLower(filepath.Ext(file.Name))
	for t, accepted := range acceptedTypes {
		if accepted == ext {
			return t
		}
	}
	return "application/pdf"
}

// FormatMB renders a byte count as megabytes with two decimals, e.g. "12.34MB".
func FormatMB(size int64) string {
	return fmt.Sprintf("%.2fMB", float64(size)/(1<<20))
}

// FormatLimit renders a ceiling as whole megabytes, e.g. "10MB".
func FormatLimit(limit int64) string {
	if limit%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", limit>>20)
	}
	return FormatMB(limit)
}

func normalizeType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(mediaType)
}
