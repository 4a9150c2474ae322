package models

import (
	"io"
	"time"
)

// FileInfo describes the attached document as the browser declared it.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// UploadJob is one submission. Body is consumed once by the relay.
type UploadJob struct {
	File      FileInfo  `json:"file"`
	Prompt    string    `json:"prompt"`
	StartedAt time.Time `json:"started_at"`

	Body io.Reader `json:"-"`
}
