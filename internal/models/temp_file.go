package models

import "time"

// TempFile is the proxy's on-disk copy of an upload while it is being relayed.
type TempFile struct {
	Path      string    `json:"path"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
