package model

import "time"

// Attachment is the metadata of one stored photo blob. The bytes live in a
// blob backend under BlobKey.
type Attachment struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	BlobKey     string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
