package domain

import (
	"encoding/json"
	"time"
)

// Envelope wraps every response of the upload API.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PresignResult is the payload of GET /upload/presign.
type PresignResult struct {
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
	Key       string `json:"key,omitempty"`
	ExpiresIn int64  `json:"expires_in,omitempty"` // seconds
}

// FileRecord is an upload as the server tracks it.
type FileRecord struct {
	ID         string     `json:"id" db:"id"`
	S3Key      string     `json:"s3_key" db:"s3_key"`
	Filename   string     `json:"filename,omitempty" db:"filename"`
	Size       int64      `json:"size,omitempty" db:"size"`
	ETag       string     `json:"etag,omitempty" db:"etag"`
	IsUploaded bool       `json:"is_uploaded" db:"is_uploaded"`
	CreatedAt  time.Time  `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty" db:"updated_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// RenameRequest is the body of PUT /file/{id}.
type RenameRequest struct {
	Filename string `json:"filename"`
}
