// Package models defines core data structures for documents, chat messages,
// ledger data, and spreadsheet operations.
package models

import "time"

// Document statuses as stored in metadata records.
const (
	StatusUploaded  = "uploaded"
	StatusProcessed = "processed"
)

// Document represents one logical uploaded file owned by a user, with its
// blob location and metadata. At most one live record should exist per
// canonical storage path per user; the locator's fallback search compensates
// for historical naming drift where that did not hold.
type Document struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"userId" db:"user_id"`
	Name        string    `json:"name" db:"name"`
	StoragePath string    `json:"storagePath" db:"storage_path"`
	DownloadURL string    `json:"downloadURL" db:"download_url"`
	ContentType string    `json:"contentType" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	Status      string    `json:"status" db:"status"`
	FolderID    string    `json:"folderId,omitempty" db:"folder_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// SheetData is one sheet's worth of rows for the workbook create path.
// Rows are written verbatim starting at A1.
type SheetData struct {
	Name string  `json:"sheetName"`
	Rows [][]any `json:"rows"`
}
