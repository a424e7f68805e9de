// Package storage defines the persistence interfaces for document metadata,
// chat messages, ledger data, and binary blobs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerworks/choubo/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrEtagMismatch is returned by conditional blob writes when the blob
// changed since it was read.
var ErrEtagMismatch = errors.New("blob modified since read")

// Store defines metadata persistence operations. All durable state other
// than blob bytes lives behind this interface.
type Store interface {
	// Document metadata
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, userID, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, userID, id string) error
	ListDocuments(ctx context.Context, userID string, offset, limit int) ([]*models.Document, error)
	FindDocumentsByNamePrefix(ctx context.Context, userID, base string) ([]*models.Document, error)
	FindDocumentByStoragePath(ctx context.Context, storagePath string) (*models.Document, error)
	TouchDocumentBlob(ctx context.Context, storagePath string, size int64, updatedAt time.Time) error

	// Chat messages (append-only)
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, chatID string, limit int) ([]*models.Message, error)

	// Ledger data
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	ListRecentTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	UpsertLedgerCode(ctx context.Context, code *models.LedgerCode) error
	ListLedgerCodes(ctx context.Context) ([]*models.LedgerCode, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)

	Close() error
}
