// Package reconcile performs the durable writes of the spreadsheet pipeline:
// blob upload plus metadata upsert, keeping the two eventually consistent.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/auth"
	"github.com/ledgerworks/choubo/internal/docname"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/storage"
	"github.com/ledgerworks/choubo/internal/workbook"
)

// XLSXContentType is the content type recorded for workbook binaries.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrBadFileName is returned for file names that could address storage
// outside the owning user's prefix.
var ErrBadFileName = errors.New("invalid file name")

// checkFileName rejects names carrying path separators or dot-dot segments
// before they can reach a path join. Names come from uploads and from model
// tool calls, so this is an untrusted boundary.
func checkFileName(name string) error {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	return nil
}

// Reconciler is the only component that performs durable writes. It is
// idempotent under retry: the same buffer and identity produce the same
// blob and metadata, modulo timestamps and token freshness.
type Reconciler struct {
	store  storage.Store
	blobs  *storage.BlobStore
	tokens *auth.Service
	logger *zap.Logger
}

// New creates a Reconciler.
func New(store storage.Store, blobs *storage.BlobStore, tokens *auth.Service, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, blobs: blobs, tokens: tokens, logger: logger}
}

// SaveNew persists a freshly built workbook under a newly computed canonical
// path and upserts its metadata record. Creating the same file name twice
// targets the same document id, so re-creates update rather than duplicate.
func (r *Reconciler) SaveNew(ctx context.Context, userID, fileName string, data []byte) (*models.Document, error) {
	if err := checkFileName(fileName); err != nil {
		return nil, err
	}
	id := docname.DocumentID(fileName)
	path := docname.CanonicalPath(userID, id)

	if _, err := r.blobs.Put(path, data); err != nil {
		return nil, fmt.Errorf("upload workbook to %s: %w", path, err)
	}
	doc := &models.Document{
		ID:          id,
		UserID:      userID,
		Name:        id,
		StoragePath: path,
		ContentType: XLSXContentType,
		Size:        int64(len(data)),
		Status:      models.StatusProcessed,
	}
	if err := r.upsert(ctx, doc); err != nil {
		return nil, err
	}
	r.logger.Info("created spreadsheet",
		zap.String("user_id", userID), zap.String("id", id), zap.Int64("size", doc.Size))
	return doc, nil
}

// SaveUpload persists a user-uploaded file of any supported format. The
// document id keeps the file's own extension; timestamp suffixes are still
// stripped so re-uploads of the same logical file land on the same record.
func (r *Reconciler) SaveUpload(ctx context.Context, userID, fileName, contentType string, data []byte) (*models.Document, error) {
	if err := checkFileName(fileName); err != nil {
		return nil, err
	}
	ext := filepath.Ext(fileName)
	base, _ := docname.BaseName(strings.TrimSuffix(fileName, ext))
	id := base + strings.ToLower(ext)
	path := "users/" + userID + "/" + id

	if _, err := r.blobs.Put(path, data); err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	doc := &models.Document{
		ID:          id,
		UserID:      userID,
		Name:        id,
		StoragePath: path,
		ContentType: contentType,
		Size:        int64(len(data)),
		Status:      models.StatusUploaded,
	}
	if err := r.upsert(ctx, doc); err != nil {
		return nil, err
	}
	r.logger.Info("stored upload",
		zap.String("user_id", userID), zap.String("id", id), zap.Int64("size", doc.Size))
	return doc, nil
}

// SaveExisting writes a mutated workbook back to the document's original
// recorded path, preserving the path so previously issued download links
// stay valid, then upserts the metadata record. When the buffer was read
// from that same path, the write is conditional on the etag observed at
// read time; a concurrent modification fails with storage.ErrEtagMismatch
// instead of silently losing the other writer's update.
func (r *Reconciler) SaveExisting(ctx context.Context, res *workbook.EditResult) (*models.Document, error) {
	doc := res.Doc
	writePath := doc.StoragePath

	var err error
	if res.ReadPath == writePath {
		_, err = r.blobs.PutIfMatch(writePath, res.Data, res.ReadEtag)
	} else {
		// The binary was recovered from the canonical path; the recorded
		// path has no blob to compare against, so recreate it there.
		_, err = r.blobs.Put(writePath, res.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("upload workbook to %s: %w", writePath, err)
	}

	doc.ContentType = XLSXContentType
	doc.Size = int64(len(res.Data))
	doc.Status = models.StatusProcessed
	if err := r.upsert(ctx, doc); err != nil {
		return nil, err
	}
	r.logger.Info("updated spreadsheet",
		zap.String("user_id", doc.UserID), zap.String("id", doc.ID), zap.Int64("size", doc.Size))
	return doc, nil
}

// upsert refreshes the download URL and merges the metadata record.
func (r *Reconciler) upsert(ctx context.Context, doc *models.Document) error {
	downloadURL, err := r.tokens.DownloadURL(doc.StoragePath)
	if err != nil {
		return err
	}
	doc.DownloadURL = downloadURL
	if err := r.store.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert metadata for %s: %w", doc.ID, err)
	}
	return nil
}
