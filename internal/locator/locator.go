// Package locator resolves a requested document id to its persisted metadata
// record, tolerating the timestamp-suffix naming drift of re-saved files.
package locator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/docname"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/storage"
)

// DocumentFinder is the slice of the metadata store the locator needs.
type DocumentFinder interface {
	GetDocument(ctx context.Context, userID, id string) (*models.Document, error)
	FindDocumentsByNamePrefix(ctx context.Context, userID, base string) ([]*models.Document, error)
}

// Locator finds the document record a chat edit should target.
type Locator struct {
	store  DocumentFinder
	logger *zap.Logger
}

// New creates a Locator.
func New(store DocumentFinder, logger *zap.Logger) *Locator {
	return &Locator{store: store, logger: logger}
}

// Resolve returns the record for docID. An exact-id hit is returned as-is;
// otherwise the id's base name drives a prefix range query over stored
// names, the loose tail of the range is filtered to exact base-name matches,
// and the most recently updated match wins. Two different user-facing names
// of the same logical file ("report.xlsx", "report_1699999999999.xlsx")
// resolve to one record. Returns storage.ErrNotFound when neither path
// succeeds.
func (l *Locator) Resolve(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := l.store.GetDocument(ctx, userID, docID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup document %s: %w", docID, err)
	}

	base, _ := docname.BaseName(docID)
	l.logger.Debug("document id not found verbatim, trying base name",
		zap.String("id", docID), zap.String("base", base))

	candidates, err := l.store.FindDocumentsByNamePrefix(ctx, userID, base)
	if err != nil {
		return nil, fmt.Errorf("search documents by base name %q: %w", base, err)
	}

	var best *models.Document
	for _, cand := range candidates {
		// The range scan also returns names that merely start with the
		// base ("reporting-notes"); keep only exact base-name matches.
		candBase, _ := docname.BaseName(cand.Name)
		if candBase != base {
			continue
		}
		if best == nil || cand.UpdatedAt.After(best.UpdatedAt) {
			best = cand
		}
	}
	if best == nil {
		return nil, fmt.Errorf("document %s (base %q): %w", docID, base, storage.ErrNotFound)
	}
	if len(candidates) > 1 {
		l.logger.Debug("base name matched multiple records, using most recent",
			zap.String("base", base), zap.Int("candidates", len(candidates)),
			zap.String("chosen", best.ID))
	}
	return best, nil
}
