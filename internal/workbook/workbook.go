// Package workbook builds and mutates spreadsheet binaries. Workbooks are
// decoded from a downloaded blob, mutated in memory by an ordered list of
// operations, re-encoded, and discarded; nothing is held between requests.
package workbook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/docname"
	"github.com/ledgerworks/choubo/internal/locator"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/storage"
)

// Build creates a fresh workbook with one sheet per SheetData, writing each
// sheet's rows verbatim from A1, and returns the serialized binary.
func Build(sheets []models.SheetData) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, errors.New("at least one sheet is required")
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		name := sheet.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if name != "Sheet1" {
				if err := f.SetSheetName("Sheet1", name); err != nil {
					return nil, fmt.Errorf("rename first sheet to %q: %w", name, err)
				}
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return nil, fmt.Errorf("create sheet %q: %w", name, err)
			}
		}
		if err := writeRows(f, name, sheet.Rows); err != nil {
			return nil, err
		}
	}
	return encode(f)
}

// CreateFromOperations builds a fresh workbook by applying ops to an empty
// file. The codec's default "Sheet1" is dropped when no operation touched it
// and other sheets exist, so the result has exactly the sheets asked for.
func CreateFromOperations(ops []models.Operation) ([]byte, error) {
	if len(ops) == 0 {
		return nil, errors.New("at least one operation is required")
	}
	f := excelize.NewFile()
	defer f.Close()
	if err := Apply(f, ops); err != nil {
		return nil, err
	}
	touched := false
	for _, op := range ops {
		switch o := op.(type) {
		case models.CreateSheet:
			touched = touched || o.Sheet == "Sheet1"
		case models.WriteRows:
			touched = touched || o.Sheet == "Sheet1"
		case models.UpdateCells:
			touched = touched || o.Sheet == "Sheet1"
		case models.SetCell:
			touched = touched || o.Sheet == "Sheet1"
		}
	}
	if !touched && len(f.GetSheetList()) > 1 {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return nil, fmt.Errorf("drop default sheet: %w", err)
		}
	}
	return encode(f)
}

// Apply runs ops against f in order. Sheets named by an operation are
// created if absent, so later operations in the same call can target a
// sheet created earlier. Cell and range addressing errors come from the
// spreadsheet codec and are propagated unchanged.
func Apply(f *excelize.File, ops []models.Operation) error {
	for i, op := range ops {
		var err error
		switch o := op.(type) {
		case models.CreateSheet:
			err = ensureSheet(f, o.Sheet)
		case models.WriteRows:
			if err = ensureSheet(f, o.Sheet); err == nil {
				err = writeRows(f, o.Sheet, o.Rows)
			}
		case models.UpdateCells:
			if err = ensureSheet(f, o.Sheet); err == nil {
				err = writeRange(f, o.Sheet, o.Range, o.Values)
			}
		case models.SetCell:
			if err = ensureSheet(f, o.Sheet); err == nil {
				err = f.SetCellValue(o.Sheet, o.Cell, o.Value)
			}
		default:
			err = fmt.Errorf("unsupported operation type %T", op)
		}
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

// EditResult carries a mutated workbook together with the identity it was
// resolved to and the blob state it was read from, so the reconciler can
// perform a conditional write back.
type EditResult struct {
	Data     []byte
	Doc      *models.Document
	ReadPath string
	ReadEtag string
}

// Mutator performs the edit path: locate the record, download its binary,
// apply operations, re-encode.
type Mutator struct {
	locator *locator.Locator
	blobs   *storage.BlobStore
	logger  *zap.Logger
}

// NewMutator creates a Mutator.
func NewMutator(loc *locator.Locator, blobs *storage.BlobStore, logger *zap.Logger) *Mutator {
	return &Mutator{locator: loc, blobs: blobs, logger: logger}
}

// Edit resolves docID for userID, downloads the existing binary (falling
// back to the canonical path when the recorded path is stale), applies ops,
// and returns the re-encoded workbook. A file that cannot be found at either
// path fails with storage.ErrNotFound: editing a missing file is always an
// error, never an implicit create.
func (m *Mutator) Edit(ctx context.Context, userID, docID string, ops []models.Operation) (*EditResult, error) {
	doc, err := m.locator.Resolve(ctx, userID, docID)
	if err != nil {
		return nil, err
	}

	readPath := doc.StoragePath
	data, etag, err := m.blobs.Get(readPath)
	if errors.Is(err, storage.ErrNotFound) {
		canonical := docname.CanonicalPath(userID, doc.ID)
		if canonical != readPath {
			m.logger.Debug("recorded storage path is stale, trying canonical path",
				zap.String("recorded", readPath), zap.String("canonical", canonical))
			readPath = canonical
			data, etag, err = m.blobs.Get(readPath)
		}
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("spreadsheet %q has no content at %q or its canonical path: %w",
			doc.Name, doc.StoragePath, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download spreadsheet %q: %w", doc.Name, err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode spreadsheet %q: %w", doc.Name, err)
	}
	defer f.Close()

	if err := Apply(f, ops); err != nil {
		return nil, err
	}
	out, err := encode(f)
	if err != nil {
		return nil, err
	}
	return &EditResult{Data: out, Doc: doc, ReadPath: readPath, ReadEtag: etag}, nil
}

func ensureSheet(f *excelize.File, name string) error {
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx >= 0 {
		return nil
	}
	_, err = f.NewSheet(name)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write row %d of %q: %w", i+1, sheet, err)
		}
	}
	return nil
}

// writeRange writes a grid of values anchored at the top-left cell of an
// A1-style range ("A1:B2" or just "A1").
func writeRange(f *excelize.File, sheet, rangeRef string, values [][]any) error {
	start := rangeRef
	if i := strings.Index(rangeRef, ":"); i >= 0 {
		start = rangeRef[:i]
	}
	col, row, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return err
	}
	for r, rowVals := range values {
		for c, v := range rowVals {
			cell, err := excelize.CoordinatesToCellName(col+c, row+r)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func encode(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
