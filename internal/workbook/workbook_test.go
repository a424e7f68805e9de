package workbook

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/locator"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/storage"
)

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestBuild(t *testing.T) {
	data, err := Build([]models.SheetData{
		{Name: "Summary", Rows: [][]any{{"Account", "Amount"}, {"6100", 250.5}}},
		{Name: "Detail", Rows: [][]any{{"x"}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	f := openWorkbook(t, data)
	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "Summary" || sheets[1] != "Detail" {
		t.Errorf("sheets = %v", sheets)
	}
	rows, err := f.GetRows("Summary")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][0] != "Account" || rows[1][1] != "250.5" {
		t.Errorf("rows = %v", rows)
	}
}

func TestBuild_noSheets(t *testing.T) {
	if _, err := Build(nil); err == nil {
		t.Fatal("expected error for empty sheet list")
	}
}

func TestCreateFromOperations_dropsUntouchedDefaultSheet(t *testing.T) {
	data, err := CreateFromOperations([]models.Operation{
		models.WriteRows{Sheet: "Invoices", Rows: [][]any{{"No", "Total"}}},
		models.SetCell{Sheet: "Invoices", Cell: "B2", Value: 99},
	})
	if err != nil {
		t.Fatal(err)
	}

	f := openWorkbook(t, data)
	sheets := f.GetSheetList()
	if len(sheets) != 1 || sheets[0] != "Invoices" {
		t.Errorf("sheets = %v", sheets)
	}
	got, err := f.GetCellValue("Invoices", "B2")
	if err != nil {
		t.Fatal(err)
	}
	if got != "99" {
		t.Errorf("B2 = %q", got)
	}
}

func TestCreateFromOperations_keepsDefaultSheetWhenTargeted(t *testing.T) {
	data, err := CreateFromOperations([]models.Operation{
		models.SetCell{Sheet: "Sheet1", Cell: "A1", Value: "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := openWorkbook(t, data)
	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != "Sheet1" {
		t.Errorf("sheets = %v", sheets)
	}
}

func TestApply_updateCellsRange(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	ops := []models.Operation{
		models.UpdateCells{Sheet: "Sheet1", Range: "A1:B2", Values: [][]any{{1, 2}, {3, 4}}},
	}
	if err := Apply(f, ops); err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"A1": "1", "B1": "2", "A2": "3", "B2": "4"}
	for cell, expected := range want {
		got, err := f.GetCellValue("Sheet1", cell)
		if err != nil {
			t.Fatal(err)
		}
		if got != expected {
			t.Errorf("%s = %q, want %q", cell, got, expected)
		}
	}
	// Untouched cells stay empty.
	if got, _ := f.GetCellValue("Sheet1", "C1"); got != "" {
		t.Errorf("C1 = %q, want empty", got)
	}
	if got, _ := f.GetCellValue("Sheet1", "A3"); got != "" {
		t.Errorf("A3 = %q, want empty", got)
	}
}

func TestApply_createsTargetSheetOnDemand(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	ops := []models.Operation{
		models.CreateSheet{Sheet: "Q4"},
		models.SetCell{Sheet: "Q4", Cell: "A1", Value: "total"},
		// A sheet never explicitly created still works.
		models.SetCell{Sheet: "Q5", Cell: "B2", Value: 7},
	}
	if err := Apply(f, ops); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.GetCellValue("Q4", "A1"); got != "total" {
		t.Errorf("Q4!A1 = %q", got)
	}
	if got, _ := f.GetCellValue("Q5", "B2"); got != "7" {
		t.Errorf("Q5!B2 = %q", got)
	}
}

func TestApply_badCellAddressPropagates(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	err := Apply(f, []models.Operation{models.SetCell{Sheet: "Sheet1", Cell: "not-a-cell", Value: 1}})
	if err == nil {
		t.Fatal("expected codec error for malformed cell address")
	}
}

// editFixture wires a mutator over a temp blob store and an in-memory-ish
// sqlite store with one document record.
func editFixture(t *testing.T, storagePath, blobPath string) (*Mutator, *storage.SQLiteStore, *storage.BlobStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := storage.NewBlobStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatal(err)
	}

	doc := &models.Document{
		ID: "report.xlsx", UserID: "u1", Name: "report.xlsx",
		StoragePath: storagePath, Status: models.StatusUploaded,
	}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	if blobPath != "" {
		data, err := Build([]models.SheetData{{Name: "Sheet1", Rows: [][]any{{"a", "b"}, {"c", "d"}}}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := blobs.Put(blobPath, data); err != nil {
			t.Fatal(err)
		}
	}

	loc := locator.New(store, zap.NewNop())
	return NewMutator(loc, blobs, zap.NewNop()), store, blobs
}

func TestMutator_EditRoundTrip(t *testing.T) {
	m, _, _ := editFixture(t, "users/u1/report.xlsx", "users/u1/report.xlsx")

	res, err := m.Edit(context.Background(), "u1", "report.xlsx", []models.Operation{
		models.SetCell{Sheet: "Sheet1", Cell: "B1", Value: "Z"},
	})
	if err != nil {
		t.Fatal(err)
	}

	f := openWorkbook(t, res.Data)
	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][0] != "a" || rows[0][1] != "Z" || rows[1][0] != "c" || rows[1][1] != "d" {
		t.Errorf("rows = %v", rows)
	}
	if res.ReadPath != "users/u1/report.xlsx" || res.ReadEtag == "" {
		t.Errorf("read path/etag = %q, %q", res.ReadPath, res.ReadEtag)
	}
}

func TestMutator_EditFallsBackToCanonicalPath(t *testing.T) {
	// Recorded path points nowhere; the blob lives at the canonical path.
	m, _, _ := editFixture(t, "uploads/legacy/report_1699999999999.xlsx", "users/u1/report.xlsx")

	res, err := m.Edit(context.Background(), "u1", "report.xlsx", []models.Operation{
		models.SetCell{Sheet: "Sheet1", Cell: "A1", Value: "patched"},
	})
	if err != nil {
		t.Fatalf("edit should fall back to canonical path: %v", err)
	}
	if res.ReadPath != "users/u1/report.xlsx" {
		t.Errorf("read path = %q", res.ReadPath)
	}

	f := openWorkbook(t, res.Data)
	if got, _ := f.GetCellValue("Sheet1", "A1"); got != "patched" {
		t.Errorf("A1 = %q", got)
	}
}

func TestMutator_EditMissingEverywhereFails(t *testing.T) {
	m, store, _ := editFixture(t, "users/u1/report.xlsx", "")

	_, err := m.Edit(context.Background(), "u1", "report.xlsx", []models.Operation{
		models.SetCell{Sheet: "Sheet1", Cell: "A1", Value: 1},
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The failed edit must not have minted a new record.
	n, _ := store.CountDocuments(context.Background())
	if n != 1 {
		t.Errorf("document count changed: %d", n)
	}
}

func TestMutator_EditUnknownDocument(t *testing.T) {
	m, _, _ := editFixture(t, "users/u1/report.xlsx", "users/u1/report.xlsx")

	_, err := m.Edit(context.Background(), "u1", "ghost.xlsx", nil)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
