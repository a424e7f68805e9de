package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/auth"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/storage"
	"github.com/ledgerworks/choubo/internal/workbook"
)

func fixture(t *testing.T) (*Reconciler, *storage.SQLiteStore, *storage.BlobStore) {
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
	tokens, err := auth.NewService("test-secret", time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return New(store, blobs, tokens, zap.NewNop()), store, blobs
}

func TestSaveNew(t *testing.T) {
	r, store, blobs := fixture(t)
	ctx := context.Background()

	doc, err := r.SaveNew(ctx, "u1", "q4-budget_1699999999999.xlsx", []byte("workbook-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "q4-budget.xlsx" {
		t.Errorf("id = %q, timestamp suffix should be canonicalized away", doc.ID)
	}
	if doc.StoragePath != "users/u1/q4-budget.xlsx" {
		t.Errorf("path = %q", doc.StoragePath)
	}
	if doc.DownloadURL == "" || doc.Size != int64(len("workbook-bytes")) {
		t.Errorf("metadata incomplete: %+v", doc)
	}

	data, _, err := blobs.Get("users/u1/q4-budget.xlsx")
	if err != nil || string(data) != "workbook-bytes" {
		t.Errorf("blob = %q, %v", data, err)
	}
	if _, err := store.GetDocument(ctx, "u1", "q4-budget.xlsx"); err != nil {
		t.Errorf("metadata record missing: %v", err)
	}
}

func TestSaveNew_recreateUpdatesSameRecord(t *testing.T) {
	r, store, _ := fixture(t)
	ctx := context.Background()

	if _, err := r.SaveNew(ctx, "u1", "report.xlsx", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SaveNew(ctx, "u1", "report_1699999999999.xlsx", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	n, _ := store.CountDocuments(ctx)
	if n != 1 {
		t.Errorf("re-creating the same logical file must not spawn duplicates, count = %d", n)
	}
	doc, _ := store.GetDocument(ctx, "u1", "report.xlsx")
	if doc.Size != 2 {
		t.Errorf("size = %d, want updated content size", doc.Size)
	}
}

func TestSaveExisting_preservesOriginalPath(t *testing.T) {
	r, store, blobs := fixture(t)
	ctx := context.Background()

	orig := &models.Document{
		ID: "report.xlsx", UserID: "u1", Name: "report_1699999999999.xlsx",
		StoragePath: "uploads/legacy/report_1699999999999.xlsx",
		Status:      models.StatusUploaded, FolderID: "f1",
	}
	if err := store.CreateDocument(ctx, orig); err != nil {
		t.Fatal(err)
	}
	etag, err := blobs.Put("uploads/legacy/report_1699999999999.xlsx", []byte("v1"))
	if err != nil {
		t.Fatal(err)
	}

	doc, err := r.SaveExisting(ctx, &workbook.EditResult{
		Data:     []byte("v2-longer"),
		Doc:      orig,
		ReadPath: "uploads/legacy/report_1699999999999.xlsx",
		ReadEtag: etag,
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc.StoragePath != "uploads/legacy/report_1699999999999.xlsx" {
		t.Errorf("original path must be preserved, got %q", doc.StoragePath)
	}

	data, _, _ := blobs.Get("uploads/legacy/report_1699999999999.xlsx")
	if string(data) != "v2-longer" {
		t.Errorf("blob = %q", data)
	}
	got, _ := store.GetDocument(ctx, "u1", "report.xlsx")
	if got.Size != int64(len("v2-longer")) || got.Status != models.StatusProcessed {
		t.Errorf("metadata not reconciled: %+v", got)
	}
	if got.FolderID != "f1" {
		t.Errorf("unrelated field clobbered: folder_id = %q", got.FolderID)
	}
}

func TestSaveExisting_concurrentModificationFails(t *testing.T) {
	r, store, blobs := fixture(t)
	ctx := context.Background()

	orig := &models.Document{
		ID: "report.xlsx", UserID: "u1", Name: "report.xlsx",
		StoragePath: "users/u1/report.xlsx",
	}
	if err := store.CreateDocument(ctx, orig); err != nil {
		t.Fatal(err)
	}
	etag, _ := blobs.Put("users/u1/report.xlsx", []byte("v1"))

	// Another writer lands between our read and write.
	if _, err := blobs.Put("users/u1/report.xlsx", []byte("other-writer")); err != nil {
		t.Fatal(err)
	}

	_, err := r.SaveExisting(ctx, &workbook.EditResult{
		Data: []byte("ours"), Doc: orig,
		ReadPath: "users/u1/report.xlsx", ReadEtag: etag,
	})
	if !errors.Is(err, storage.ErrEtagMismatch) {
		t.Fatalf("expected ErrEtagMismatch, got %v", err)
	}
	data, _, _ := blobs.Get("users/u1/report.xlsx")
	if string(data) != "other-writer" {
		t.Errorf("losing write must not land, blob = %q", data)
	}
}

func TestSaveExisting_staleRecordedPathRecreated(t *testing.T) {
	r, _, blobs := fixture(t)
	ctx := context.Background()

	doc := &models.Document{
		ID: "report.xlsx", UserID: "u1", Name: "report.xlsx",
		StoragePath: "uploads/legacy/report.xlsx",
	}
	// Content was read from the canonical path; recorded path has no blob.
	got, err := r.SaveExisting(ctx, &workbook.EditResult{
		Data: []byte("v2"), Doc: doc,
		ReadPath: "users/u1/report.xlsx", ReadEtag: "stale",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.StoragePath != "uploads/legacy/report.xlsx" {
		t.Errorf("path = %q", got.StoragePath)
	}
	data, _, err := blobs.Get("uploads/legacy/report.xlsx")
	if err != nil || string(data) != "v2" {
		t.Errorf("recorded path should be repopulated: %q, %v", data, err)
	}
}

func TestSaveNew_rejectsPathTraversalNames(t *testing.T) {
	r, store, blobs := fixture(t)
	ctx := context.Background()

	// Seed u2's spreadsheet, then try to overwrite it from u1's session.
	if _, err := r.SaveNew(ctx, "u2", "report.xlsx", []byte("u2-content")); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"../u2/report.xlsx",
		"..\\u2\\report.xlsx",
		"nested/report.xlsx",
		"..",
	} {
		_, err := r.SaveNew(ctx, "u1", name, []byte("attacker-content"))
		if !errors.Is(err, ErrBadFileName) {
			t.Errorf("SaveNew(%q) err = %v, want ErrBadFileName", name, err)
		}
	}

	data, _, err := blobs.Get("users/u2/report.xlsx")
	if err != nil || string(data) != "u2-content" {
		t.Errorf("u2 blob = %q, %v; must be untouched", data, err)
	}
	n, _ := store.CountDocuments(ctx)
	if n != 1 {
		t.Errorf("documents = %d, traversal names must not create records", n)
	}
}

func TestSaveUpload_rejectsPathTraversalNames(t *testing.T) {
	r, store, blobs := fixture(t)
	ctx := context.Background()

	_, err := r.SaveUpload(ctx, "u1", "../u2/notes.txt", "text/plain", []byte("x"))
	if !errors.Is(err, ErrBadFileName) {
		t.Fatalf("err = %v, want ErrBadFileName", err)
	}
	if _, _, err := blobs.Get("users/u2/notes.txt"); err == nil {
		t.Error("traversal upload must not write outside the user prefix")
	}
	n, _ := store.CountDocuments(ctx)
	if n != 0 {
		t.Errorf("documents = %d", n)
	}
}

func TestSaveUpload_keepsInteriorDots(t *testing.T) {
	r, _, _ := fixture(t)
	ctx := context.Background()

	doc, err := r.SaveUpload(ctx, "u1", "q4.final_1699999999999.pdf", "application/pdf", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "q4.final.pdf" {
		t.Errorf("id = %q", doc.ID)
	}
	if doc.StoragePath != "users/u1/q4.final.pdf" {
		t.Errorf("path = %q", doc.StoragePath)
	}
}
