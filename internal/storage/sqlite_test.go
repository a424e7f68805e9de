package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerworks/choubo/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_DocumentCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:          "report.xlsx",
		UserID:      "u1",
		Name:        "report.xlsx",
		StoragePath: "users/u1/report.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Size:        1234,
		Status:      models.StatusUploaded,
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetDocument(ctx, "u1", "report.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "report.xlsx" || got.Size != 1234 {
		t.Errorf("got %+v", got)
	}

	// Another user must not see it.
	_, err = store.GetDocument(ctx, "u2", "report.xlsx")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}

	list, err := store.ListDocuments(ctx, "u1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 doc, got %d", len(list))
	}

	if err := store.DeleteDocument(ctx, "u1", "report.xlsx"); err != nil {
		t.Fatal(err)
	}
	_, err = store.GetDocument(ctx, "u1", "report.xlsx")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStore_UpsertMergesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	orig := &models.Document{
		ID: "budget.xlsx", UserID: "u1", Name: "budget.xlsx",
		StoragePath: "users/u1/budget.xlsx", Size: 10,
		Status: models.StatusUploaded, FolderID: "f9",
	}
	if err := store.CreateDocument(ctx, orig); err != nil {
		t.Fatal(err)
	}

	update := &models.Document{
		ID: "budget.xlsx", UserID: "u1", Name: "budget.xlsx",
		StoragePath: "users/u1/budget.xlsx", Size: 999,
		Status: models.StatusProcessed, DownloadURL: "/api/v1/files?token=abc",
	}
	if err := store.UpsertDocument(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDocument(ctx, "u1", "budget.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if got.Size != 999 || got.Status != models.StatusProcessed || got.DownloadURL == "" {
		t.Errorf("owned fields not updated: %+v", got)
	}
	if got.FolderID != "f9" {
		t.Errorf("folder_id should survive upsert, got %q", got.FolderID)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("created_at should survive upsert: %v != %v", got.CreatedAt, orig.CreatedAt)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at should move forward: %v", got.UpdatedAt)
	}
}

func TestSQLiteStore_FindDocumentsByNamePrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	names := []string{"report.xlsx", "report_1699999999999.xlsx", "reporting-notes.xlsx", "budget.xlsx"}
	for _, n := range names {
		doc := &models.Document{ID: n, UserID: "u1", Name: n, StoragePath: "users/u1/" + n}
		if err := store.CreateDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := store.FindDocumentsByNamePrefix(ctx, "u1", "report")
	if err != nil {
		t.Fatal(err)
	}
	// Range scan is deliberately loose: it includes "reporting-notes.xlsx".
	if len(docs) != 3 {
		t.Fatalf("expected 3 range matches, got %d", len(docs))
	}
	for _, d := range docs {
		if d.Name == "budget.xlsx" {
			t.Error("range scan leaked a name outside the prefix range")
		}
	}
}

func TestSQLiteStore_FindByStoragePathAndTouch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &models.Document{ID: "a.xlsx", UserID: "u1", Name: "a.xlsx", StoragePath: "users/u1/a.xlsx", Size: 5}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	got, err := store.FindDocumentByStoragePath(ctx, "users/u1/a.xlsx")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "a.xlsx" {
		t.Errorf("got %+v", got)
	}

	now := time.Now().Add(time.Minute)
	if err := store.TouchDocumentBlob(ctx, "users/u1/a.xlsx", 777, now); err != nil {
		t.Fatal(err)
	}
	got, _ = store.FindDocumentByStoragePath(ctx, "users/u1/a.xlsx")
	if got.Size != 777 {
		t.Errorf("size not patched: %d", got.Size)
	}

	// Touching an unknown path is a no-op, not an error.
	if err := store.TouchDocumentBlob(ctx, "users/u1/ghost.xlsx", 1, now); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSQLiteStore_Messages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, content := range []string{"hello", "hi there"} {
		msg := &models.Message{
			ID: string(rune('a' + i)), ChatID: "c1", UserID: "u1",
			Role: models.RoleUser, Content: content,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if msg.ID == "b" {
			msg.Role = models.RoleAssistant
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.ListMessages(ctx, "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Role != models.RoleAssistant {
		t.Errorf("got %+v", msgs)
	}

	n, err := store.CountMessages(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountMessages = %d, %v", n, err)
	}
}

func TestSQLiteStore_MessagesSameTimestampKeepInsertOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, role := range []string{models.RoleUser, models.RoleAssistant} {
		msg := &models.Message{
			ID: string(rune('a' + i)), ChatID: "c1", UserID: "u1",
			Role: role, Content: role + " turn", CreatedAt: now,
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.ListMessages(ctx, "c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("order not preserved: %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestSQLiteStore_TransactionsAndLedgerCodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	amounts := []string{"-125.40", "1999.99", "-0.01"}
	for i, a := range amounts {
		tx := &models.Transaction{
			ID:          string(rune('a' + i)),
			UserID:      "u1",
			Date:        time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC),
			Description: "tx " + a,
			LedgerCode:  "6100",
			Amount:      decimal.RequireFromString(a),
		}
		if err := store.CreateTransaction(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	txs, err := store.ListRecentTransactions(ctx, "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2, got %d", len(txs))
	}
	if !txs[0].Date.After(txs[1].Date) {
		t.Error("transactions should be newest first")
	}
	if txs[0].Amount.String() != "-0.01" {
		t.Errorf("amount round trip lost precision: %s", txs[0].Amount)
	}

	if err := store.UpsertLedgerCode(ctx, &models.LedgerCode{Code: "6100", Description: "Office supplies"}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertLedgerCode(ctx, &models.LedgerCode{Code: "6100", Description: "Office supplies & postage"}); err != nil {
		t.Fatal(err)
	}
	codes, err := store.ListLedgerCodes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 1 || codes[0].Description != "Office supplies & postage" {
		t.Errorf("got %+v", codes)
	}
}
