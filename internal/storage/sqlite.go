// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ledgerworks/choubo/internal/models"
)

// namePrefixCeiling bounds the name range scan; the high private-use code
// point sorts after every name sharing the queried prefix.
const namePrefixCeiling = "\uf8ff"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		download_url TEXT,
		content_type TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		status TEXT,
		folder_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_user_name ON documents(user_id, name);
	CREATE INDEX IF NOT EXISTS idx_documents_storage_path ON documents(storage_path);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		description TEXT NOT NULL,
		ledger_code TEXT,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date);

	CREATE TABLE IF NOT EXISTS ledger_codes (
		code TEXT PRIMARY KEY,
		description TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document record.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, name, storage_path, download_url, content_type, size, status, folder_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, doc.Name, doc.StoragePath, doc.DownloadURL,
		doc.ContentType, doc.Size, doc.Status, doc.FolderID, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// UpsertDocument inserts the record, or on conflict merges the fields this
// subsystem owns (name, path, URL, content type, size, status, updated_at).
// created_at and folder_id on an existing record stay untouched.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, name, storage_path, download_url, content_type, size, status, folder_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, id) DO UPDATE SET
			name = excluded.name,
			storage_path = excluded.storage_path,
			download_url = excluded.download_url,
			content_type = excluded.content_type,
			size = excluded.size,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		doc.ID, doc.UserID, doc.Name, doc.StoragePath, doc.DownloadURL,
		doc.ContentType, doc.Size, doc.Status, doc.FolderID, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

const documentColumns = `id, user_id, name, storage_path, download_url, content_type, size, status, folder_id, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var doc models.Document
	var downloadURL, contentType, status, folderID sql.NullString
	err := row.Scan(&doc.ID, &doc.UserID, &doc.Name, &doc.StoragePath,
		&downloadURL, &contentType, &doc.Size, &status, &folderID,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.DownloadURL = downloadURL.String
	doc.ContentType = contentType.String
	doc.Status = status.String
	doc.FolderID = folderID.String
	return &doc, nil
}

// GetDocument returns a user's document by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, userID, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? AND id = ?`, userID, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes a user's document record.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE user_id = ? AND id = ?`, userID, id)
	return err
}

// ListDocuments returns a user's documents, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE user_id = ? ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// FindDocumentsByNamePrefix returns a user's documents whose name sorts in
// the range [base, base+ceiling). The caller filters the loose tail matches.
func (s *SQLiteStore) FindDocumentsByNamePrefix(ctx context.Context, userID, base string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE user_id = ? AND name >= ? AND name < ?
		 ORDER BY updated_at DESC`,
		userID, base, base+namePrefixCeiling,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// FindDocumentByStoragePath returns the document recorded at storagePath.
func (s *SQLiteStore) FindDocumentByStoragePath(ctx context.Context, storagePath string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE storage_path = ? ORDER BY updated_at DESC LIMIT 1`,
		storagePath)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document at %s: %w", storagePath, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// TouchDocumentBlob patches size and updated_at for the record at
// storagePath. Used by the blob watcher to reconcile out-of-band changes;
// a path with no record is not an error.
func (s *SQLiteStore) TouchDocumentBlob(ctx context.Context, storagePath string, size int64, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET size = ?, updated_at = ? WHERE storage_path = ?`,
		size, updatedAt, storagePath)
	return err
}

func collectDocuments(rows *sql.Rows) ([]*models.Document, error) {
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CreateMessage appends a chat message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, user_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.UserID, msg.Role, msg.Content, msg.CreatedAt,
	)
	return err
}

// ListMessages returns up to limit messages for a chat in creation order.
// Messages written in the same instant keep their insert order via rowid.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, user_id, role, content, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at, rowid LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// CreateTransaction inserts a ledger transaction. Amounts are stored as
// exact decimal strings, never floats.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, date, description, ledger_code, amount)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Date, tx.Description, tx.LedgerCode, tx.Amount.String(),
	)
	return err
}

// ListRecentTransactions returns a user's most recent transactions, newest first.
func (s *SQLiteStore) ListRecentTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, date, description, ledger_code, amount
		 FROM transactions WHERE user_id = ? ORDER BY date DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var code sql.NullString
		var amount string
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Date, &tx.Description, &code, &amount); err != nil {
			return nil, err
		}
		tx.LedgerCode = code.String
		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s has bad amount %q: %w", tx.ID, amount, err)
		}
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// UpsertLedgerCode inserts or updates one chart-of-accounts entry.
func (s *SQLiteStore) UpsertLedgerCode(ctx context.Context, code *models.LedgerCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_codes (code, description) VALUES (?, ?)
		 ON CONFLICT(code) DO UPDATE SET description = excluded.description`,
		code.Code, code.Description,
	)
	return err
}

// ListLedgerCodes returns the chart of accounts ordered by code.
func (s *SQLiteStore) ListLedgerCodes(ctx context.Context) ([]*models.LedgerCode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, description FROM ledger_codes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*models.LedgerCode
	for rows.Next() {
		var c models.LedgerCode
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, err
		}
		codes = append(codes, &c)
	}
	return codes, rows.Err()
}

// CountDocuments returns the total number of document records.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountMessages returns the total number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
