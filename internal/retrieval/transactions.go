package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerworks/choubo/internal/models"
)

// TransactionLister is the slice of the store the summarizer needs.
type TransactionLister interface {
	ListRecentTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
}

// SummarizeRecentTransactions renders up to limit of the user's most recent
// transactions as prompt-ready lines plus a net total. Returns "" when the
// user has no transactions.
func SummarizeRecentTransactions(ctx context.Context, store TransactionLister, userID string, limit int) (string, error) {
	txs, err := store.ListRecentTransactions(ctx, userID, limit)
	if err != nil {
		return "", fmt.Errorf("list recent transactions: %w", err)
	}
	if len(txs) == 0 {
		return "", nil
	}

	var b strings.Builder
	net := decimal.Zero
	for _, tx := range txs {
		code := tx.LedgerCode
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(&b, "%s  %s  (%s)  %s\n",
			tx.Date.Format("2006-01-02"), tx.Description, code, tx.Amount.StringFixed(2))
		net = net.Add(tx.Amount)
	}
	fmt.Fprintf(&b, "Net over last %d transactions: %s", len(txs), net.StringFixed(2))
	return b.String(), nil
}
