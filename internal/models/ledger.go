package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerCode is one entry of the chart of accounts, surfaced to the model as
// retrieval context so extracted operations use real account codes.
type LedgerCode struct {
	Code        string `json:"code" db:"code"`
	Description string `json:"description" db:"description"`
}

// Transaction is a posted ledger transaction. Amounts are exact decimals;
// negative amounts are debits.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"userId" db:"user_id"`
	Date        time.Time       `json:"date" db:"date"`
	Description string          `json:"description" db:"description"`
	LedgerCode  string          `json:"ledgerCode" db:"ledger_code"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
}
