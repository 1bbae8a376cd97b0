package domain

import "time"

// Account holds a credit balance. Balances are whole credits and never
// go negative; only ledger debit/credit calls mutate them.
type Account struct {
	ID            string
	DisplayName   string
	CreditBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
