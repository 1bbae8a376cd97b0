package domain

import "time"

type TransactionKind string

const (
	TransactionKindMint     TransactionKind = "mint"
	TransactionKindTransfer TransactionKind = "transfer"
)

// Transaction is one settled trade. Records are append-only: created
// exactly once per successful settlement and never mutated.
type Transaction struct {
	ID            string
	ItemID        string
	EditionNumber int
	BuyerID       string
	SellerID      string
	Kind          TransactionKind
	Price         int64
	ProofRef      string
	CreatedAt     time.Time
}
