package port

import "context"

// OperationDescriptor identifies a settled state transition for the
// proof oracle. The engine treats the returned reference as opaque.
type OperationDescriptor struct {
	Kind          string `json:"kind"` // "mint" or "transfer"
	ItemID        string `json:"item_id"`
	EditionNumber int    `json:"edition_number"`
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Price         int64  `json:"price"`
}

// ProofOracle certifies settlements after they commit. Certify is never
// allowed to influence settlement outcome: a failure is logged and the
// settlement proceeds without a proof reference.
type ProofOracle interface {
	Certify(ctx context.Context, op OperationDescriptor) (string, error)
}
