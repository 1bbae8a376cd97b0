package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tvh0522/mintbay/internal/port"
)

// Simulated is a local proof oracle for development and tests. It
// derives a deterministic reference from the operation contents.
type Simulated struct{}

var _ port.ProofOracle = (*Simulated)(nil)

func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) Certify(_ context.Context, op port.OperationDescriptor) (string, error) {
	payload := fmt.Sprintf("%s|%s|%d|%s|%s|%d",
		op.Kind, op.ItemID, op.EditionNumber, op.FromAccountID, op.ToAccountID, op.Price)
	sum := sha256.Sum256([]byte(payload))
	return "sim:" + hex.EncodeToString(sum[:16]), nil
}
