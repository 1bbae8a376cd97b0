package domain

import "time"

type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusCancelled BidStatus = "cancelled"
)

// Bid is a standing offer to buy any available edition of an item.
// Accepting a bid deactivates every other active bid on the same item.
type Bid struct {
	ID        string
	ItemID    string
	BidderID  string
	Amount    int64
	Status    BidStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Bid) Active() bool {
	return b.Status == BidStatusActive
}
