package domain

import "time"

type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// Listing is a standing offer to sell one owned edition at a fixed
// price. It leaves the active status exactly once.
type Listing struct {
	ID        string
	ItemID    string
	SellerID  string
	Price     int64
	Status    ListingStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l Listing) Active() bool {
	return l.Status == ListingStatusActive
}
