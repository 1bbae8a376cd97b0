package domain

import "time"

// OwnershipRecord binds one edition of an item to its current owner.
// Edition numbers are 1-indexed and unique per item; OwnerID is the only
// field that changes after creation.
type OwnershipRecord struct {
	ItemID        string
	EditionNumber int
	OwnerID       string
	AcquiredAt    time.Time
}
