package domain

import "time"

// Item is a limited-edition collectible. CurrentEdition counts claimed
// editions (mints) and never exceeds EditionSize; SalesCount counts all
// settlements including resales.
type Item struct {
	ID             string
	CreatorID      string
	Title          string
	Category       string
	Price          int64
	EditionSize    int
	CurrentEdition int
	SalesCount     int
	ContentRef     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether every edition of the item has been claimed.
func (i Item) Exhausted() bool {
	return i.CurrentEdition >= i.EditionSize
}
