package port

import (
	"context"

	"github.com/tvh0522/mintbay/internal/core/domain"
)

// AccountLedger holds credit balances. Debit and Credit are atomic with
// respect to concurrent calls on the same account.
type AccountLedger interface {
	CreateAccount(ctx context.Context, acct domain.Account) (domain.Account, error)

	GetAccount(ctx context.Context, id string) (domain.Account, error)

	ListAccounts(ctx context.Context) ([]domain.Account, error)

	// Debit fails with domain.ErrInsufficientBalance when amount exceeds
	// the current balance; the balance is never driven negative.
	Debit(ctx context.Context, accountID string, amount int64) error

	// Credit always succeeds for an existing account.
	Credit(ctx context.Context, accountID string, amount int64) error
}

// EditionTracker holds items and their edition counters.
type EditionTracker interface {
	CreateItem(ctx context.Context, item domain.Item) (domain.Item, error)

	GetItem(ctx context.Context, id string) (domain.Item, error)

	ListItems(ctx context.Context) ([]domain.Item, error)

	// ClaimNextEdition atomically increments the item's edition counter
	// and returns the claimed edition number (1-indexed). Fails with
	// domain.ErrExhausted once every edition is claimed; two concurrent
	// claims on the last edition never both succeed.
	ClaimNextEdition(ctx context.Context, itemID string) (int, error)

	// ReleaseEdition undoes the most recent claim. Used only by
	// settlement rollback, never by callers.
	ReleaseEdition(ctx context.Context, itemID string) error

	// IncrementSales bumps the editions-sold display counter.
	IncrementSales(ctx context.Context, itemID string) error
}

// OwnershipRegistry maps (item, edition) pairs to their current owner.
type OwnershipRegistry interface {
	RecordInitialOwnership(ctx context.Context, rec domain.OwnershipRecord) error

	// Transfer fails with domain.ErrNotOwner when fromOwnerID does not
	// currently hold the edition, domain.ErrNotFound when no record
	// exists for the pair.
	Transfer(ctx context.Context, itemID string, editionNumber int, fromOwnerID, toOwnerID string) error

	OwnerOf(ctx context.Context, itemID string, editionNumber int) (string, error)

	HoldingsOf(ctx context.Context, ownerID string) ([]domain.OwnershipRecord, error)

	// EditionsOwnedBy returns the edition numbers of itemID held by
	// ownerID in ascending order.
	EditionsOwnedBy(ctx context.Context, itemID, ownerID string) ([]int, error)
}

// ListingBook holds asks. Active listings for an item are ordered by
// price ascending.
type ListingBook interface {
	CreateListing(ctx context.Context, listing domain.Listing) (domain.Listing, error)

	GetListing(ctx context.Context, id string) (domain.Listing, error)

	// DeactivateListing moves an active listing to the given terminal
	// status. Fails with domain.ErrAlreadyInactive when it already left
	// the active state; an inactive listing never becomes active again.
	DeactivateListing(ctx context.Context, id string, status domain.ListingStatus) error

	ActiveListingsFor(ctx context.Context, itemID string) ([]domain.Listing, error)

	ActiveListingCount(ctx context.Context, itemID, sellerID string) (int, error)
}

// BidBook holds bids. Active bids for an item are ordered by amount
// descending.
type BidBook interface {
	CreateBid(ctx context.Context, bid domain.Bid) (domain.Bid, error)

	GetBid(ctx context.Context, id string) (domain.Bid, error)

	DeactivateBid(ctx context.Context, id string, status domain.BidStatus) error

	// DeactivateBidsForItem retires every active bid on the item and
	// returns how many were retired.
	DeactivateBidsForItem(ctx context.Context, itemID string, status domain.BidStatus) (int, error)

	ActiveBidsFor(ctx context.Context, itemID string) ([]domain.Bid, error)
}

// TransactionLog is the append-only record of settlements.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	TransactionsForItem(ctx context.Context, itemID string) ([]domain.Transaction, error)

	TransactionsForAccount(ctx context.Context, accountID string) ([]domain.Transaction, error)
}

// Store aggregates every entity repository. Both the in-memory store
// and the MySQL store implement it.
type Store interface {
	AccountLedger
	EditionTracker
	OwnershipRegistry
	ListingBook
	BidBook
	TransactionLog
}
