package service

import (
	"context"
	"fmt"

	"github.com/tvh0522/mintbay/internal/core/domain"
)

// Caller-facing market operations. These touch a single entity each (the
// store keeps them atomic); the bid and listing mutations still take the
// item lock so they serialize against in-flight settlements on the same
// item.

func (e *Engine) CreateAccount(ctx context.Context, displayName string, initialBalance int64) (domain.Account, error) {
	if displayName == "" {
		return domain.Account{}, fmt.Errorf("display name is required: %w", domain.ErrInvalidArgument)
	}
	if initialBalance < 0 {
		return domain.Account{}, fmt.Errorf("initial balance must not be negative: %w", domain.ErrInvalidArgument)
	}
	return e.store.CreateAccount(ctx, domain.Account{
		DisplayName:   displayName,
		CreditBalance: initialBalance,
	})
}

func (e *Engine) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return e.store.GetAccount(ctx, id)
}

func (e *Engine) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return e.store.ListAccounts(ctx)
}

// Mint registers a new limited-edition item for the creator. No edition
// is claimed at mint time; editions are claimed one by one as buys
// settle.
func (e *Engine) Mint(ctx context.Context, creatorID, title, category string, price int64, editionSize int, contentRef string) (domain.Item, error) {
	if creatorID == "" || title == "" {
		return domain.Item{}, fmt.Errorf("creator and title are required: %w", domain.ErrInvalidArgument)
	}
	if price < 0 {
		return domain.Item{}, fmt.Errorf("price must not be negative: %w", domain.ErrInvalidArgument)
	}
	if editionSize < 1 {
		return domain.Item{}, fmt.Errorf("edition size must be at least 1: %w", domain.ErrInvalidArgument)
	}
	if _, err := e.store.GetAccount(ctx, creatorID); err != nil {
		return domain.Item{}, err
	}

	item, err := e.store.CreateItem(ctx, domain.Item{
		CreatorID:   creatorID,
		Title:       title,
		Category:    category,
		Price:       price,
		EditionSize: editionSize,
		ContentRef:  contentRef,
	})
	if err != nil {
		return domain.Item{}, err
	}

	e.mirrorEditions(ctx, item.ID, item.EditionSize)
	return item, nil
}

func (e *Engine) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return e.store.GetItem(ctx, id)
}

func (e *Engine) ListItems(ctx context.Context) ([]domain.Item, error) {
	return e.store.ListItems(ctx)
}

// PlaceBid records a standing offer on an item. The bidder's balance is
// not reserved; it is checked when the bid is accepted.
func (e *Engine) PlaceBid(ctx context.Context, itemID, bidderID string, amount int64) (domain.Bid, error) {
	if amount <= 0 {
		return domain.Bid{}, fmt.Errorf("bid amount must be positive: %w", domain.ErrInvalidArgument)
	}
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return domain.Bid{}, err
	}
	if _, err := e.store.GetAccount(ctx, bidderID); err != nil {
		return domain.Bid{}, err
	}
	return e.store.CreateBid(ctx, domain.Bid{
		ItemID:   itemID,
		BidderID: bidderID,
		Amount:   amount,
		Status:   domain.BidStatusActive,
	})
}

// CancelBid retires the caller's own bid.
func (e *Engine) CancelBid(ctx context.Context, bidID, accountID string) error {
	return e.retireBid(ctx, bidID, accountID, true, domain.BidStatusCancelled)
}

// RejectBid lets an edition holder decline a bid without a trade.
func (e *Engine) RejectBid(ctx context.Context, bidID, accountID string) error {
	return e.retireBid(ctx, bidID, accountID, false, domain.BidStatusRejected)
}

func (e *Engine) retireBid(ctx context.Context, bidID, accountID string, byBidder bool, status domain.BidStatus) error {
	bid, err := e.store.GetBid(ctx, bidID)
	if err != nil {
		return err
	}

	release, err := e.locks.acquire(ctx, bid.ItemID, e.lockWait)
	if err != nil {
		return err
	}
	defer release()

	bid, err = e.store.GetBid(ctx, bidID)
	if err != nil {
		return err
	}
	if !bid.Active() {
		return fmt.Errorf("bid %s is %s: %w", bidID, bid.Status, domain.ErrAlreadyInactive)
	}

	if byBidder {
		if bid.BidderID != accountID {
			return fmt.Errorf("bid %s does not belong to %s: %w", bidID, accountID, domain.ErrNotOwner)
		}
	} else {
		editions, err := e.store.EditionsOwnedBy(ctx, bid.ItemID, accountID)
		if err != nil {
			return err
		}
		if len(editions) == 0 {
			return fmt.Errorf("account %s holds no edition of item %s: %w", accountID, bid.ItemID, domain.ErrNotOwner)
		}
	}

	return e.store.DeactivateBid(ctx, bidID, status)
}

// CreateListing posts a fixed-price ask. The seller must hold more
// editions of the item than they already have listed, so every active
// listing is backed by a distinct edition.
func (e *Engine) CreateListing(ctx context.Context, itemID, sellerID string, price int64) (domain.Listing, error) {
	if price <= 0 {
		return domain.Listing{}, fmt.Errorf("listing price must be positive: %w", domain.ErrInvalidArgument)
	}
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return domain.Listing{}, err
	}
	if _, err := e.store.GetAccount(ctx, sellerID); err != nil {
		return domain.Listing{}, err
	}

	release, err := e.locks.acquire(ctx, itemID, e.lockWait)
	if err != nil {
		return domain.Listing{}, err
	}
	defer release()

	editions, err := e.store.EditionsOwnedBy(ctx, itemID, sellerID)
	if err != nil {
		return domain.Listing{}, err
	}
	listed, err := e.store.ActiveListingCount(ctx, itemID, sellerID)
	if err != nil {
		return domain.Listing{}, err
	}
	if len(editions) <= listed {
		return domain.Listing{}, fmt.Errorf("seller %s holds %d editions of item %s with %d already listed: %w",
			sellerID, len(editions), itemID, listed, domain.ErrNotOwner)
	}

	return e.store.CreateListing(ctx, domain.Listing{
		ItemID:   itemID,
		SellerID: sellerID,
		Price:    price,
		Status:   domain.ListingStatusActive,
	})
}

// CancelListing retires the caller's own active listing.
func (e *Engine) CancelListing(ctx context.Context, listingID, accountID string) error {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}

	release, err := e.locks.acquire(ctx, listing.ItemID, e.lockWait)
	if err != nil {
		return err
	}
	defer release()

	listing, err = e.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if !listing.Active() {
		return fmt.Errorf("listing %s is %s: %w", listingID, listing.Status, domain.ErrAlreadyInactive)
	}
	if listing.SellerID != accountID {
		return fmt.Errorf("listing %s does not belong to %s: %w", listingID, accountID, domain.ErrNotOwner)
	}

	return e.store.DeactivateListing(ctx, listingID, domain.ListingStatusCancelled)
}

func (e *Engine) ActiveBidsFor(ctx context.Context, itemID string) ([]domain.Bid, error) {
	return e.store.ActiveBidsFor(ctx, itemID)
}

func (e *Engine) ActiveListingsFor(ctx context.Context, itemID string) ([]domain.Listing, error) {
	return e.store.ActiveListingsFor(ctx, itemID)
}

func (e *Engine) OwnerOf(ctx context.Context, itemID string, editionNumber int) (string, error) {
	return e.store.OwnerOf(ctx, itemID, editionNumber)
}

func (e *Engine) HoldingsOf(ctx context.Context, ownerID string) ([]domain.OwnershipRecord, error) {
	return e.store.HoldingsOf(ctx, ownerID)
}

func (e *Engine) ItemHistory(ctx context.Context, itemID string) ([]domain.Transaction, error) {
	return e.store.TransactionsForItem(ctx, itemID)
}

func (e *Engine) AccountActivity(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return e.store.TransactionsForAccount(ctx, accountID)
}
