package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/port"
)

// MemoryStore is an in-memory implementation of the store ports. It is
// safe for concurrent use and is primarily intended for tests and local
// development.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]domain.Account
	items        map[string]domain.Item
	ownership    map[string]map[int]domain.OwnershipRecord
	listings     map[string]domain.Listing
	bids         map[string]domain.Bid
	transactions []domain.Transaction
}

var _ port.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]domain.Account),
		items:     make(map[string]domain.Item),
		ownership: make(map[string]map[int]domain.OwnershipRecord),
		listings:  make(map[string]domain.Listing),
		bids:      make(map[string]domain.Bid),
	}
}

// AccountLedger --------------------------------------------------------------

func (s *MemoryStore) CreateAccount(_ context.Context, acct domain.Account) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return domain.Account{}, fmt.Errorf("account %s already exists: %w", acct.ID, domain.ErrConflict)
	}
	if acct.CreditBalance < 0 {
		return domain.Account{}, fmt.Errorf("negative balance: %w", domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return acct, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) Debit(_ context.Context, accountID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative debit: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	if acct.CreditBalance < amount {
		return fmt.Errorf("account %s balance %d < %d: %w", accountID, acct.CreditBalance, amount, domain.ErrInsufficientBalance)
	}
	acct.CreditBalance -= amount
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = acct
	return nil
}

func (s *MemoryStore) Credit(_ context.Context, accountID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative credit: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	if acct.CreditBalance > math.MaxInt64-amount {
		return fmt.Errorf("account %s balance overflow: %w", accountID, domain.ErrInternal)
	}
	acct.CreditBalance += amount
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = acct
	return nil
}

// EditionTracker -------------------------------------------------------------

func (s *MemoryStore) CreateItem(_ context.Context, item domain.Item) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	} else if _, exists := s.items[item.ID]; exists {
		return domain.Item{}, fmt.Errorf("item %s already exists: %w", item.ID, domain.ErrConflict)
	}

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.ID] = item
	s.ownership[item.ID] = make(map[int]domain.OwnershipRecord)
	return item, nil
}

func (s *MemoryStore) GetItem(_ context.Context, id string) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.Item{}, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	return item, nil
}

func (s *MemoryStore) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) ClaimNextEdition(_ context.Context, itemID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return 0, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	if item.CurrentEdition >= item.EditionSize {
		return 0, fmt.Errorf("item %s: %w", itemID, domain.ErrExhausted)
	}
	item.CurrentEdition++
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	return item.CurrentEdition, nil
}

func (s *MemoryStore) ReleaseEdition(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	if item.CurrentEdition <= 0 {
		return fmt.Errorf("item %s has no claimed editions: %w", itemID, domain.ErrConflict)
	}
	item.CurrentEdition--
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	return nil
}

func (s *MemoryStore) IncrementSales(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	item.SalesCount++
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	return nil
}

// OwnershipRegistry ----------------------------------------------------------

func (s *MemoryStore) RecordInitialOwnership(_ context.Context, rec domain.OwnershipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	editions, ok := s.ownership[rec.ItemID]
	if !ok {
		return fmt.Errorf("item %s: %w", rec.ItemID, domain.ErrNotFound)
	}
	if _, exists := editions[rec.EditionNumber]; exists {
		return fmt.Errorf("edition %d of item %s already owned: %w", rec.EditionNumber, rec.ItemID, domain.ErrConflict)
	}
	if rec.AcquiredAt.IsZero() {
		rec.AcquiredAt = time.Now().UTC()
	}
	editions[rec.EditionNumber] = rec
	return nil
}

func (s *MemoryStore) Transfer(_ context.Context, itemID string, editionNumber int, fromOwnerID, toOwnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	editions, ok := s.ownership[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	rec, ok := editions[editionNumber]
	if !ok {
		return fmt.Errorf("edition %d of item %s: %w", editionNumber, itemID, domain.ErrNotFound)
	}
	if rec.OwnerID != fromOwnerID {
		return fmt.Errorf("edition %d of item %s held by %s: %w", editionNumber, itemID, rec.OwnerID, domain.ErrNotOwner)
	}
	rec.OwnerID = toOwnerID
	rec.AcquiredAt = time.Now().UTC()
	editions[editionNumber] = rec
	return nil
}

func (s *MemoryStore) OwnerOf(_ context.Context, itemID string, editionNumber int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	editions, ok := s.ownership[itemID]
	if !ok {
		return "", fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	rec, ok := editions[editionNumber]
	if !ok {
		return "", fmt.Errorf("edition %d of item %s: %w", editionNumber, itemID, domain.ErrNotFound)
	}
	return rec.OwnerID, nil
}

func (s *MemoryStore) HoldingsOf(_ context.Context, ownerID string) ([]domain.OwnershipRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.OwnershipRecord
	for _, editions := range s.ownership {
		for _, rec := range editions {
			if rec.OwnerID == ownerID {
				result = append(result, rec)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ItemID != result[j].ItemID {
			return result[i].ItemID < result[j].ItemID
		}
		return result[i].EditionNumber < result[j].EditionNumber
	})
	return result, nil
}

func (s *MemoryStore) EditionsOwnedBy(_ context.Context, itemID, ownerID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	editions, ok := s.ownership[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	var result []int
	for num, rec := range editions {
		if rec.OwnerID == ownerID {
			result = append(result, num)
		}
	}
	sort.Ints(result)
	return result, nil
}

// ListingBook ----------------------------------------------------------------

func (s *MemoryStore) CreateListing(_ context.Context, listing domain.Listing) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.ID == "" {
		listing.ID = uuid.NewString()
	} else if _, exists := s.listings[listing.ID]; exists {
		return domain.Listing{}, fmt.Errorf("listing %s already exists: %w", listing.ID, domain.ErrConflict)
	}

	now := time.Now().UTC()
	listing.Status = domain.ListingStatusActive
	listing.CreatedAt = now
	listing.UpdatedAt = now
	s.listings[listing.ID] = listing
	return listing, nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listing, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("listing %s: %w", id, domain.ErrNotFound)
	}
	return listing, nil
}

func (s *MemoryStore) DeactivateListing(_ context.Context, id string, status domain.ListingStatus) error {
	if status == domain.ListingStatusActive {
		return fmt.Errorf("cannot deactivate to active: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("listing %s: %w", id, domain.ErrNotFound)
	}
	if listing.Status != domain.ListingStatusActive {
		return fmt.Errorf("listing %s is %s: %w", id, listing.Status, domain.ErrAlreadyInactive)
	}
	listing.Status = status
	listing.UpdatedAt = time.Now().UTC()
	s.listings[id] = listing
	return nil
}

func (s *MemoryStore) ActiveListingsFor(_ context.Context, itemID string) ([]domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Listing
	for _, listing := range s.listings {
		if listing.ItemID == itemID && listing.Active() {
			result = append(result, listing)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Price != result[j].Price {
			return result[i].Price < result[j].Price
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ActiveListingCount(_ context.Context, itemID, sellerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, listing := range s.listings {
		if listing.ItemID == itemID && listing.SellerID == sellerID && listing.Active() {
			count++
		}
	}
	return count, nil
}

// BidBook --------------------------------------------------------------------

func (s *MemoryStore) CreateBid(_ context.Context, bid domain.Bid) (domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bid.ID == "" {
		bid.ID = uuid.NewString()
	} else if _, exists := s.bids[bid.ID]; exists {
		return domain.Bid{}, fmt.Errorf("bid %s already exists: %w", bid.ID, domain.ErrConflict)
	}

	now := time.Now().UTC()
	bid.Status = domain.BidStatusActive
	bid.CreatedAt = now
	bid.UpdatedAt = now
	s.bids[bid.ID] = bid
	return bid, nil
}

func (s *MemoryStore) GetBid(_ context.Context, id string) (domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bid, ok := s.bids[id]
	if !ok {
		return domain.Bid{}, fmt.Errorf("bid %s: %w", id, domain.ErrNotFound)
	}
	return bid, nil
}

func (s *MemoryStore) DeactivateBid(_ context.Context, id string, status domain.BidStatus) error {
	if status == domain.BidStatusActive {
		return fmt.Errorf("cannot deactivate to active: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bid, ok := s.bids[id]
	if !ok {
		return fmt.Errorf("bid %s: %w", id, domain.ErrNotFound)
	}
	if bid.Status != domain.BidStatusActive {
		return fmt.Errorf("bid %s is %s: %w", id, bid.Status, domain.ErrAlreadyInactive)
	}
	bid.Status = status
	bid.UpdatedAt = time.Now().UTC()
	s.bids[id] = bid
	return nil
}

func (s *MemoryStore) DeactivateBidsForItem(_ context.Context, itemID string, status domain.BidStatus) (int, error) {
	if status == domain.BidStatusActive {
		return 0, fmt.Errorf("cannot deactivate to active: %w", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for id, bid := range s.bids {
		if bid.ItemID == itemID && bid.Active() {
			bid.Status = status
			bid.UpdatedAt = now
			s.bids[id] = bid
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ActiveBidsFor(_ context.Context, itemID string) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Bid
	for _, bid := range s.bids {
		if bid.ItemID == itemID && bid.Active() {
			result = append(result, bid)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Amount != result[j].Amount {
			return result[i].Amount > result[j].Amount
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// TransactionLog -------------------------------------------------------------

func (s *MemoryStore) AppendTransaction(_ context.Context, tx domain.Transaction) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *MemoryStore) TransactionsForItem(_ context.Context, itemID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Transaction
	for _, tx := range s.transactions {
		if tx.ItemID == itemID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *MemoryStore) TransactionsForAccount(_ context.Context, accountID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Transaction
	for _, tx := range s.transactions {
		if tx.BuyerID == accountID || tx.SellerID == accountID {
			result = append(result, tx)
		}
	}
	return result, nil
}
