package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tvh0522/mintbay/internal/adapter/storage"
	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/port"
)

type fakeOracle struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (o *fakeOracle) Certify(_ context.Context, op port.OperationDescriptor) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.fail {
		return "", errors.New("oracle unavailable")
	}
	return fmt.Sprintf("proof-%s-%d", op.ItemID, o.calls), nil
}

type fakeCache struct {
	mu       sync.Mutex
	keys     map[string]bool
	editions map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		keys:     make(map[string]bool),
		editions: make(map[string]int),
	}
}

func (c *fakeCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *fakeCache) ReleaseIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *fakeCache) SetEditionsRemaining(_ context.Context, itemID string, remaining int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editions[itemID] = remaining
	return nil
}

func (c *fakeCache) DecrementEditionsRemaining(_ context.Context, itemID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining, ok := c.editions[itemID]
	if !ok {
		return true, nil
	}
	if remaining < 1 {
		return false, nil
	}
	c.editions[itemID] = remaining - 1
	return true, nil
}

func (c *fakeCache) IncrementEditionsRemaining(_ context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining, ok := c.editions[itemID]; ok {
		c.editions[itemID] = remaining + 1
	}
	return nil
}

func (c *fakeCache) EditionsRemaining(_ context.Context, itemID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining, ok := c.editions[itemID]
	return remaining, ok, nil
}

// flakyStore wraps the in-memory store and fails selected steps so
// rollback behavior can be observed.
type flakyStore struct {
	port.Store
	failOwnership bool
	failCreditFor string
	failTransfer  bool
}

func (s *flakyStore) RecordInitialOwnership(ctx context.Context, rec domain.OwnershipRecord) error {
	if s.failOwnership {
		return errors.New("injected ownership failure")
	}
	return s.Store.RecordInitialOwnership(ctx, rec)
}

func (s *flakyStore) Credit(ctx context.Context, accountID string, amount int64) error {
	if s.failCreditFor != "" && s.failCreditFor == accountID {
		return errors.New("injected credit failure")
	}
	return s.Store.Credit(ctx, accountID, amount)
}

func (s *flakyStore) Transfer(ctx context.Context, itemID string, editionNumber int, fromOwnerID, toOwnerID string) error {
	if s.failTransfer {
		return errors.New("injected transfer failure")
	}
	return s.Store.Transfer(ctx, itemID, editionNumber, fromOwnerID, toOwnerID)
}

func newTestEngine(store port.Store) *Engine {
	return NewEngine(store, &fakeOracle{}, nil, nil, nil, 64)
}

func mustAccount(t *testing.T, e *Engine, name string, balance int64) domain.Account {
	t.Helper()
	acct, err := e.CreateAccount(context.Background(), name, balance)
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return acct
}

func mustItem(t *testing.T, e *Engine, creatorID string, price int64, editionSize int) domain.Item {
	t.Helper()
	item, err := e.Mint(context.Background(), creatorID, "sunset over district 9", "photography", price, editionSize, "cid:abc123")
	if err != nil {
		t.Fatalf("mint item: %v", err)
	}
	return item
}

func balanceOf(t *testing.T, e *Engine, accountID string) int64 {
	t.Helper()
	acct, err := e.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account %s: %v", accountID, err)
	}
	return acct.CreditBalance
}

func totalCredits(t *testing.T, e *Engine) int64 {
	t.Helper()
	accounts, err := e.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	var total int64
	for _, a := range accounts {
		total += a.CreditBalance
	}
	return total
}

func TestBuySettlesMintPurchase(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 15)
	item := mustItem(t, e, creator.ID, 10, 3)

	tx, err := e.Buy(ctx, item.ID, buyer.ID, "")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if got := balanceOf(t, e, buyer.ID); got != 5 {
		t.Errorf("buyer balance = %d, want 5", got)
	}
	if got := balanceOf(t, e, creator.ID); got != 10 {
		t.Errorf("creator balance = %d, want 10", got)
	}
	if tx.Kind != domain.TransactionKindMint {
		t.Errorf("transaction kind = %s, want mint", tx.Kind)
	}
	if tx.EditionNumber != 1 {
		t.Errorf("edition = %d, want 1", tx.EditionNumber)
	}
	if tx.ProofRef == "" {
		t.Error("expected a proof reference")
	}

	owner, err := e.OwnerOf(ctx, item.ID, 1)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != buyer.ID {
		t.Errorf("owner = %s, want %s", owner, buyer.ID)
	}

	got, err := e.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentEdition != 1 || got.SalesCount != 1 {
		t.Errorf("item counters = (%d, %d), want (1, 1)", got.CurrentEdition, got.SalesCount)
	}

	select {
	case feedTx := <-e.SettlementFeed():
		if feedTx.ID != tx.ID {
			t.Errorf("feed transaction = %s, want %s", feedTx.ID, tx.ID)
		}
	default:
		t.Error("expected transaction on the settlement feed")
	}
}

func TestBuyFailsWhenExhausted(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	first := mustAccount(t, e, "first", 20)
	second := mustAccount(t, e, "second", 20)
	item := mustItem(t, e, creator.ID, 10, 1)

	if _, err := e.Buy(ctx, item.ID, first.ID, ""); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	_, err := e.Buy(ctx, item.ID, second.ID, "")
	if !errors.Is(err, domain.ErrExhausted) {
		t.Fatalf("second buy error = %v, want ErrExhausted", err)
	}
	if got := balanceOf(t, e, second.ID); got != 20 {
		t.Errorf("second buyer balance = %d, want untouched 20", got)
	}
}

func TestBuyFailsOnInsufficientBalance(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 5)
	item := mustItem(t, e, creator.ID, 10, 3)

	_, err := e.Buy(ctx, item.ID, buyer.ID, "")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("buy error = %v, want ErrInsufficientBalance", err)
	}
	if got := balanceOf(t, e, buyer.ID); got != 5 {
		t.Errorf("buyer balance = %d, want untouched 5", got)
	}
	got, err := e.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentEdition != 0 {
		t.Errorf("edition counter = %d, want 0", got.CurrentEdition)
	}
}

func TestBuyRollsBackWhenOwnershipRecordFails(t *testing.T) {
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem, failOwnership: true}
	e := newTestEngine(flaky)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 15)
	item := mustItem(t, e, creator.ID, 10, 3)

	if _, err := e.Buy(ctx, item.ID, buyer.ID, ""); err == nil {
		t.Fatal("expected buy to fail")
	}

	if got := balanceOf(t, e, buyer.ID); got != 15 {
		t.Errorf("buyer balance = %d, want restored 15", got)
	}
	if got := balanceOf(t, e, creator.ID); got != 0 {
		t.Errorf("creator balance = %d, want restored 0", got)
	}
	got, err := e.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentEdition != 0 {
		t.Errorf("edition counter = %d, want released to 0", got.CurrentEdition)
	}

	// The engine must stay usable after a rollback.
	flaky.failOwnership = false
	if _, err := e.Buy(ctx, item.ID, buyer.ID, ""); err != nil {
		t.Fatalf("buy after recovery: %v", err)
	}
}

func TestBuyRollsBackWhenCreatorCreditFails(t *testing.T) {
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem}
	e := newTestEngine(flaky)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 15)
	item := mustItem(t, e, creator.ID, 10, 3)

	flaky.failCreditFor = creator.ID
	if _, err := e.Buy(ctx, item.ID, buyer.ID, ""); err == nil {
		t.Fatal("expected buy to fail")
	}
	if got := balanceOf(t, e, buyer.ID); got != 15 {
		t.Errorf("buyer balance = %d, want restored 15", got)
	}
}

func TestConcurrentBuysOfLastEdition(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	item := mustItem(t, e, creator.ID, 10, 1)

	const contenders = 8
	buyers := make([]domain.Account, contenders)
	for i := range buyers {
		buyers[i] = mustAccount(t, e, fmt.Sprintf("buyer-%d", i), 10)
	}
	before := totalCredits(t, e)

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Buy(ctx, item.ID, buyers[i].ID, "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrExhausted):
		default:
			t.Errorf("unexpected buy error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
	if after := totalCredits(t, e); after != before {
		t.Errorf("total credits = %d, want conserved %d", after, before)
	}
	got, err := e.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentEdition != 1 {
		t.Errorf("edition counter = %d, want 1", got.CurrentEdition)
	}
}

func TestAcceptBidTransfersEditionAndRetiresBids(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	holder := mustAccount(t, e, "holder", 10)
	bidder := mustAccount(t, e, "bidder", 25)
	rival := mustAccount(t, e, "rival", 30)
	item := mustItem(t, e, creator.ID, 10, 2)

	if _, err := e.Buy(ctx, item.ID, holder.ID, ""); err != nil {
		t.Fatalf("seed buy: %v", err)
	}

	winning, err := e.PlaceBid(ctx, item.ID, bidder.ID, 20)
	if err != nil {
		t.Fatalf("place winning bid: %v", err)
	}
	losing, err := e.PlaceBid(ctx, item.ID, rival.ID, 15)
	if err != nil {
		t.Fatalf("place losing bid: %v", err)
	}

	tx, err := e.AcceptBid(ctx, winning.ID, holder.ID, "")
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	if tx.Kind != domain.TransactionKindTransfer {
		t.Errorf("transaction kind = %s, want transfer", tx.Kind)
	}

	if got := balanceOf(t, e, bidder.ID); got != 5 {
		t.Errorf("bidder balance = %d, want 5", got)
	}
	if got := balanceOf(t, e, holder.ID); got != 20 {
		t.Errorf("holder balance = %d, want 20", got)
	}

	owner, err := e.OwnerOf(ctx, item.ID, tx.EditionNumber)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != bidder.ID {
		t.Errorf("owner = %s, want %s", owner, bidder.ID)
	}

	gotWinning, err := e.store.GetBid(ctx, winning.ID)
	if err != nil {
		t.Fatalf("get winning bid: %v", err)
	}
	if gotWinning.Status != domain.BidStatusAccepted {
		t.Errorf("winning bid status = %s, want accepted", gotWinning.Status)
	}
	gotLosing, err := e.store.GetBid(ctx, losing.ID)
	if err != nil {
		t.Fatalf("get losing bid: %v", err)
	}
	if gotLosing.Status != domain.BidStatusRejected {
		t.Errorf("losing bid status = %s, want rejected", gotLosing.Status)
	}

	active, err := e.ActiveBidsFor(ctx, item.ID)
	if err != nil {
		t.Fatalf("active bids: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active bids = %d, want 0", len(active))
	}
}

func TestAcceptBidTwiceFails(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	holder := mustAccount(t, e, "holder", 10)
	bidder := mustAccount(t, e, "bidder", 50)
	item := mustItem(t, e, creator.ID, 10, 2)

	if _, err := e.Buy(ctx, item.ID, holder.ID, ""); err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	bid, err := e.PlaceBid(ctx, item.ID, bidder.ID, 20)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}

	if _, err := e.AcceptBid(ctx, bid.ID, holder.ID, ""); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err = e.AcceptBid(ctx, bid.ID, bidder.ID, "")
	if !errors.Is(err, domain.ErrAlreadyInactive) {
		t.Fatalf("second accept error = %v, want ErrAlreadyInactive", err)
	}
}

func TestAcceptBidRequiresHeldEdition(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	bidder := mustAccount(t, e, "bidder", 50)
	stranger := mustAccount(t, e, "stranger", 0)
	item := mustItem(t, e, creator.ID, 10, 2)

	bid, err := e.PlaceBid(ctx, item.ID, bidder.ID, 20)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	_, err = e.AcceptBid(ctx, bid.ID, stranger.ID, "")
	if !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("accept error = %v, want ErrNotOwner", err)
	}
	if got := balanceOf(t, e, bidder.ID); got != 50 {
		t.Errorf("bidder balance = %d, want untouched 50", got)
	}
}

func TestAcceptBidRollsBackOnTransferFailure(t *testing.T) {
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem}
	e := newTestEngine(flaky)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	holder := mustAccount(t, e, "holder", 10)
	bidder := mustAccount(t, e, "bidder", 25)
	item := mustItem(t, e, creator.ID, 10, 2)

	if _, err := e.Buy(ctx, item.ID, holder.ID, ""); err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	bid, err := e.PlaceBid(ctx, item.ID, bidder.ID, 20)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}

	flaky.failTransfer = true
	if _, err := e.AcceptBid(ctx, bid.ID, holder.ID, ""); err == nil {
		t.Fatal("expected accept to fail")
	}

	if got := balanceOf(t, e, bidder.ID); got != 25 {
		t.Errorf("bidder balance = %d, want restored 25", got)
	}
	if got := balanceOf(t, e, holder.ID); got != 10 {
		t.Errorf("holder balance = %d, want restored 10", got)
	}
	gotBid, err := e.store.GetBid(ctx, bid.ID)
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	if !gotBid.Active() {
		t.Errorf("bid status = %s, want still active", gotBid.Status)
	}
}

func TestBuyFromListing(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	seller := mustAccount(t, e, "seller", 10)
	buyer := mustAccount(t, e, "buyer", 20)
	item := mustItem(t, e, creator.ID, 10, 2)

	if _, err := e.Buy(ctx, item.ID, seller.ID, ""); err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	listing, err := e.CreateListing(ctx, item.ID, seller.ID, 12)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	tx, err := e.BuyFromListing(ctx, listing.ID, buyer.ID, "")
	if err != nil {
		t.Fatalf("buy from listing: %v", err)
	}

	if got := balanceOf(t, e, buyer.ID); got != 8 {
		t.Errorf("buyer balance = %d, want 8", got)
	}
	if got := balanceOf(t, e, seller.ID); got != 12 {
		t.Errorf("seller balance = %d, want 12", got)
	}
	owner, err := e.OwnerOf(ctx, item.ID, tx.EditionNumber)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != buyer.ID {
		t.Errorf("owner = %s, want %s", owner, buyer.ID)
	}

	gotListing, err := e.store.GetListing(ctx, listing.ID)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if gotListing.Status != domain.ListingStatusSold {
		t.Errorf("listing status = %s, want sold", gotListing.Status)
	}
}

func TestBuyFromCancelledListingFails(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	seller := mustAccount(t, e, "seller", 10)
	buyer := mustAccount(t, e, "buyer", 20)
	item := mustItem(t, e, creator.ID, 10, 2)

	if _, err := e.Buy(ctx, item.ID, seller.ID, ""); err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	listing, err := e.CreateListing(ctx, item.ID, seller.ID, 12)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if err := e.CancelListing(ctx, listing.ID, seller.ID); err != nil {
		t.Fatalf("cancel listing: %v", err)
	}

	_, err = e.BuyFromListing(ctx, listing.ID, buyer.ID, "")
	if !errors.Is(err, domain.ErrAlreadyInactive) {
		t.Fatalf("buy error = %v, want ErrAlreadyInactive", err)
	}
	if got := balanceOf(t, e, buyer.ID); got != 20 {
		t.Errorf("buyer balance = %d, want untouched 20", got)
	}
}

func TestBuyOwnListingFails(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	seller := mustAccount(t, e, "seller", 20)
	item := mustItem(t, e, creator.ID, 10, 2)

	if _, err := e.Buy(ctx, item.ID, seller.ID, ""); err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	listing, err := e.CreateListing(ctx, item.ID, seller.ID, 12)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	_, err = e.BuyFromListing(ctx, listing.ID, seller.ID, "")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("buy error = %v, want ErrInvalidArgument", err)
	}
}

func TestBuyFromListingStaleSeller(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	seller := mustAccount(t, e, "seller", 10)
	bidder := mustAccount(t, e, "bidder", 50)
	buyer := mustAccount(t, e, "buyer", 20)
	item := mustItem(t, e, creator.ID, 10, 2)

	if _, err := e.Buy(ctx, item.ID, seller.ID, ""); err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	listing, err := e.CreateListing(ctx, item.ID, seller.ID, 12)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}

	// The seller's only edition leaves through a bid before the listing
	// is bought.
	bid, err := e.PlaceBid(ctx, item.ID, bidder.ID, 15)
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if _, err := e.AcceptBid(ctx, bid.ID, seller.ID, ""); err != nil {
		t.Fatalf("accept bid: %v", err)
	}

	_, err = e.BuyFromListing(ctx, listing.ID, buyer.ID, "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("buy error = %v, want ErrConflict", err)
	}
	if got := balanceOf(t, e, buyer.ID); got != 20 {
		t.Errorf("buyer balance = %d, want untouched 20", got)
	}
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	e := NewEngine(storage.NewMemoryStore(), &fakeOracle{}, newFakeCache(), nil, nil, 64)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 50)
	item := mustItem(t, e, creator.ID, 10, 5)

	if _, err := e.Buy(ctx, item.ID, buyer.ID, "req-1"); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	_, err := e.Buy(ctx, item.ID, buyer.ID, "req-1")
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("replay error = %v, want ErrDuplicateRequest", err)
	}
	if got := balanceOf(t, e, buyer.ID); got != 40 {
		t.Errorf("buyer balance = %d, want charged once: 40", got)
	}
}

func TestFailedRequestIDCanBeRetried(t *testing.T) {
	e := NewEngine(storage.NewMemoryStore(), &fakeOracle{}, newFakeCache(), nil, nil, 64)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 5)
	item := mustItem(t, e, creator.ID, 10, 5)

	_, err := e.Buy(ctx, item.ID, buyer.ID, "req-7")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("first buy error = %v, want ErrInsufficientBalance", err)
	}

	if err := e.store.Credit(ctx, buyer.ID, 10); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}
	if _, err := e.Buy(ctx, item.ID, buyer.ID, "req-7"); err != nil {
		t.Fatalf("retry with same request id: %v", err)
	}
}

func TestBuyFastFailsOnExhaustedMirror(t *testing.T) {
	cache := newFakeCache()
	e := NewEngine(storage.NewMemoryStore(), &fakeOracle{}, cache, nil, nil, 64)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 50)
	item := mustItem(t, e, creator.ID, 10, 3)

	// The mirror reports sold out even though the tracker has editions
	// left; the buy is rejected before any entity is touched.
	if err := cache.SetEditionsRemaining(ctx, item.ID, 0); err != nil {
		t.Fatalf("set mirror: %v", err)
	}

	_, err := e.Buy(ctx, item.ID, buyer.ID, "")
	if !errors.Is(err, domain.ErrExhausted) {
		t.Fatalf("buy error = %v, want ErrExhausted", err)
	}
	if got := balanceOf(t, e, buyer.ID); got != 50 {
		t.Errorf("buyer balance = %d, want untouched 50", got)
	}
	got, err := e.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentEdition != 0 {
		t.Errorf("edition counter = %d, want untouched 0", got.CurrentEdition)
	}
}

func TestBuyRestoresMirrorOnSettlementFailure(t *testing.T) {
	cache := newFakeCache()
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem, failOwnership: true}
	e := NewEngine(flaky, &fakeOracle{}, cache, nil, nil, 64)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 50)
	item := mustItem(t, e, creator.ID, 10, 3)

	if _, err := e.Buy(ctx, item.ID, buyer.ID, ""); err == nil {
		t.Fatal("expected buy to fail")
	}

	remaining, ok, err := cache.EditionsRemaining(ctx, item.ID)
	if err != nil {
		t.Fatalf("editions remaining: %v", err)
	}
	if !ok || remaining != 3 {
		t.Errorf("mirror = (%d, %v), want restored (3, true)", remaining, ok)
	}

	// The restored mirror still admits the next buy.
	flaky.failOwnership = false
	if _, err := e.Buy(ctx, item.ID, buyer.ID, ""); err != nil {
		t.Fatalf("buy after recovery: %v", err)
	}
}

func TestMissingMirrorFallsThroughToTracker(t *testing.T) {
	cache := newFakeCache()
	e := NewEngine(storage.NewMemoryStore(), &fakeOracle{}, cache, nil, nil, 64)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 50)
	item := mustItem(t, e, creator.ID, 10, 2)

	// Drop the mirror entirely; the tracker stays authoritative.
	cache.mu.Lock()
	delete(cache.editions, item.ID)
	cache.mu.Unlock()

	if _, err := e.Buy(ctx, item.ID, buyer.ID, ""); err != nil {
		t.Fatalf("buy without mirror: %v", err)
	}
}

func TestBuyAfterCloseDropsFeedOnly(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 15)
	item := mustItem(t, e, creator.ID, 10, 3)

	e.Close()
	e.Close()

	// The feed is gone but settlements still commit.
	tx, err := e.Buy(ctx, item.ID, buyer.ID, "")
	if err != nil {
		t.Fatalf("buy after close: %v", err)
	}
	if tx.EditionNumber != 1 {
		t.Errorf("edition = %d, want 1", tx.EditionNumber)
	}
	if got := balanceOf(t, e, buyer.ID); got != 5 {
		t.Errorf("buyer balance = %d, want 5", got)
	}
}

func TestOracleFailureDoesNotBlockSettlement(t *testing.T) {
	e := NewEngine(storage.NewMemoryStore(), &fakeOracle{fail: true}, nil, nil, nil, 64)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 15)
	item := mustItem(t, e, creator.ID, 10, 3)

	tx, err := e.Buy(ctx, item.ID, buyer.ID, "")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if tx.ProofRef != "" {
		t.Errorf("proof ref = %q, want empty on oracle failure", tx.ProofRef)
	}
	if got := balanceOf(t, e, creator.ID); got != 10 {
		t.Errorf("creator balance = %d, want 10", got)
	}
}

func TestLockWaitIsBounded(t *testing.T) {
	e := newTestEngine(storage.NewMemoryStore())
	e.SetLockWait(50 * time.Millisecond)
	ctx := context.Background()

	creator := mustAccount(t, e, "creator", 0)
	buyer := mustAccount(t, e, "buyer", 15)
	item := mustItem(t, e, creator.ID, 10, 3)

	release, err := e.locks.acquire(ctx, item.ID, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = e.Buy(ctx, item.ID, buyer.ID, "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("buy error = %v, want ErrConflict", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lock wait took %s, want bounded by ~50ms", elapsed)
	}
}
