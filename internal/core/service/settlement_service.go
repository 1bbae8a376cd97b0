package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/metrics"
	"github.com/tvh0522/mintbay/internal/port"
)

const (
	intentBuy            = "buy"
	intentAcceptBid      = "accept_bid"
	intentBuyFromListing = "buy_from_listing"

	defaultLockWait  = 5 * time.Second
	defaultQueueSize = 1024
)

// Engine is the settlement coordinator: the only component that mutates
// more than one entity per operation. Every settlement serializes on its
// item's lock, applies each step through the store ports, and rolls back
// already-applied steps with compensating actions when a later step
// fails. The proof oracle is consulted only after every mutation
// succeeded and can never undo a settlement.
type Engine struct {
	store    port.Store
	oracle   port.ProofOracle
	cache    port.CacheRepository
	logger   *slog.Logger
	metrics  *metrics.Metrics
	locks    *itemLocks
	lockWait time.Duration

	settled    chan domain.Transaction
	feedMu     sync.Mutex
	feedClosed bool
}

func NewEngine(store port.Store, oracle port.ProofOracle, cache port.CacheRepository, logger *slog.Logger, m *metrics.Metrics, queueSize int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Engine{
		store:    store,
		oracle:   oracle,
		cache:    cache,
		logger:   logger,
		metrics:  m,
		locks:    newItemLocks(),
		lockWait: defaultLockWait,
		settled:  make(chan domain.Transaction, queueSize),
	}
}

// SetLockWait bounds how long a settlement waits for a contended item.
func (e *Engine) SetLockWait(wait time.Duration) {
	if wait > 0 {
		e.lockWait = wait
	}
}

// SettlementFeed streams settled transactions for the activity workers.
func (e *Engine) SettlementFeed() <-chan domain.Transaction {
	return e.settled
}

func (e *Engine) Close() {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	if e.feedClosed {
		return
	}
	e.feedClosed = true
	close(e.settled)
}

// Buy settles a direct mint-purchase: the buyer pays the creator the
// item price and claims the next unclaimed edition.
func (e *Engine) Buy(ctx context.Context, itemID, buyerID, requestID string) (domain.Transaction, error) {
	start := time.Now()
	tx, err := e.buy(ctx, itemID, buyerID, requestID)
	e.metrics.ObserveSettlement(intentBuy, statusLabel(err), time.Since(start))
	return tx, err
}

func (e *Engine) buy(ctx context.Context, itemID, buyerID, requestID string) (domain.Transaction, error) {
	if itemID == "" || buyerID == "" {
		return domain.Transaction{}, fmt.Errorf("item and buyer are required: %w", domain.ErrInvalidArgument)
	}

	done, err := e.beginIdempotent(ctx, requestID)
	if err != nil {
		return domain.Transaction{}, err
	}

	if err := e.claimMirroredEdition(ctx, itemID); err != nil {
		done(err)
		return domain.Transaction{}, err
	}

	tx, err := e.buyLocked(ctx, itemID, buyerID)
	if err != nil && !errors.Is(err, domain.ErrExhausted) {
		// A tracker-side exhaustion means the mirror at zero is already
		// right; restoring would readmit buys for a sold-out item.
		e.restoreMirroredEdition(ctx, itemID)
	}
	done(err)
	return tx, err
}

// claimMirroredEdition fast-fails a buy against the editions-remaining
// mirror before the item lock is taken. The mirror is advisory: a cache
// error or a missing mirror falls through to the edition tracker.
func (e *Engine) claimMirroredEdition(ctx context.Context, itemID string) error {
	if e.cache == nil {
		return nil
	}

	ok, err := e.cache.DecrementEditionsRemaining(ctx, itemID)
	if err != nil {
		e.logger.Warn("edition mirror decrement failed", "item_id", itemID, "error", err)
		return nil
	}
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrExhausted)
	}
	return nil
}

func (e *Engine) restoreMirroredEdition(ctx context.Context, itemID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.IncrementEditionsRemaining(context.WithoutCancel(ctx), itemID); err != nil {
		e.logger.Warn("edition mirror restore failed", "item_id", itemID, "error", err)
	}
}

func (e *Engine) buyLocked(ctx context.Context, itemID, buyerID string) (domain.Transaction, error) {
	release, err := e.locks.acquire(ctx, itemID, e.lockWait)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer release()

	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if item.Exhausted() {
		return domain.Transaction{}, fmt.Errorf("item %s: %w", itemID, domain.ErrExhausted)
	}
	if _, err := e.store.GetAccount(ctx, buyerID); err != nil {
		return domain.Transaction{}, err
	}

	if err := e.store.Debit(ctx, buyerID, item.Price); err != nil {
		return domain.Transaction{}, err
	}

	rb := e.newRollback(ctx)
	rb.add("re-credit buyer", func(rctx context.Context) error {
		return e.store.Credit(rctx, buyerID, item.Price)
	})

	if err := e.store.Credit(ctx, item.CreatorID, item.Price); err != nil {
		rb.run("credit creator failed")
		return domain.Transaction{}, err
	}
	rb.add("re-debit creator", func(rctx context.Context) error {
		return e.store.Debit(rctx, item.CreatorID, item.Price)
	})

	edition, err := e.store.ClaimNextEdition(ctx, itemID)
	if err != nil {
		rb.run("edition claim failed")
		return domain.Transaction{}, err
	}
	rb.add("release edition", func(rctx context.Context) error {
		return e.store.ReleaseEdition(rctx, itemID)
	})

	rec := domain.OwnershipRecord{ItemID: itemID, EditionNumber: edition, OwnerID: buyerID}
	if err := e.store.RecordInitialOwnership(ctx, rec); err != nil {
		rb.run("ownership record failed")
		return domain.Transaction{}, err
	}

	if err := e.store.IncrementSales(ctx, itemID); err != nil {
		e.logger.Warn("sales counter update failed", "item_id", itemID, "error", err)
	}

	proofRef := e.certify(ctx, port.OperationDescriptor{
		Kind:          string(domain.TransactionKindMint),
		ItemID:        itemID,
		EditionNumber: edition,
		FromAccountID: item.CreatorID,
		ToAccountID:   buyerID,
		Price:         item.Price,
	})

	tx, err := e.appendTransaction(ctx, domain.Transaction{
		ItemID:        itemID,
		EditionNumber: edition,
		BuyerID:       buyerID,
		SellerID:      item.CreatorID,
		Kind:          domain.TransactionKindMint,
		Price:         item.Price,
		ProofRef:      proofRef,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	e.mirrorEditions(ctx, itemID, item.EditionSize-edition)
	e.emit(tx)
	return tx, nil
}

// AcceptBid settles a resale against a standing bid: the bidder pays the
// bid amount, one of the seller's editions changes hands, and every
// active bid on the item is retired.
func (e *Engine) AcceptBid(ctx context.Context, bidID, sellerID, requestID string) (domain.Transaction, error) {
	start := time.Now()
	tx, err := e.acceptBid(ctx, bidID, sellerID, requestID)
	e.metrics.ObserveSettlement(intentAcceptBid, statusLabel(err), time.Since(start))
	return tx, err
}

func (e *Engine) acceptBid(ctx context.Context, bidID, sellerID, requestID string) (domain.Transaction, error) {
	if bidID == "" || sellerID == "" {
		return domain.Transaction{}, fmt.Errorf("bid and seller are required: %w", domain.ErrInvalidArgument)
	}

	done, err := e.beginIdempotent(ctx, requestID)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx, err := e.acceptBidLocked(ctx, bidID, sellerID)
	done(err)
	return tx, err
}

func (e *Engine) acceptBidLocked(ctx context.Context, bidID, sellerID string) (domain.Transaction, error) {
	bid, err := e.store.GetBid(ctx, bidID)
	if err != nil {
		return domain.Transaction{}, err
	}

	release, err := e.locks.acquire(ctx, bid.ItemID, e.lockWait)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer release()

	// Re-read under the lock: the bid may have been cancelled while we
	// waited.
	bid, err = e.store.GetBid(ctx, bidID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !bid.Active() {
		return domain.Transaction{}, fmt.Errorf("bid %s is %s: %w", bidID, bid.Status, domain.ErrAlreadyInactive)
	}

	editions, err := e.store.EditionsOwnedBy(ctx, bid.ItemID, sellerID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(editions) == 0 {
		return domain.Transaction{}, fmt.Errorf("seller %s holds no edition of item %s: %w", sellerID, bid.ItemID, domain.ErrNotOwner)
	}
	edition := editions[0]

	tx, err := e.settleResale(ctx, resale{
		itemID:   bid.ItemID,
		edition:  edition,
		sellerID: sellerID,
		buyerID:  bid.BidderID,
		price:    bid.Amount,
	}, func(cleanupCtx context.Context) error {
		if err := e.store.DeactivateBid(cleanupCtx, bidID, domain.BidStatusAccepted); err != nil {
			return fmt.Errorf("deactivate accepted bid: %w", err)
		}
		// The edition is gone; every other bid on the item is now stale.
		if _, err := e.store.DeactivateBidsForItem(cleanupCtx, bid.ItemID, domain.BidStatusRejected); err != nil {
			return fmt.Errorf("deactivate competing bids: %w", err)
		}
		return nil
	})
	return tx, err
}

// BuyFromListing settles a resale against a fixed-price listing. Only
// the purchased listing is deactivated; other listings and bids on the
// item stay valid.
func (e *Engine) BuyFromListing(ctx context.Context, listingID, buyerID, requestID string) (domain.Transaction, error) {
	start := time.Now()
	tx, err := e.buyFromListing(ctx, listingID, buyerID, requestID)
	e.metrics.ObserveSettlement(intentBuyFromListing, statusLabel(err), time.Since(start))
	return tx, err
}

func (e *Engine) buyFromListing(ctx context.Context, listingID, buyerID, requestID string) (domain.Transaction, error) {
	if listingID == "" || buyerID == "" {
		return domain.Transaction{}, fmt.Errorf("listing and buyer are required: %w", domain.ErrInvalidArgument)
	}

	done, err := e.beginIdempotent(ctx, requestID)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx, err := e.buyFromListingLocked(ctx, listingID, buyerID)
	done(err)
	return tx, err
}

func (e *Engine) buyFromListingLocked(ctx context.Context, listingID, buyerID string) (domain.Transaction, error) {
	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return domain.Transaction{}, err
	}

	release, err := e.locks.acquire(ctx, listing.ItemID, e.lockWait)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer release()

	listing, err = e.store.GetListing(ctx, listingID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !listing.Active() {
		return domain.Transaction{}, fmt.Errorf("listing %s is %s: %w", listingID, listing.Status, domain.ErrAlreadyInactive)
	}
	if listing.SellerID == buyerID {
		return domain.Transaction{}, fmt.Errorf("cannot buy own listing: %w", domain.ErrInvalidArgument)
	}

	editions, err := e.store.EditionsOwnedBy(ctx, listing.ItemID, listing.SellerID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(editions) == 0 {
		// The seller parted with their editions since listing; the
		// listing is stale.
		return domain.Transaction{}, fmt.Errorf("seller %s no longer holds item %s: %w", listing.SellerID, listing.ItemID, domain.ErrConflict)
	}
	edition := editions[0]

	tx, err := e.settleResale(ctx, resale{
		itemID:   listing.ItemID,
		edition:  edition,
		sellerID: listing.SellerID,
		buyerID:  buyerID,
		price:    listing.Price,
	}, func(cleanupCtx context.Context) error {
		if err := e.store.DeactivateListing(cleanupCtx, listingID, domain.ListingStatusSold); err != nil {
			return fmt.Errorf("deactivate listing: %w", err)
		}
		return nil
	})
	return tx, err
}

type resale struct {
	itemID   string
	edition  int
	sellerID string
	buyerID  string
	price    int64
}

// settleResale is the shared money+ownership+cleanup sequence behind
// AcceptBid and BuyFromListing. cleanup retires the book entries; it
// runs after the transfer succeeded, so a cleanup failure is an internal
// fault (inactive entries must never reactivate) and is reported loudly
// instead of compensated.
func (e *Engine) settleResale(ctx context.Context, r resale, cleanup func(context.Context) error) (domain.Transaction, error) {
	if err := e.store.Debit(ctx, r.buyerID, r.price); err != nil {
		return domain.Transaction{}, err
	}

	rb := e.newRollback(ctx)
	rb.add("re-credit buyer", func(rctx context.Context) error {
		return e.store.Credit(rctx, r.buyerID, r.price)
	})

	if err := e.store.Credit(ctx, r.sellerID, r.price); err != nil {
		rb.run("credit seller failed")
		return domain.Transaction{}, err
	}
	rb.add("re-debit seller", func(rctx context.Context) error {
		return e.store.Debit(rctx, r.sellerID, r.price)
	})

	if err := e.store.Transfer(ctx, r.itemID, r.edition, r.sellerID, r.buyerID); err != nil {
		rb.run("ownership transfer failed")
		return domain.Transaction{}, err
	}

	if err := e.store.IncrementSales(ctx, r.itemID); err != nil {
		e.logger.Warn("sales counter update failed", "item_id", r.itemID, "error", err)
	}

	if err := cleanup(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("settlement book cleanup failed; ledger and ownership are committed",
			"item_id", r.itemID, "edition", r.edition, "error", err)
		return domain.Transaction{}, fmt.Errorf("settlement cleanup: %w", domain.ErrInternal)
	}

	proofRef := e.certify(ctx, port.OperationDescriptor{
		Kind:          string(domain.TransactionKindTransfer),
		ItemID:        r.itemID,
		EditionNumber: r.edition,
		FromAccountID: r.sellerID,
		ToAccountID:   r.buyerID,
		Price:         r.price,
	})

	tx, err := e.appendTransaction(ctx, domain.Transaction{
		ItemID:        r.itemID,
		EditionNumber: r.edition,
		BuyerID:       r.buyerID,
		SellerID:      r.sellerID,
		Kind:          domain.TransactionKindTransfer,
		Price:         r.price,
		ProofRef:      proofRef,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	e.emit(tx)
	return tx, nil
}

// beginIdempotent claims the request key when a cache is configured.
// The returned func releases the key again when the settlement failed,
// so callers may retry with the same request id.
func (e *Engine) beginIdempotent(ctx context.Context, requestID string) (func(error), error) {
	if e.cache == nil || requestID == "" {
		return func(error) {}, nil
	}

	key := "settle:" + requestID
	ok, err := e.cache.SetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, domain.ErrDuplicateRequest)
	}

	return func(settleErr error) {
		if settleErr == nil {
			return
		}
		// ErrInternal means the money/ownership steps committed; keep
		// the key so a retry cannot settle twice.
		if errors.Is(settleErr, domain.ErrInternal) {
			return
		}
		if err := e.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); err != nil {
			e.logger.Warn("idempotency release failed", "request_id", requestID, "error", err)
		}
	}, nil
}

func (e *Engine) certify(ctx context.Context, op port.OperationDescriptor) string {
	if e.oracle == nil {
		return ""
	}
	proofRef, err := e.oracle.Certify(ctx, op)
	if err != nil {
		// Policy: the settlement is already committed; oracle trouble is
		// logged, never rolled back.
		e.metrics.IncOracleCall("error")
		e.logger.Warn("proof oracle certification failed",
			"kind", op.Kind, "item_id", op.ItemID, "edition", op.EditionNumber, "error", err)
		return ""
	}
	e.metrics.IncOracleCall("success")
	return proofRef
}

func (e *Engine) appendTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	appended, err := e.store.AppendTransaction(context.WithoutCancel(ctx), tx)
	if err != nil {
		// Money and ownership are committed; a missing log entry is an
		// internal fault, not something to reverse.
		e.logger.Error("transaction log append failed after committed settlement",
			"item_id", tx.ItemID, "edition", tx.EditionNumber,
			"buyer_id", tx.BuyerID, "seller_id", tx.SellerID, "error", err)
		return domain.Transaction{}, fmt.Errorf("transaction log append: %w", domain.ErrInternal)
	}
	return appended, nil
}

func (e *Engine) mirrorEditions(ctx context.Context, itemID string, remaining int) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetEditionsRemaining(context.WithoutCancel(ctx), itemID, remaining); err != nil {
		e.logger.Warn("edition mirror update failed", "item_id", itemID, "error", err)
	}
}

// emit is best-effort: a full queue or a closed feed drops the
// transaction, never blocks or fails the settlement.
func (e *Engine) emit(tx domain.Transaction) {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()

	if e.feedClosed {
		e.metrics.IncFeedDropped()
		return
	}

	select {
	case e.settled <- tx:
	default:
		e.metrics.IncFeedDropped()
		e.logger.Warn("activity feed queue full, dropping transaction", "transaction_id", tx.ID)
	}
}

// rollback runs compensating actions in reverse order. Compensations
// use a context detached from the caller's so a cancelled request still
// unwinds cleanly; a compensation failure leaves the ledger inconsistent
// and is logged as loudly as possible.
type rollback struct {
	ctx     context.Context
	logger  *slog.Logger
	actions []rollbackAction
}

type rollbackAction struct {
	name string
	fn   func(context.Context) error
}

func (e *Engine) newRollback(ctx context.Context) *rollback {
	return &rollback{ctx: context.WithoutCancel(ctx), logger: e.logger}
}

func (r *rollback) add(name string, fn func(context.Context) error) {
	r.actions = append(r.actions, rollbackAction{name: name, fn: fn})
}

func (r *rollback) run(reason string) {
	for i := len(r.actions) - 1; i >= 0; i-- {
		action := r.actions[i]
		if err := action.fn(r.ctx); err != nil {
			r.logger.Error("settlement rollback step failed",
				"step", action.name, "reason", reason, "error", err)
		}
	}
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrAlreadyInactive):
		return "already_inactive"
	case errors.Is(err, domain.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "duplicate"
	default:
		return "error"
	}
}
