package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/port"
)

// MySQLAdapter implements the store ports over MySQL. Balance, edition
// and status checks run as conditional UPDATEs so each entity mutation
// is atomic on its own row; the settlement engine composes them with
// compensating actions instead of one transaction spanning every table.
type MySQLAdapter struct {
	db *sql.DB
}

var _ port.Store = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// AccountLedger --------------------------------------------------------------

func (m *MySQLAdapter) CreateAccount(ctx context.Context, acct domain.Account) (domain.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.CreditBalance < 0 {
		return domain.Account{}, fmt.Errorf("negative balance: %w", domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO accounts (id, display_name, credit_balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		acct.ID, acct.DisplayName, acct.CreditBalance, acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

func (m *MySQLAdapter) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var acct domain.Account
	err := m.db.QueryRowContext(ctx,
		`SELECT id, display_name, credit_balance, created_at, updated_at
		 FROM accounts WHERE id = ?`, id,
	).Scan(&acct.ID, &acct.DisplayName, &acct.CreditBalance, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return acct, nil
}

func (m *MySQLAdapter) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, display_name, credit_balance, created_at, updated_at
		 FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var result []domain.Account
	for rows.Next() {
		var acct domain.Account
		if err := rows.Scan(&acct.ID, &acct.DisplayName, &acct.CreditBalance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (m *MySQLAdapter) Debit(ctx context.Context, accountID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative debit: %w", domain.ErrInvalidArgument)
	}

	res, err := m.db.ExecContext(ctx,
		`UPDATE accounts SET credit_balance = credit_balance - ?, updated_at = ?
		 WHERE id = ? AND credit_balance >= ?`,
		amount, time.Now().UTC(), accountID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := m.GetAccount(ctx, accountID); err != nil {
			return err
		}
		return fmt.Errorf("account %s: %w", accountID, domain.ErrInsufficientBalance)
	}
	return nil
}

func (m *MySQLAdapter) Credit(ctx context.Context, accountID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative credit: %w", domain.ErrInvalidArgument)
	}

	res, err := m.db.ExecContext(ctx,
		`UPDATE accounts SET credit_balance = credit_balance + ?, updated_at = ?
		 WHERE id = ?`,
		amount, time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	return nil
}

// EditionTracker -------------------------------------------------------------

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO items (id, creator_id, title, category, price, edition_size, current_edition, sales_count, content_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.CreatorID, item.Title, item.Category, item.Price,
		item.EditionSize, item.CurrentEdition, item.SalesCount, item.ContentRef,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return m.getItem(ctx, m.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (m *MySQLAdapter) getItem(ctx context.Context, q queryRower, id string) (domain.Item, error) {
	var item domain.Item
	err := q.QueryRowContext(ctx,
		`SELECT id, creator_id, title, category, price, edition_size, current_edition, sales_count, content_ref, created_at, updated_at
		 FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.CreatorID, &item.Title, &item.Category, &item.Price,
		&item.EditionSize, &item.CurrentEdition, &item.SalesCount, &item.ContentRef,
		&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, creator_id, title, category, price, edition_size, current_edition, sales_count, content_ref, created_at, updated_at
		 FROM items ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var result []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.CreatorID, &item.Title, &item.Category, &item.Price,
			&item.EditionSize, &item.CurrentEdition, &item.SalesCount, &item.ContentRef,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (m *MySQLAdapter) ClaimNextEdition(ctx context.Context, itemID string) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE items SET current_edition = current_edition + 1, updated_at = ?
		 WHERE id = ? AND current_edition < edition_size`,
		time.Now().UTC(), itemID,
	)
	if err != nil {
		return 0, fmt.Errorf("claim edition: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := m.getItem(ctx, tx, itemID); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("item %s: %w", itemID, domain.ErrExhausted)
	}

	var edition int
	if err := tx.QueryRowContext(ctx,
		`SELECT current_edition FROM items WHERE id = ?`, itemID,
	).Scan(&edition); err != nil {
		return 0, fmt.Errorf("read claimed edition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit claim: %w", err)
	}
	return edition, nil
}

func (m *MySQLAdapter) ReleaseEdition(ctx context.Context, itemID string) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE items SET current_edition = current_edition - 1, updated_at = ?
		 WHERE id = ? AND current_edition > 0`,
		time.Now().UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("release edition: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := m.GetItem(ctx, itemID); err != nil {
			return err
		}
		return fmt.Errorf("item %s has no claimed editions: %w", itemID, domain.ErrConflict)
	}
	return nil
}

func (m *MySQLAdapter) IncrementSales(ctx context.Context, itemID string) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE items SET sales_count = sales_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("increment sales: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment sales rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	return nil
}

// OwnershipRegistry ----------------------------------------------------------

func (m *MySQLAdapter) RecordInitialOwnership(ctx context.Context, rec domain.OwnershipRecord) error {
	if rec.AcquiredAt.IsZero() {
		rec.AcquiredAt = time.Now().UTC()
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO ownership_records (item_id, edition_number, owner_id, acquired_at)
		 VALUES (?, ?, ?, ?)`,
		rec.ItemID, rec.EditionNumber, rec.OwnerID, rec.AcquiredAt,
	)
	if err != nil {
		return fmt.Errorf("insert ownership record: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Transfer(ctx context.Context, itemID string, editionNumber int, fromOwnerID, toOwnerID string) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE ownership_records SET owner_id = ?, acquired_at = ?
		 WHERE item_id = ? AND edition_number = ? AND owner_id = ?`,
		toOwnerID, time.Now().UTC(), itemID, editionNumber, fromOwnerID,
	)
	if err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transfer rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := m.OwnerOf(ctx, itemID, editionNumber); err != nil {
			return err
		}
		return fmt.Errorf("edition %d of item %s not held by %s: %w", editionNumber, itemID, fromOwnerID, domain.ErrNotOwner)
	}
	return nil
}

func (m *MySQLAdapter) OwnerOf(ctx context.Context, itemID string, editionNumber int) (string, error) {
	var ownerID string
	err := m.db.QueryRowContext(ctx,
		`SELECT owner_id FROM ownership_records WHERE item_id = ? AND edition_number = ?`,
		itemID, editionNumber,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("edition %d of item %s: %w", editionNumber, itemID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("select owner: %w", err)
	}
	return ownerID, nil
}

func (m *MySQLAdapter) HoldingsOf(ctx context.Context, ownerID string) ([]domain.OwnershipRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT item_id, edition_number, owner_id, acquired_at
		 FROM ownership_records WHERE owner_id = ?
		 ORDER BY item_id, edition_number`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select holdings: %w", err)
	}
	defer rows.Close()

	var result []domain.OwnershipRecord
	for rows.Next() {
		var rec domain.OwnershipRecord
		if err := rows.Scan(&rec.ItemID, &rec.EditionNumber, &rec.OwnerID, &rec.AcquiredAt); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (m *MySQLAdapter) EditionsOwnedBy(ctx context.Context, itemID, ownerID string) ([]int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT edition_number FROM ownership_records
		 WHERE item_id = ? AND owner_id = ?
		 ORDER BY edition_number`, itemID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select owned editions: %w", err)
	}
	defer rows.Close()

	var result []int
	for rows.Next() {
		var edition int
		if err := rows.Scan(&edition); err != nil {
			return nil, fmt.Errorf("scan edition: %w", err)
		}
		result = append(result, edition)
	}
	return result, rows.Err()
}

// ListingBook ----------------------------------------------------------------

func (m *MySQLAdapter) CreateListing(ctx context.Context, listing domain.Listing) (domain.Listing, error) {
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	listing.Status = domain.ListingStatusActive
	listing.CreatedAt = now
	listing.UpdatedAt = now

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO listings (id, item_id, seller_id, price, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		listing.ID, listing.ItemID, listing.SellerID, listing.Price, listing.Status,
		listing.CreatedAt, listing.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	return listing, nil
}

func (m *MySQLAdapter) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	var listing domain.Listing
	err := m.db.QueryRowContext(ctx,
		`SELECT id, item_id, seller_id, price, status, created_at, updated_at
		 FROM listings WHERE id = ?`, id,
	).Scan(&listing.ID, &listing.ItemID, &listing.SellerID, &listing.Price,
		&listing.Status, &listing.CreatedAt, &listing.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, fmt.Errorf("listing %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("select listing: %w", err)
	}
	return listing, nil
}

func (m *MySQLAdapter) DeactivateListing(ctx context.Context, id string, status domain.ListingStatus) error {
	if status == domain.ListingStatusActive {
		return fmt.Errorf("cannot deactivate to active: %w", domain.ErrInvalidArgument)
	}

	res, err := m.db.ExecContext(ctx,
		`UPDATE listings SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), id, domain.ListingStatusActive,
	)
	if err != nil {
		return fmt.Errorf("deactivate listing: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate listing rows affected: %w", err)
	}
	if affected == 0 {
		listing, err := m.GetListing(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("listing %s is %s: %w", id, listing.Status, domain.ErrAlreadyInactive)
	}
	return nil
}

func (m *MySQLAdapter) ActiveListingsFor(ctx context.Context, itemID string) ([]domain.Listing, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, item_id, seller_id, price, status, created_at, updated_at
		 FROM listings WHERE item_id = ? AND status = ?
		 ORDER BY price, created_at`, itemID, domain.ListingStatusActive)
	if err != nil {
		return nil, fmt.Errorf("select active listings: %w", err)
	}
	defer rows.Close()

	var result []domain.Listing
	for rows.Next() {
		var listing domain.Listing
		if err := rows.Scan(&listing.ID, &listing.ItemID, &listing.SellerID, &listing.Price,
			&listing.Status, &listing.CreatedAt, &listing.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		result = append(result, listing)
	}
	return result, rows.Err()
}

func (m *MySQLAdapter) ActiveListingCount(ctx context.Context, itemID, sellerID string) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE item_id = ? AND seller_id = ? AND status = ?`,
		itemID, sellerID, domain.ListingStatusActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active listings: %w", err)
	}
	return count, nil
}

// BidBook --------------------------------------------------------------------

func (m *MySQLAdapter) CreateBid(ctx context.Context, bid domain.Bid) (domain.Bid, error) {
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	bid.Status = domain.BidStatusActive
	bid.CreatedAt = now
	bid.UpdatedAt = now

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO bids (id, item_id, bidder_id, amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bid.ID, bid.ItemID, bid.BidderID, bid.Amount, bid.Status, bid.CreatedAt, bid.UpdatedAt,
	)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("insert bid: %w", err)
	}
	return bid, nil
}

func (m *MySQLAdapter) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	var bid domain.Bid
	err := m.db.QueryRowContext(ctx,
		`SELECT id, item_id, bidder_id, amount, status, created_at, updated_at
		 FROM bids WHERE id = ?`, id,
	).Scan(&bid.ID, &bid.ItemID, &bid.BidderID, &bid.Amount, &bid.Status, &bid.CreatedAt, &bid.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bid{}, fmt.Errorf("bid %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Bid{}, fmt.Errorf("select bid: %w", err)
	}
	return bid, nil
}

func (m *MySQLAdapter) DeactivateBid(ctx context.Context, id string, status domain.BidStatus) error {
	if status == domain.BidStatusActive {
		return fmt.Errorf("cannot deactivate to active: %w", domain.ErrInvalidArgument)
	}

	res, err := m.db.ExecContext(ctx,
		`UPDATE bids SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), id, domain.BidStatusActive,
	)
	if err != nil {
		return fmt.Errorf("deactivate bid: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate bid rows affected: %w", err)
	}
	if affected == 0 {
		bid, err := m.GetBid(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("bid %s is %s: %w", id, bid.Status, domain.ErrAlreadyInactive)
	}
	return nil
}

func (m *MySQLAdapter) DeactivateBidsForItem(ctx context.Context, itemID string, status domain.BidStatus) (int, error) {
	if status == domain.BidStatusActive {
		return 0, fmt.Errorf("cannot deactivate to active: %w", domain.ErrInvalidArgument)
	}

	res, err := m.db.ExecContext(ctx,
		`UPDATE bids SET status = ?, updated_at = ?
		 WHERE item_id = ? AND status = ?`,
		status, time.Now().UTC(), itemID, domain.BidStatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate bids for item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate bids rows affected: %w", err)
	}
	return int(affected), nil
}

func (m *MySQLAdapter) ActiveBidsFor(ctx context.Context, itemID string) ([]domain.Bid, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, item_id, bidder_id, amount, status, created_at, updated_at
		 FROM bids WHERE item_id = ? AND status = ?
		 ORDER BY amount DESC, created_at`, itemID, domain.BidStatusActive)
	if err != nil {
		return nil, fmt.Errorf("select active bids: %w", err)
	}
	defer rows.Close()

	var result []domain.Bid
	for rows.Next() {
		var bid domain.Bid
		if err := rows.Scan(&bid.ID, &bid.ItemID, &bid.BidderID, &bid.Amount, &bid.Status, &bid.CreatedAt, &bid.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		result = append(result, bid)
	}
	return result, rows.Err()
}

// TransactionLog -------------------------------------------------------------

func (m *MySQLAdapter) AppendTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO transactions (id, item_id, edition_number, buyer_id, seller_id, kind, price, proof_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.ItemID, tx.EditionNumber, tx.BuyerID, tx.SellerID, tx.Kind, tx.Price, tx.ProofRef, tx.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

func (m *MySQLAdapter) TransactionsForItem(ctx context.Context, itemID string) ([]domain.Transaction, error) {
	return m.queryTransactions(ctx,
		`SELECT id, item_id, edition_number, buyer_id, seller_id, kind, price, proof_ref, created_at
		 FROM transactions WHERE item_id = ? ORDER BY created_at`, itemID)
}

func (m *MySQLAdapter) TransactionsForAccount(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return m.queryTransactions(ctx,
		`SELECT id, item_id, edition_number, buyer_id, seller_id, kind, price, proof_ref, created_at
		 FROM transactions WHERE buyer_id = ? OR seller_id = ? ORDER BY created_at`, accountID, accountID)
}

func (m *MySQLAdapter) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var result []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.ItemID, &tx.EditionNumber, &tx.BuyerID, &tx.SellerID,
			&tx.Kind, &tx.Price, &tx.ProofRef, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}
