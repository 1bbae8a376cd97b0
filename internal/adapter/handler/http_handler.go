package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/core/service"
)

type HTTPHandler struct {
	engine *service.Engine
}

func NewHTTPHandler(engine *service.Engine) *HTTPHandler {
	return &HTTPHandler{engine: engine}
}

// Routes mounts the full caller surface on a chi router.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/health", h.HealthCheck)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.CreateAccount)
		r.Get("/", h.ListAccounts)
		r.Get("/{accountID}", h.GetAccount)
		r.Get("/{accountID}/holdings", h.Holdings)
		r.Get("/{accountID}/activity", h.Activity)
	})

	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.Mint)
		r.Get("/", h.ListItems)
		r.Get("/{itemID}", h.GetItem)
		r.Post("/{itemID}/buy", h.Buy)
		r.Get("/{itemID}/history", h.ItemHistory)
		r.Get("/{itemID}/editions/{edition}/owner", h.OwnerOf)
		r.Post("/{itemID}/bids", h.PlaceBid)
		r.Get("/{itemID}/bids", h.ActiveBids)
		r.Post("/{itemID}/listings", h.CreateListing)
		r.Get("/{itemID}/listings", h.ActiveListings)
	})

	r.Route("/bids/{bidID}", func(r chi.Router) {
		r.Post("/accept", h.AcceptBid)
		r.Post("/cancel", h.CancelBid)
		r.Post("/reject", h.RejectBid)
	})

	r.Route("/listings/{listingID}", func(r chi.Router) {
		r.Post("/buy", h.BuyFromListing)
		r.Post("/cancel", h.CancelListing)
	})
}

type accountResponse struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	CreditBalance int64  `json:"credit_balance"`
}

type itemResponse struct {
	ID             string `json:"id"`
	CreatorID      string `json:"creator_id"`
	Title          string `json:"title"`
	Category       string `json:"category,omitempty"`
	Price          int64  `json:"price"`
	EditionSize    int    `json:"edition_size"`
	CurrentEdition int    `json:"current_edition"`
	SalesCount     int    `json:"sales_count"`
	ContentRef     string `json:"content_ref,omitempty"`
}

type bidResponse struct {
	ID       string `json:"id"`
	ItemID   string `json:"item_id"`
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
}

type listingResponse struct {
	ID       string `json:"id"`
	ItemID   string `json:"item_id"`
	SellerID string `json:"seller_id"`
	Price    int64  `json:"price"`
	Status   string `json:"status"`
}

type transactionResponse struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	EditionNumber int       `json:"edition_number"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Kind          string    `json:"kind"`
	Price         int64     `json:"price"`
	ProofRef      string    `json:"proof_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type holdingResponse struct {
	ItemID        string    `json:"item_id"`
	EditionNumber int       `json:"edition_number"`
	AcquiredAt    time.Time `json:"acquired_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{ID: a.ID, DisplayName: a.DisplayName, CreditBalance: a.CreditBalance}
}

func toItemResponse(i domain.Item) itemResponse {
	return itemResponse{
		ID: i.ID, CreatorID: i.CreatorID, Title: i.Title, Category: i.Category,
		Price: i.Price, EditionSize: i.EditionSize, CurrentEdition: i.CurrentEdition,
		SalesCount: i.SalesCount, ContentRef: i.ContentRef,
	}
}

func toBidResponse(b domain.Bid) bidResponse {
	return bidResponse{ID: b.ID, ItemID: b.ItemID, BidderID: b.BidderID, Amount: b.Amount, Status: string(b.Status)}
}

func toListingResponse(l domain.Listing) listingResponse {
	return listingResponse{ID: l.ID, ItemID: l.ItemID, SellerID: l.SellerID, Price: l.Price, Status: string(l.Status)}
}

func toTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID: t.ID, ItemID: t.ItemID, EditionNumber: t.EditionNumber,
		BuyerID: t.BuyerID, SellerID: t.SellerID, Kind: string(t.Kind),
		Price: t.Price, ProofRef: t.ProofRef, CreatedAt: t.CreatedAt,
	}
}

func toTransactionResponses(txs []domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return out
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName    string `json:"display_name"`
		InitialBalance int64  `json:"initial_balance"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	acct, err := h.engine.CreateAccount(r.Context(), req.DisplayName, req.InitialBalance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (h *HTTPHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.engine.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *HTTPHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.engine.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.HoldingsOf(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]holdingResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, holdingResponse{ItemID: rec.ItemID, EditionNumber: rec.EditionNumber, AcquiredAt: rec.AcquiredAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) Activity(w http.ResponseWriter, r *http.Request) {
	txs, err := h.engine.AccountActivity(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponses(txs))
}

func (h *HTTPHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CreatorID   string `json:"creator_id"`
		Title       string `json:"title"`
		Category    string `json:"category"`
		Price       int64  `json:"price"`
		EditionSize int    `json:"edition_size"`
		ContentRef  string `json:"content_ref"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.engine.Mint(r.Context(), req.CreatorID, req.Title, req.Category, req.Price, req.EditionSize, req.ContentRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.ListItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuyerID   string `json:"buyer_id"`
		RequestID string `json:"request_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	tx, err := h.engine.Buy(r.Context(), chi.URLParam(r, "itemID"), req.BuyerID, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *HTTPHandler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := h.engine.ItemHistory(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponses(txs))
}

func (h *HTTPHandler) OwnerOf(w http.ResponseWriter, r *http.Request) {
	edition, err := parseIntParam(r, "edition")
	if err != nil {
		writeError(w, err)
		return
	}

	ownerID, err := h.engine.OwnerOf(r.Context(), chi.URLParam(r, "itemID"), edition)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner_id": ownerID})
}

func (h *HTTPHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BidderID string `json:"bidder_id"`
		Amount   int64  `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), chi.URLParam(r, "itemID"), req.BidderID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBidResponse(bid))
}

func (h *HTTPHandler) ActiveBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.engine.ActiveBidsFor(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]bidResponse, 0, len(bids))
	for _, bid := range bids {
		out = append(out, toBidResponse(bid))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
		RequestID string `json:"request_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	tx, err := h.engine.AcceptBid(r.Context(), chi.URLParam(r, "bidID"), req.AccountID, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *HTTPHandler) CancelBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.CancelBid(r.Context(), chi.URLParam(r, "bidID"), req.AccountID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *HTTPHandler) RejectBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.RejectBid(r.Context(), chi.URLParam(r, "bidID"), req.AccountID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *HTTPHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID string `json:"seller_id"`
		Price    int64  `json:"price"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	listing, err := h.engine.CreateListing(r.Context(), chi.URLParam(r, "itemID"), req.SellerID, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(listing))
}

func (h *HTTPHandler) ActiveListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.engine.ActiveListingsFor(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]listingResponse, 0, len(listings))
	for _, listing := range listings {
		out = append(out, toListingResponse(listing))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) BuyFromListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuyerID   string `json:"buyer_id"`
		RequestID string `json:"request_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	tx, err := h.engine.BuyFromListing(r.Context(), chi.URLParam(r, "listingID"), req.BuyerID, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *HTTPHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.CancelListing(r.Context(), chi.URLParam(r, "listingID"), req.AccountID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func parseIntParam(r *http.Request, name string) (int, error) {
	value, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, domain.ErrInvalidArgument)
	}
	return value, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrExhausted), errors.Is(err, domain.ErrAlreadyInactive):
		status = http.StatusGone
	case errors.Is(err, domain.ErrDuplicateRequest), errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
