package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tvh0522/mintbay/internal/adapter/oracle"
	"github.com/tvh0522/mintbay/internal/adapter/storage"
	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/core/service"
)

const (
	editionSize   = 20
	totalRequests = 50
	itemPrice     = 10
	buyerFunds    = 10
	queueSize     = 100
)

func main() {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	engine := service.NewEngine(store, oracle.NewSimulated(), nil, nil, nil, queueSize)
	defer engine.Close()

	// Drain the settlement feed in background
	go func() {
		for range engine.SettlementFeed() {
		}
	}()

	creator, err := engine.CreateAccount(ctx, "creator", 0)
	if err != nil {
		log.Fatalf("failed to create creator: %v", err)
	}
	item, err := engine.Mint(ctx, creator.ID, "stress drop", "art", itemPrice, editionSize, "")
	if err != nil {
		log.Fatalf("failed to mint item: %v", err)
	}

	buyers := make([]domain.Account, totalRequests)
	var fundsBefore int64
	for i := range buyers {
		buyers[i], err = engine.CreateAccount(ctx, fmt.Sprintf("buyer-%d", i), buyerFunds)
		if err != nil {
			log.Fatalf("failed to create buyer: %v", err)
		}
		fundsBefore += buyerFunds
	}

	// Counters
	var successCount atomic.Int32
	var exhaustedCount atomic.Int32
	var otherCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			_, err := engine.Buy(ctx, item.ID, buyers[i].ID, fmt.Sprintf("stress-%d", i))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrExhausted):
				exhaustedCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	exhausted := exhaustedCount.Load()
	other := otherCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Edition Size:     %d\n", editionSize)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Exhausted:        %d\n", exhausted)
	fmt.Printf("Other Errors:     %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == editionSize && exhausted == totalRequests-editionSize && other == 0 {
		fmt.Printf("PASS: Exactly %d buys succeeded, %d rejected as exhausted\n", editionSize, totalRequests-editionSize)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d exhausted, got %d/%d (other: %d)\n",
			editionSize, totalRequests-editionSize, success, exhausted, other)
	}

	// Verify edition counter
	final, err := engine.GetItem(ctx, item.ID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	fmt.Printf("Final Edition Counter: %d/%d\n", final.CurrentEdition, final.EditionSize)
	if final.CurrentEdition == final.EditionSize {
		fmt.Println("PASS: Every edition claimed exactly once")
	} else {
		fmt.Printf("FAIL: Expected %d claimed editions, got %d\n", final.EditionSize, final.CurrentEdition)
	}

	// Verify credit conservation
	accounts, err := engine.ListAccounts(ctx)
	if err != nil {
		log.Fatalf("failed to list accounts: %v", err)
	}
	var fundsAfter int64
	for _, acct := range accounts {
		fundsAfter += acct.CreditBalance
	}
	fmt.Printf("Total Credits:    %d (before: %d)\n", fundsAfter, fundsBefore)
	if fundsAfter == fundsBefore {
		fmt.Println("PASS: Credits conserved")
	} else {
		fmt.Printf("FAIL: Expected %d total credits, got %d\n", fundsBefore, fundsAfter)
	}

	// Verify creator revenue matches settled sales
	creatorAcct, err := engine.GetAccount(ctx, creator.ID)
	if err != nil {
		log.Fatalf("failed to read creator: %v", err)
	}
	wantRevenue := int64(success) * itemPrice
	if creatorAcct.CreditBalance == wantRevenue {
		fmt.Printf("PASS: Creator earned %d credits\n", wantRevenue)
	} else {
		fmt.Printf("FAIL: Expected creator revenue %d, got %d\n", wantRevenue, creatorAcct.CreditBalance)
	}
}
