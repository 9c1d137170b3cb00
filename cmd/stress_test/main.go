package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/adapter/storage"
	"github.com/rl1809/order-engine/internal/config"
	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/core/service"
	"github.com/rl1809/order-engine/internal/port"
)

const (
	itemID        = "stress-item"
	initialStock  = 20
	totalRequests = 50
)

// Concurrent checkout load generator. Without DB_DRIVER/DB_DSN it runs
// against a throwaway SQLite file.
func main() {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Database.Driver = storage.DriverSQLite
	dir, err := os.MkdirTemp("", "order-engine-stress")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)
	cfg.Database.DSN = filepath.Join(dir, "stress.db")
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
		cfg.Database.DSN = os.Getenv("DB_DSN")
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		TxRetries: 10,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	err = store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return uow.Inventory().PutItem(ctx, domain.Item{
			ID:    itemID,
			Name:  "Stress Item",
			Price: decimal.RequireFromString("19.99"),
			Stock: initialStock,
		})
	})
	if err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	ledger := service.NewInventoryLedger(store, nil, 1, nil)
	carts := service.NewCartService(store, ledger, nil)
	orders := service.NewOrderService(store, ledger, nil, nil)

	owners := make([]domain.Owner, totalRequests)
	for i := range owners {
		owners[i] = domain.AnonymousOwner(fmt.Sprintf("stress-session-%d", i))
		if err := carts.Clear(ctx, owners[i]); err != nil {
			log.Fatalf("failed to reset cart: %v", err)
		}
		if _, err := carts.AddLine(ctx, owners[i], itemID, 1); err != nil {
			log.Fatalf("failed to fill cart %d: %v", i, err)
		}
	}

	var successCount, soldOutCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for _, owner := range owners {
		wg.Add(1)
		go func(owner domain.Owner) {
			defer wg.Done()

			_, err := orders.Checkout(ctx, owner, service.CheckoutRequest{ShippingAddress: "1 Load Test Way"})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("checkout %s: %v", owner, err)
			}
		}(owner)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", cfg.Database.Driver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Checkouts:  %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && soldOut == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d orders placed, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d placed/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	item, err := store.Reader().Inventory().GetItem(ctx, itemID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", item.Stock)
	if item.Stock == 0 {
		fmt.Println("PASS: stock depleted to 0")
	} else {
		fmt.Printf("FAIL: expected stock 0, got %d\n", item.Stock)
	}
}
