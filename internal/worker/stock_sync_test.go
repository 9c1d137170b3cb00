package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rl1809/order-engine/internal/core/service"
)

type recordingRefresher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (r *recordingRefresher) Refresh(_ context.Context, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[itemID]++
	if itemID == r.fail {
		return errors.New("cache down")
	}
	return nil
}

func TestPool_DrainsQueueThenStops(t *testing.T) {
	refresher := &recordingRefresher{fail: "b"}
	queue := make(chan service.StockChange, 10)
	queue <- service.StockChange{OrderID: "o1", ItemIDs: []string{"a", "b"}}
	queue <- service.StockChange{OrderID: "o2", ItemIDs: []string{"a"}}
	queue <- service.StockChange{OrderID: "o3", ItemIDs: []string{"c"}}
	close(queue)

	pool := NewPool(refresher, nil)
	pool.Start(3, queue)
	pool.Wait()

	// a failed refresh does not stop the worker
	assert.Equal(t, map[string]int{"a": 2, "b": 1, "c": 1}, refresher.calls)
}

func TestPool_WithLedgerQueue(t *testing.T) {
	refresher := &recordingRefresher{}
	ledger := service.NewInventoryLedger(nil, nil, 4, nil)

	pool := NewPool(refresher, nil)
	pool.Start(2, ledger.GetChangeQueue())
	ledger.Close()
	pool.Wait()

	assert.Empty(t, refresher.calls)
}
