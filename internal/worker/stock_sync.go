package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/core/service"
)

const refreshTimeout = 5 * time.Second

// Refresher copies authoritative stock into the advisory cache.
type Refresher interface {
	Refresh(ctx context.Context, itemID string) error
}

// Pool drains committed stock changes and refreshes the cache for each item.
type Pool struct {
	refresher Refresher
	logger    *zap.Logger
	wg        sync.WaitGroup
}

func NewPool(refresher Refresher, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{refresher: refresher, logger: logger}
}

// Start launches count workers reading from queue. They exit once the queue
// is closed and drained.
func (p *Pool) Start(count int, queue <-chan service.StockChange) {
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id, queue)
		}(i)
	}
	p.logger.Info("started stock sync workers", zap.Int("count", count))
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) workerLoop(id int, queue <-chan service.StockChange) {
	for change := range queue {
		for _, itemID := range change.ItemIDs {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			if err := p.refresher.Refresh(ctx, itemID); err != nil {
				p.logger.Warn("stock refresh failed",
					zap.Int("worker", id),
					zap.String("order_id", change.OrderID),
					zap.String("item_id", itemID),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}
