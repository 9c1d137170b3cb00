package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

// MergeService folds an anonymous cart into a user's cart at login.
type MergeService struct {
	db     port.DatabaseRepository
	ledger *InventoryLedger
	logger *zap.Logger
	now    func() time.Time
}

func NewMergeService(db port.DatabaseRepository, ledger *InventoryLedger, logger *zap.Logger) *MergeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeService{db: db, ledger: ledger, logger: logger, now: time.Now}
}

// Merge moves every anonymous line to the user. Quantities for items already
// in the user's cart are summed; every resulting line is capped at the
// currently available stock and lines capped to zero are dropped. The
// anonymous cart is always left empty, so running Merge twice is a no-op.
func (s *MergeService) Merge(ctx context.Context, user, anonymous domain.Owner) (*domain.MergeResult, error) {
	if !user.IsUser() {
		return nil, fmt.Errorf("%w: merge target must be a user", domain.ErrInvalidOwner)
	}
	if !anonymous.IsAnonymous() {
		return nil, fmt.Errorf("%w: merge source must be anonymous", domain.ErrInvalidOwner)
	}

	var result domain.MergeResult
	err := s.db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		result = domain.MergeResult{}

		lines, err := uow.Carts().ListLines(ctx, anonymous, true)
		if err != nil {
			return err
		}

		now := s.now()
		for _, line := range lines {
			if err := s.mergeLine(ctx, uow, user, line, now, &result); err != nil {
				return err
			}
		}

		if err := uow.Carts().Clear(ctx, anonymous); err != nil {
			return err
		}

		result.Cart, err = snapshot(ctx, uow, user)
		return err
	})
	if err != nil {
		s.logger.Warn("cart merge failed",
			zap.String("user", user.String()),
			zap.String("anonymous", anonymous.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("cart merged",
		zap.String("user", user.String()),
		zap.Int("combined", result.Combined),
		zap.Int("reowned", result.Reowned),
		zap.Int("capped", result.Capped),
		zap.Int("dropped", result.Dropped),
	)
	return &result, nil
}

func (s *MergeService) mergeLine(ctx context.Context, uow port.UnitOfWork, user domain.Owner, line domain.CartLine, now time.Time, result *domain.MergeResult) error {
	available, err := s.ledger.availableWithin(ctx, uow, line.ItemID)
	if errors.Is(err, domain.ErrItemNotFound) {
		result.Dropped++
		return nil
	}
	if err != nil {
		return err
	}

	existing, err := uow.Carts().GetLine(ctx, user, line.ItemID)
	if err != nil {
		return err
	}

	if existing != nil {
		wanted := existing.Quantity + line.Quantity
		quantity := min(wanted, available)
		if quantity < 1 {
			result.Dropped++
			return uow.Carts().DeleteLine(ctx, user, line.ItemID)
		}
		if quantity < wanted {
			result.Capped++
		}
		result.Combined++
		return uow.Carts().UpsertLine(ctx, user, line.ItemID, quantity, now)
	}

	quantity := min(line.Quantity, available)
	if quantity < 1 {
		// left for the final Clear of the anonymous cart
		result.Dropped++
		return nil
	}
	if quantity < line.Quantity {
		result.Capped++
	}
	result.Reowned++
	return uow.Carts().ReownLine(ctx, line.Owner, user, line.ItemID, quantity, now)
}
