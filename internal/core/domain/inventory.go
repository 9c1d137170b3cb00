package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog row together with its authoritative stock counter.
type Item struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Version   int // bumped on every stock change
	CreatedAt time.Time
	UpdatedAt time.Time
}
