package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bricks/internal/market"
)

const (
	SingleBatch = 1
	MultiBatch  = 10

	DefaultAdminBatchCap = 100
	DefaultMinListPrice  = market.MinPrice
	MaxListPrice         = int64(100_000)
	MaxShopCount         = int64(1_000)
	MaxOrderQuantity     = int64(10_000)
	MaxGrantAmount       = int64(1_000_000_000)

	DefaultBucketSize   = 10 * time.Minute
	DefaultHistoryLimit = 50

	CategoryBricks = "bricks"
)

// Error kinds. Concrete errors below wrap exactly one of these so callers
// can match on either.
var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrStaleOrder           = errors.New("stale order")
	ErrInvariant            = errors.New("invariant violation")
	ErrNotFound             = errors.New("not found")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry later")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
)

var (
	ErrInvalidBatch       = fmt.Errorf("%w: batch size must be %d or %d", ErrValidation, SingleBatch, MultiBatch)
	ErrInvalidQuantity    = fmt.Errorf("%w: quantity out of range", ErrValidation)
	ErrPriceBelowFloor    = fmt.Errorf("%w: price below floor", ErrValidation)
	ErrPriceTooHigh       = fmt.Errorf("%w: price above limit", ErrValidation)
	ErrUnknownSeason      = fmt.Errorf("%w: unknown season", ErrValidation)
	ErrNoSeasons          = fmt.Errorf("%w: no season has been opened", ErrValidation)
	ErrMissingIdempotency = fmt.Errorf("%w: idempotency key is required", ErrValidation)

	ErrInsufficientCrates    = fmt.Errorf("%w: not enough crates", ErrInsufficientResource)
	ErrInsufficientTokens    = fmt.Errorf("%w: not enough draw tokens", ErrInsufficientResource)
	ErrInsufficientFunds     = fmt.Errorf("%w: not enough coins", ErrInsufficientResource)
	ErrInsufficientLiquidity = fmt.Errorf("%w: not enough crates for sale", ErrInsufficientResource)
	ErrNoRewards             = fmt.Errorf("%w: no active rewards for tier", ErrInsufficientResource)

	ErrAccountNotFound = fmt.Errorf("%w: account", ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("%w: order", ErrNotFound)
)

// Settings are the service tunables that are not part of the odds table.
type Settings struct {
	AdminBatchCap int
	MinListPrice  int64
	BucketSize    time.Duration
	StarterCoins  int64
	StarterTokens int64
	HistoryLimit  int
}

func DefaultSettings() Settings {
	return Settings{
		AdminBatchCap: DefaultAdminBatchCap,
		MinListPrice:  DefaultMinListPrice,
		BucketSize:    DefaultBucketSize,
		StarterCoins:  2_000,
		StarterTokens: 10,
		HistoryLimit:  DefaultHistoryLimit,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.AdminBatchCap <= 0 {
		s.AdminBatchCap = d.AdminBatchCap
	}
	if s.MinListPrice <= 0 {
		s.MinListPrice = d.MinListPrice
	}
	if s.BucketSize <= 0 {
		s.BucketSize = d.BucketSize
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = d.HistoryLimit
	}
	return s
}

func validateBatch(count int, admin bool, adminCap int) error {
	if count == SingleBatch || count == MultiBatch {
		return nil
	}
	if admin && count >= 1 && count <= adminCap {
		return nil
	}
	return ErrInvalidBatch
}

func validateQuantity(qty, limit int64) error {
	if qty <= 0 || qty > limit {
		return fmt.Errorf("%w: got %d, allowed 1..%d", ErrInvalidQuantity, qty, limit)
	}
	return nil
}

func (s Settings) validatePrice(price int64) error {
	if price < s.MinListPrice {
		return fmt.Errorf("%w: %d < %d", ErrPriceBelowFloor, price, s.MinListPrice)
	}
	if price > MaxListPrice {
		return fmt.Errorf("%w: %d > %d", ErrPriceTooHigh, price, MaxListPrice)
	}
	return nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrMissingIdempotency
	}
	return key, nil
}

func errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
