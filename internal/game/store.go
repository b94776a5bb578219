package game

import (
	"context"

	"bricks/internal/ledger"
	"bricks/internal/market"
)

// Store runs fn inside one storage transaction. The transaction commits
// only when fn returns nil; any error leaves storage untouched.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of row operations a single request may perform. Getters
// that return a single account or order lock the row for the rest of the
// transaction.
type Tx interface {
	Seasons(ctx context.Context) ([]Season, error)
	CreateSeason(ctx context.Context, s *Season) error

	Account(ctx context.Context, id string) (*Account, error)
	InsertAccount(ctx context.Context, a *Account) error
	SaveAccount(ctx context.Context, a *Account) error

	// MarketState returns the singleton market row, or ok=false if it has
	// never been written.
	MarketState(ctx context.Context) (state market.State, ok bool, err error)
	SaveMarketState(ctx context.Context, s market.State) error

	// ActiveSellOrders lists resting asks by price, age, then id. A season
	// of UnassignedSeason lists every season.
	ActiveSellOrders(ctx context.Context, season ledger.SeasonID) ([]SellOrder, error)
	SellOrder(ctx context.Context, id int64) (SellOrder, error)
	InsertSellOrder(ctx context.Context, o *SellOrder) error
	UpdateSellOrder(ctx context.Context, o SellOrder) error

	// ActiveBuyOrders lists resting bids by target price descending, then
	// age, then id.
	ActiveBuyOrders(ctx context.Context) ([]BuyOrder, error)
	BuyOrder(ctx context.Context, id int64) (BuyOrder, error)
	InsertBuyOrder(ctx context.Context, o *BuyOrder) error
	UpdateBuyOrder(ctx context.Context, o BuyOrder) error

	AppendTrades(ctx context.Context, trades []TradeRecord) error
	AppendRewards(ctx context.Context, rewards []RewardRecord) error
	TradeHistory(ctx context.Context, accountID string, limit int) ([]TradeRecord, error)

	ClaimIdempotency(ctx context.Context, accountID, key, action string) error
}
