package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bricks/internal/game"
	"bricks/internal/ledger"
	"bricks/internal/market"
)

// MemoryStore keeps all rows in process. Transactions are serialized by a
// mutex and run against a private copy that replaces the committed state
// only when the callback succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

type memoryData struct {
	seasons   []game.Season
	accounts  map[string]*game.Account
	market    *market.State
	sells     map[int64]game.SellOrder
	bids      map[int64]game.BuyOrder
	trades    []game.TradeRecord
	rewards   []game.RewardRecord
	idem      map[string]string
	nextSell  int64
	nextBid   int64
	nextTrade int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		accounts: map[string]*game.Account{},
		sells:    map[int64]game.SellOrder{},
		bids:     map[int64]game.BuyOrder{},
		idem:     map[string]string{},
	}}
}

func (d *memoryData) clone() *memoryData {
	out := &memoryData{
		seasons:   append([]game.Season(nil), d.seasons...),
		accounts:  make(map[string]*game.Account, len(d.accounts)),
		sells:     make(map[int64]game.SellOrder, len(d.sells)),
		bids:      make(map[int64]game.BuyOrder, len(d.bids)),
		trades:    append([]game.TradeRecord(nil), d.trades...),
		rewards:   append([]game.RewardRecord(nil), d.rewards...),
		idem:      make(map[string]string, len(d.idem)),
		nextSell:  d.nextSell,
		nextBid:   d.nextBid,
		nextTrade: d.nextTrade,
	}
	for id, a := range d.accounts {
		out.accounts[id] = a.Clone()
	}
	if d.market != nil {
		st := d.market.Clone()
		out.market = &st
	}
	for id, o := range d.sells {
		out.sells[id] = o
	}
	for id, o := range d.bids {
		out.bids[id] = o
	}
	for k, v := range d.idem {
		out.idem[k] = v
	}
	return out
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(game.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&memoryTx{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

type memoryTx struct {
	d *memoryData
}

func (t *memoryTx) Seasons(context.Context) ([]game.Season, error) {
	out := append([]game.Season(nil), t.d.seasons...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) CreateSeason(_ context.Context, s *game.Season) error {
	var next ledger.SeasonID
	for _, existing := range t.d.seasons {
		if existing.ID > next {
			next = existing.ID
		}
	}
	s.ID = next + 1
	t.d.seasons = append(t.d.seasons, *s)
	return nil
}

func (t *memoryTx) Account(_ context.Context, id string) (*game.Account, error) {
	a, ok := t.d.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrAccountNotFound, id)
	}
	return a.Clone(), nil
}

func (t *memoryTx) InsertAccount(_ context.Context, a *game.Account) error {
	if _, ok := t.d.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", game.ErrInvariant, a.ID)
	}
	t.d.accounts[a.ID] = a.Clone()
	return nil
}

func (t *memoryTx) SaveAccount(_ context.Context, a *game.Account) error {
	if _, ok := t.d.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: %s", game.ErrAccountNotFound, a.ID)
	}
	t.d.accounts[a.ID] = a.Clone()
	return nil
}

func (t *memoryTx) MarketState(context.Context) (market.State, bool, error) {
	if t.d.market == nil {
		return market.State{}, false, nil
	}
	return t.d.market.Clone(), true, nil
}

func (t *memoryTx) SaveMarketState(_ context.Context, s market.State) error {
	st := s.Clone()
	t.d.market = &st
	return nil
}

func (t *memoryTx) ActiveSellOrders(_ context.Context, season ledger.SeasonID) ([]game.SellOrder, error) {
	out := []game.SellOrder{}
	for _, o := range t.d.sells {
		if !o.Active {
			continue
		}
		if season != ledger.UnassignedSeason && o.Season != season {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (t *memoryTx) SellOrder(_ context.Context, id int64) (game.SellOrder, error) {
	o, ok := t.d.sells[id]
	if !ok {
		return game.SellOrder{}, fmt.Errorf("%w: sell %d", game.ErrOrderNotFound, id)
	}
	return o, nil
}

func (t *memoryTx) InsertSellOrder(_ context.Context, o *game.SellOrder) error {
	t.d.nextSell++
	o.ID = t.d.nextSell
	t.d.sells[o.ID] = *o
	return nil
}

func (t *memoryTx) UpdateSellOrder(_ context.Context, o game.SellOrder) error {
	if _, ok := t.d.sells[o.ID]; !ok {
		return fmt.Errorf("%w: sell %d", game.ErrOrderNotFound, o.ID)
	}
	t.d.sells[o.ID] = o
	return nil
}

func (t *memoryTx) ActiveBuyOrders(context.Context) ([]game.BuyOrder, error) {
	out := []game.BuyOrder{}
	for _, o := range t.d.bids {
		if o.Active {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TargetPrice != b.TargetPrice {
			return a.TargetPrice > b.TargetPrice
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (t *memoryTx) BuyOrder(_ context.Context, id int64) (game.BuyOrder, error) {
	o, ok := t.d.bids[id]
	if !ok {
		return game.BuyOrder{}, fmt.Errorf("%w: buy %d", game.ErrOrderNotFound, id)
	}
	return o, nil
}

func (t *memoryTx) InsertBuyOrder(_ context.Context, o *game.BuyOrder) error {
	t.d.nextBid++
	o.ID = t.d.nextBid
	t.d.bids[o.ID] = *o
	return nil
}

func (t *memoryTx) UpdateBuyOrder(_ context.Context, o game.BuyOrder) error {
	if _, ok := t.d.bids[o.ID]; !ok {
		return fmt.Errorf("%w: buy %d", game.ErrOrderNotFound, o.ID)
	}
	t.d.bids[o.ID] = o
	return nil
}

func (t *memoryTx) AppendTrades(_ context.Context, trades []game.TradeRecord) error {
	for _, tr := range trades {
		t.d.nextTrade++
		tr.ID = t.d.nextTrade
		t.d.trades = append(t.d.trades, tr)
	}
	return nil
}

func (t *memoryTx) AppendRewards(_ context.Context, rewards []game.RewardRecord) error {
	t.d.rewards = append(t.d.rewards, rewards...)
	return nil
}

func (t *memoryTx) TradeHistory(_ context.Context, accountID string, limit int) ([]game.TradeRecord, error) {
	out := []game.TradeRecord{}
	for i := len(t.d.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if t.d.trades[i].Account == accountID {
			out = append(out, t.d.trades[i])
		}
	}
	return out, nil
}

func (t *memoryTx) ClaimIdempotency(_ context.Context, accountID, key, action string) error {
	k := accountID + "\x00" + key
	if _, ok := t.d.idem[k]; ok {
		return game.ErrDuplicateIdempotency
	}
	t.d.idem[k] = action
	return nil
}
