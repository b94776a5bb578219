package game

import (
	"context"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"bricks/internal/ledger"
	"bricks/internal/market"
	"bricks/internal/metrics"
	"bricks/internal/odds"
)

type Service struct {
	store    Store
	catalog  Catalog
	odds     odds.Config
	settings Settings
	log      *slog.Logger
	metrics  *metrics.Metrics
	rand     *lockedRand
	now      func() time.Time
}

type Option func(*Service)

func WithRand(r *mathrand.Rand) Option {
	return func(s *Service) { s.rand = &lockedRand{r: r} }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithSettings(settings Settings) Option {
	return func(s *Service) { s.settings = settings }
}

func NewService(store Store, catalog Catalog, oddsCfg odds.Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	s := &Service{
		store:    store,
		catalog:  catalog,
		odds:     oddsCfg,
		settings: DefaultSettings(),
		log:      logger,
		rand:     &lockedRand{r: mathrand.New(mathrand.NewSource(time.Now().UnixNano()))},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.settings = s.settings.withDefaults()
	return s
}

// lockedRand serializes access to a shared *rand.Rand.
type lockedRand struct {
	mu sync.Mutex
	r  *mathrand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// EnsureAccount creates the account on first sight with the starter grant.
// Starter coins are promotional and count as gift balance.
func (s *Service) EnsureAccount(ctx context.Context, id, email string, admin bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrUnauthorized
	}
	return s.store.WithTx(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, id)
		if err == nil {
			if acct.Admin == admin && acct.Email == email {
				return nil
			}
			acct.Admin = admin
			acct.Email = email
			return tx.SaveAccount(ctx, acct)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		acct = NewAccount(id, email, admin, s.now())
		if err := acct.credit(ledger.Coins, s.settings.StarterCoins, s.settings.StarterCoins); err != nil {
			return err
		}
		if err := acct.credit(ledger.Tokens, s.settings.StarterTokens, 0); err != nil {
			return err
		}
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		s.log.Info("account created", "account", id)
		return nil
	})
}

func (s *Service) Seasons(ctx context.Context) ([]Season, error) {
	var out []Season
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Seasons(ctx)
		return err
	})
	return out, err
}

type seasonSet struct {
	ids    []ledger.SeasonID
	latest ledger.SeasonID
}

func loadSeasons(ctx context.Context, tx Tx) (seasonSet, error) {
	seasons, err := tx.Seasons(ctx)
	if err != nil {
		return seasonSet{}, err
	}
	var set seasonSet
	for _, ss := range seasons {
		set.ids = append(set.ids, ss.ID)
		if ss.ID > set.latest {
			set.latest = ss.ID
		}
	}
	sort.Slice(set.ids, func(i, j int) bool { return set.ids[i] < set.ids[j] })
	return set, nil
}

// resolve maps an explicit season to itself and the zero season to the
// latest known one.
func (ss seasonSet) resolve(season ledger.SeasonID) (ledger.SeasonID, error) {
	if ss.latest == ledger.UnassignedSeason {
		return 0, ErrNoSeasons
	}
	if season == ledger.UnassignedSeason {
		return ss.latest, nil
	}
	for _, id := range ss.ids {
		if id == season {
			return season, nil
		}
	}
	return 0, errorf(ErrUnknownSeason, "season %d", season)
}

func claim(ctx context.Context, tx Tx, accountID, key, action string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return tx.ClaimIdempotency(ctx, accountID, key, action)
}

func (s *Service) loadMarket(ctx context.Context, tx Tx) (market.State, error) {
	state, ok, err := tx.MarketState(ctx)
	if err != nil {
		return market.State{}, err
	}
	if !ok {
		state = market.NewState(s.now())
	}
	if state.Consumed == nil {
		state.Consumed = map[ledger.SeasonID]int64{}
	}
	return state, nil
}

func saveAccounts(ctx context.Context, tx Tx, accts ...*Account) error {
	for _, a := range accts {
		if err := a.check(); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Odds(ctx context.Context, accountID string, season ledger.SeasonID) (OddsView, error) {
	var out OddsView
	err := s.store.WithTx(ctx, func(tx Tx) error {
		seasons, err := loadSeasons(ctx, tx)
		if err != nil {
			return err
		}
		resolved, err := seasons.resolve(season)
		if err != nil {
			return err
		}
		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		pity := acct.PityFor(resolved)
		out = OddsView{
			Season:       resolved,
			Pity:         pity,
			Distribution: odds.Compute(pity, s.odds),
			Config:       s.odds,
		}
		return nil
	})
	return out, err
}

func (s *Service) Wallet(ctx context.Context, accountID string) (WalletView, error) {
	var out WalletView
	err := s.store.WithTx(ctx, func(tx Tx) error {
		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		out = WalletView{
			AccountID:         acct.ID,
			Admin:             acct.Admin,
			Coins:             acct.Balance(ledger.Coins),
			Tokens:            acct.Balance(ledger.Tokens),
			Pity:              acct.Pity,
			GiftSellLockQuota: acct.GiftSellLockQuota,
		}
		for _, id := range acct.Crates.Seasons() {
			row := acct.Crates.Get(id)
			out.Crates = append(out.Crates, CrateView{
				Season:     id,
				Quantity:   row.Quantity,
				GiftLocked: row.GiftLocked,
				Sellable:   row.Sellable(),
			})
		}
		return nil
	})
	return out, err
}

func (s *Service) TradeHistory(ctx context.Context, accountID string, limit int) ([]TradeRecord, error) {
	if limit <= 0 || limit > s.settings.HistoryLimit {
		limit = s.settings.HistoryLimit
	}
	var out []TradeRecord
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.TradeHistory(ctx, accountID, limit)
		return err
	})
	return out, err
}

// Tick is the background market step: an idle price read followed by a
// settlement pass.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	var out TickResult
	var fills []TradeRecord
	err := s.store.WithTx(ctx, func(tx Tx) error {
		seasons, err := loadSeasons(ctx, tx)
		if err != nil {
			return err
		}
		state, err := s.loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		state.Drift(s.rand, s.now())
		report, trades, err := s.sweep(ctx, tx, &state, seasons)
		if err != nil {
			return err
		}
		if err := tx.SaveMarketState(ctx, state); err != nil {
			return err
		}
		fills = trades
		out = TickResult{BasePrice: state.BasePrice, Sentiment: state.Sentiment, Sweep: report}
		return nil
	})
	if err != nil {
		return out, err
	}
	s.observeTrades(fills)
	s.metrics.Sweep(out.Sweep.Filled, out.Sweep.Skipped)
	s.metrics.Market(out.BasePrice, out.Sentiment)
	return out, nil
}

func (s *Service) observeTrades(trades []TradeRecord) {
	for _, t := range trades {
		if t.NetAmount >= 0 {
			continue
		}
		// One buy row per executed segment; burn is cost minus seller payout.
		burned := t.TotalAmount
		if t.Source == market.Player {
			burned = t.TotalAmount - market.SellerPayout(t.UnitPrice, t.Quantity)
		}
		s.metrics.Trade(string(t.Source), t.Quantity, burned)
	}
}
