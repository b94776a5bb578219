package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bricks/internal/game"
	"bricks/internal/ledger"
	"bricks/internal/market"
	"bricks/internal/odds"
)

// PostgresStore runs every transaction SERIALIZABLE and retries
// serialization failures with a doubling backoff.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(game.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(&pgTx{tx: tx}); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return game.ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Seasons(ctx context.Context) ([]game.Season, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, created_at
		FROM game.seasons
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Season
	for rows.Next() {
		var s game.Season
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateSeason(ctx context.Context, s *game.Season) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO game.seasons (name, created_at)
		VALUES ($1, $2)
		RETURNING id
	`, s.Name, s.CreatedAt).Scan(&s.ID)
}

func (t *pgTx) Account(ctx context.Context, id string) (*game.Account, error) {
	a := &game.Account{
		ID:       id,
		Balances: map[ledger.Currency]ledger.Balance{},
		Crates:   ledger.Inventory{},
		Pity:     map[ledger.SeasonID]odds.Pity{},
	}
	var legacyTop, legacySecond *int
	err := t.tx.QueryRow(ctx, `
		SELECT email, is_admin, legacy_pity_top, legacy_pity_second, gift_sell_lock_quota, created_at
		FROM game.accounts
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&a.Email, &a.Admin, &legacyTop, &legacySecond, &a.GiftSellLockQuota, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", game.ErrAccountNotFound, id)
		}
		return nil, err
	}
	if legacyTop != nil && legacySecond != nil {
		a.LegacyPity = &odds.Pity{Top: *legacyTop, Second: *legacySecond}
	}

	rows, err := t.tx.Query(ctx, `
		SELECT currency, total, gift
		FROM game.balances
		WHERE account_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var cur string
		var b ledger.Balance
		if err := rows.Scan(&cur, &b.Total, &b.Gift); err != nil {
			rows.Close()
			return nil, err
		}
		a.Balances[ledger.Currency(cur)] = b
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = t.tx.Query(ctx, `
		SELECT season_id, quantity, gift_locked
		FROM game.crate_balances
		WHERE account_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var season ledger.SeasonID
		var c ledger.CrateBalance
		if err := rows.Scan(&season, &c.Quantity, &c.GiftLocked); err != nil {
			rows.Close()
			return nil, err
		}
		a.Crates[season] = &c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = t.tx.Query(ctx, `
		SELECT season_id, pity_top, pity_second
		FROM game.pity
		WHERE account_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var season ledger.SeasonID
		var p odds.Pity
		if err := rows.Scan(&season, &p.Top, &p.Second); err != nil {
			rows.Close()
			return nil, err
		}
		a.Pity[season] = p
	}
	rows.Close()
	return a, rows.Err()
}

func (t *pgTx) InsertAccount(ctx context.Context, a *game.Account) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO game.accounts (id, email, is_admin, gift_sell_lock_quota, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.Email, a.Admin, a.GiftSellLockQuota, a.CreatedAt); err != nil {
		return err
	}
	return t.SaveAccount(ctx, a)
}

// SaveAccount rewrites the account's child rows. The account row itself is
// already locked by Account.
func (t *pgTx) SaveAccount(ctx context.Context, a *game.Account) error {
	var legacyTop, legacySecond *int
	if a.LegacyPity != nil {
		legacyTop, legacySecond = &a.LegacyPity.Top, &a.LegacyPity.Second
	}
	cmd, err := t.tx.Exec(ctx, `
		UPDATE game.accounts
		SET email = $2, is_admin = $3, legacy_pity_top = $4, legacy_pity_second = $5, gift_sell_lock_quota = $6
		WHERE id = $1
	`, a.ID, a.Email, a.Admin, legacyTop, legacySecond, a.GiftSellLockQuota)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", game.ErrAccountNotFound, a.ID)
	}

	for cur, b := range a.Balances {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO game.balances (account_id, currency, total, gift)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id, currency) DO UPDATE SET total = $3, gift = $4
		`, a.ID, string(cur), b.Total, b.Gift); err != nil {
			return err
		}
	}

	if _, err := t.tx.Exec(ctx, `DELETE FROM game.crate_balances WHERE account_id = $1`, a.ID); err != nil {
		return err
	}
	for season, c := range a.Crates {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO game.crate_balances (account_id, season_id, quantity, gift_locked)
			VALUES ($1, $2, $3, $4)
		`, a.ID, season, c.Quantity, c.GiftLocked); err != nil {
			return err
		}
	}

	for season, p := range a.Pity {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO game.pity (account_id, season_id, pity_top, pity_second)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id, season_id) DO UPDATE SET pity_top = $3, pity_second = $4
		`, a.ID, season, p.Top, p.Second); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) MarketState(ctx context.Context) (market.State, bool, error) {
	var s market.State
	var consumed []byte
	err := t.tx.QueryRow(ctx, `
		SELECT base_price, sentiment, last_update, bucket, consumed
		FROM game.market_state
		WHERE id = 1
		FOR UPDATE
	`).Scan(&s.BasePrice, &s.Sentiment, &s.LastUpdate, &s.Bucket, &consumed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.State{}, false, nil
		}
		return market.State{}, false, err
	}
	s.Consumed = map[ledger.SeasonID]int64{}
	if len(consumed) > 0 {
		if err := json.Unmarshal(consumed, &s.Consumed); err != nil {
			return market.State{}, false, fmt.Errorf("decode consumed: %w", err)
		}
	}
	return s, true, nil
}

func (t *pgTx) SaveMarketState(ctx context.Context, s market.State) error {
	consumed, err := json.Marshal(s.Consumed)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO game.market_state (id, base_price, sentiment, last_update, bucket, consumed)
		VALUES (1, $1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET base_price = $1, sentiment = $2, last_update = $3, bucket = $4, consumed = $5::jsonb
	`, s.BasePrice, s.Sentiment, s.LastUpdate, s.Bucket, string(consumed))
	return err
}

const sellColumns = `id, owner_id, price, quantity, remaining, season_id, active, created_at`

func scanSell(row pgx.Row) (game.SellOrder, error) {
	var o game.SellOrder
	err := row.Scan(&o.ID, &o.Owner, &o.Price, &o.Quantity, &o.Remaining, &o.Season, &o.Active, &o.CreatedAt)
	return o, err
}

func (t *pgTx) ActiveSellOrders(ctx context.Context, season ledger.SeasonID) ([]game.SellOrder, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+sellColumns+`
		FROM game.sell_orders
		WHERE active AND ($1 = 0 OR season_id = $1)
		ORDER BY price ASC, created_at ASC, id ASC
	`, season)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.SellOrder{}
	for rows.Next() {
		o, err := scanSell(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) SellOrder(ctx context.Context, id int64) (game.SellOrder, error) {
	o, err := scanSell(t.tx.QueryRow(ctx, `
		SELECT `+sellColumns+`
		FROM game.sell_orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, fmt.Errorf("%w: sell %d", game.ErrOrderNotFound, id)
	}
	return o, err
}

func (t *pgTx) InsertSellOrder(ctx context.Context, o *game.SellOrder) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO game.sell_orders (owner_id, price, quantity, remaining, season_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, o.Owner, o.Price, o.Quantity, o.Remaining, o.Season, o.Active, o.CreatedAt).Scan(&o.ID)
}

func (t *pgTx) UpdateSellOrder(ctx context.Context, o game.SellOrder) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE game.sell_orders
		SET remaining = $2, active = $3
		WHERE id = $1
	`, o.ID, o.Remaining, o.Active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: sell %d", game.ErrOrderNotFound, o.ID)
	}
	return nil
}

const buyColumns = `id, owner_id, target_price, quantity, remaining, locked_funds, gift_locked_funds, season_id, active, created_at`

func scanBuy(row pgx.Row) (game.BuyOrder, error) {
	var o game.BuyOrder
	err := row.Scan(&o.ID, &o.Owner, &o.TargetPrice, &o.Quantity, &o.Remaining, &o.LockedFunds, &o.GiftLockedFunds, &o.Season, &o.Active, &o.CreatedAt)
	return o, err
}

func (t *pgTx) ActiveBuyOrders(ctx context.Context) ([]game.BuyOrder, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+buyColumns+`
		FROM game.buy_orders
		WHERE active
		ORDER BY target_price DESC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.BuyOrder{}
	for rows.Next() {
		o, err := scanBuy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) BuyOrder(ctx context.Context, id int64) (game.BuyOrder, error) {
	o, err := scanBuy(t.tx.QueryRow(ctx, `
		SELECT `+buyColumns+`
		FROM game.buy_orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, fmt.Errorf("%w: buy %d", game.ErrOrderNotFound, id)
	}
	return o, err
}

func (t *pgTx) InsertBuyOrder(ctx context.Context, o *game.BuyOrder) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO game.buy_orders (owner_id, target_price, quantity, remaining, locked_funds, gift_locked_funds, season_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, o.Owner, o.TargetPrice, o.Quantity, o.Remaining, o.LockedFunds, o.GiftLockedFunds, o.Season, o.Active, o.CreatedAt).Scan(&o.ID)
}

func (t *pgTx) UpdateBuyOrder(ctx context.Context, o game.BuyOrder) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE game.buy_orders
		SET remaining = $2, locked_funds = $3, gift_locked_funds = $4, active = $5
		WHERE id = $1
	`, o.ID, o.Remaining, o.LockedFunds, o.GiftLockedFunds, o.Active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: buy %d", game.ErrOrderNotFound, o.ID)
	}
	return nil
}

func (t *pgTx) AppendTrades(ctx context.Context, trades []game.TradeRecord) error {
	for i := range trades {
		tr := &trades[i]
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO game.trades (tx_group_id, account_id, category, action, source, quantity, unit_price, total_amount, net_amount, season_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, tr.Group, tr.Account, tr.Category, tr.Action, string(tr.Source), tr.Quantity, tr.UnitPrice, tr.TotalAmount, tr.NetAmount, tr.Season, tr.CreatedAt).Scan(&tr.ID); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) AppendRewards(ctx context.Context, rewards []game.RewardRecord) error {
	batch := &pgx.Batch{}
	for _, r := range rewards {
		batch.Queue(`
			INSERT INTO game.rewards (id, account_id, season_id, tier, skin_id, special, tradable, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.Account, r.Season, string(r.Tier), r.SkinID, r.Special, r.Tradable, r.CreatedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) TradeHistory(ctx context.Context, accountID string, limit int) ([]game.TradeRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, tx_group_id::text, account_id, category, action, source, quantity, unit_price, total_amount, net_amount, season_id, created_at
		FROM game.trades
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []game.TradeRecord{}
	for rows.Next() {
		var tr game.TradeRecord
		var source string
		if err := rows.Scan(&tr.ID, &tr.Group, &tr.Account, &tr.Category, &tr.Action, &source, &tr.Quantity, &tr.UnitPrice, &tr.TotalAmount, &tr.NetAmount, &tr.Season, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.Source = market.Source(source)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (t *pgTx) ClaimIdempotency(ctx context.Context, accountID, key, action string) error {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO game.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, accountID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrDuplicateIdempotency
	}
	return nil
}
