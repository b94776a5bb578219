package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bricks/internal/ledger"
	"bricks/internal/market"
	"bricks/internal/odds"
)

// OpenCrates opens a batch of crates. Each unit is drawn with the pity
// counters left by the previous unit. After the batch, top-tier outcomes
// move the official price once and a settlement pass runs, all in the same
// transaction.
func (s *Service) OpenCrates(ctx context.Context, in OpenInput) (OpenResult, error) {
	var out OpenResult
	var fills []TradeRecord
	var sentiment float64
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.AccountID, in.IdempotencyKey, "open"); err != nil {
			return err
		}
		acct, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if err := validateBatch(in.Count, acct.Admin, s.settings.AdminBatchCap); err != nil {
			return err
		}
		seasons, err := loadSeasons(ctx, tx)
		if err != nil {
			return err
		}
		season, err := seasons.resolve(in.Season)
		if err != nil {
			return err
		}

		count := int64(in.Count)
		row, err := acct.Crates.Touch(season, seasons.latest)
		if err != nil {
			return errorf(ErrInvariant, "%v", err)
		}
		if row.Quantity < count {
			return errorf(ErrInsufficientCrates, "season %d has %d, need %d", season, row.Quantity, count)
		}
		if tokens := acct.Balance(ledger.Tokens).Total; tokens < count {
			return errorf(ErrInsufficientTokens, "have %d, need %d", tokens, count)
		}
		available := s.catalog.Available(season)
		for _, tier := range odds.Tiers {
			if available[tier] == 0 {
				return errorf(ErrNoRewards, "season %d tier %s", season, tier)
			}
		}
		if err := row.Consume(count); err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientCrates, err)
		}
		if _, err := acct.spend(ledger.Tokens, count); err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientTokens, err)
		}

		now := s.now()
		rewards := make([]RewardRecord, 0, in.Count)
		var tops []market.TopOutcome
		for i := 0; i < in.Count; i++ {
			pity := acct.touchPity(season)
			tier := odds.Draw(odds.Compute(pity, s.odds), s.rand)
			reward, err := s.catalog.Pick(season, tier, in.TargetSkinID, s.rand)
			if err != nil {
				return err
			}
			tradable := true
			if acct.GiftSellLockQuota > 0 {
				tradable = false
				acct.GiftSellLockQuota--
			}
			acct.Pity[season] = pity.Advance(tier)
			if tier == odds.Top {
				tops = append(tops, market.TopOutcome{
					PremiumVariant: s.catalog.Classify(reward).PremiumVariant,
					Special:        reward.Special,
				})
			}
			rewards = append(rewards, RewardRecord{
				ID:        uuid.NewString(),
				Account:   acct.ID,
				Season:    season,
				Tier:      tier,
				SkinID:    reward.SkinID,
				Special:   reward.Special,
				Tradable:  tradable,
				CreatedAt: now,
			})
		}
		if err := saveAccounts(ctx, tx, acct); err != nil {
			return err
		}
		if err := tx.AppendRewards(ctx, rewards); err != nil {
			return err
		}

		state, err := s.loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		state.ApplyInfluence(market.Influence(tops), s.rand, now)
		report, trades, err := s.sweep(ctx, tx, &state, seasons)
		if err != nil {
			return err
		}
		if err := tx.SaveMarketState(ctx, state); err != nil {
			return err
		}
		fills = trades
		sentiment = state.Sentiment

		out = OpenResult{
			Season:     season,
			Rewards:    rewards,
			Pity:       acct.Pity[season],
			CratesLeft: acct.Crates.Get(season).Quantity,
			TokensLeft: acct.Balance(ledger.Tokens).Total,
			BasePrice:  state.BasePrice,
			Sweep:      report,
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	s.metrics.Opened(int64(len(out.Rewards)))
	for _, r := range out.Rewards {
		s.metrics.Draw(string(r.Tier))
	}
	s.observeTrades(fills)
	s.metrics.Sweep(out.Sweep.Filled, out.Sweep.Skipped)
	s.metrics.Market(out.BasePrice, sentiment)
	s.log.Info("crates opened", "account", in.AccountID, "season", out.Season, "count", len(out.Rewards))
	return out, nil
}
