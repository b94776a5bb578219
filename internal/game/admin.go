package game

import (
	"context"
	"fmt"
	"strings"

	"bricks/internal/ledger"
)

func requireAdmin(ctx context.Context, tx Tx, actorID string) error {
	actor, err := tx.Account(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Admin {
		return ErrForbidden
	}
	return nil
}

// CreateSeason opens a new season. It becomes the latest season, so legacy
// crates are folded into it the next time their owner touches a season.
func (s *Service) CreateSeason(ctx context.Context, in SeasonInput) (Season, error) {
	var out Season
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return out, errorf(ErrValidation, "season name is required")
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.ActorID, in.IdempotencyKey, "create_season"); err != nil {
			return err
		}
		if err := requireAdmin(ctx, tx, in.ActorID); err != nil {
			return err
		}
		out = Season{Name: in.Name, CreatedAt: s.now()}
		return tx.CreateSeason(ctx, &out)
	})
	if err != nil {
		return out, err
	}
	s.log.Info("season created", "season", out.ID, "name", out.Name, "actor", in.ActorID)
	return out, nil
}

// Grant credits promotional or plain resources to an account. Gift coins
// and gift crates are the only source of gift-restricted balances.
func (s *Service) Grant(ctx context.Context, in GrantInput) (WalletView, error) {
	for _, v := range []int64{in.Coins, in.GiftCoins, in.Tokens, in.Crates, in.GiftCrates, in.SellLockQuota} {
		if v < 0 || v > MaxGrantAmount {
			return WalletView{}, errorf(ErrValidation, "grant amounts must be between 0 and %d", MaxGrantAmount)
		}
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.ActorID, in.IdempotencyKey, "grant"); err != nil {
			return err
		}
		if err := requireAdmin(ctx, tx, in.ActorID); err != nil {
			return err
		}
		acct, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if err := acct.credit(ledger.Coins, in.Coins+in.GiftCoins, in.GiftCoins); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if err := acct.credit(ledger.Tokens, in.Tokens, 0); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if in.Crates > 0 || in.GiftCrates > 0 {
			seasons, err := loadSeasons(ctx, tx)
			if err != nil {
				return err
			}
			season, err := seasons.resolve(in.Season)
			if err != nil {
				return err
			}
			row, err := acct.Crates.Touch(season, seasons.latest)
			if err != nil {
				return errorf(ErrInvariant, "%v", err)
			}
			if err := row.Add(in.Crates+in.GiftCrates, in.GiftCrates); err != nil {
				return fmt.Errorf("%w: %w", ErrValidation, err)
			}
		}
		acct.GiftSellLockQuota += in.SellLockQuota
		return saveAccounts(ctx, tx, acct)
	})
	if err != nil {
		return WalletView{}, fmt.Errorf("grant to %s: %w", in.AccountID, err)
	}
	s.log.Info("grant applied", "actor", in.ActorID, "account", in.AccountID, "coins", in.Coins, "gift_coins", in.GiftCoins, "tokens", in.Tokens, "crates", in.Crates, "gift_crates", in.GiftCrates)
	return s.Wallet(ctx, in.AccountID)
}
