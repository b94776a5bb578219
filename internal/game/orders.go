package game

import (
	"context"
	"errors"
	"fmt"

	"bricks/internal/ledger"
	"bricks/internal/market"
)

type SellResult struct {
	Order SellOrder   `json:"order"`
	Sweep SweepReport `json:"sweep"`
}

type BidResult struct {
	Order BuyOrder    `json:"order"`
	Sweep SweepReport `json:"sweep"`
}

// PlaceSellOrder lists crates for sale. The listed quantity leaves the
// seller's sellable balance at once.
func (s *Service) PlaceSellOrder(ctx context.Context, in SellInput) (SellResult, error) {
	var out SellResult
	if err := validateQuantity(in.Quantity, MaxOrderQuantity); err != nil {
		return out, err
	}
	if err := s.settings.validatePrice(in.Price); err != nil {
		return out, err
	}
	var fills []TradeRecord
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.AccountID, in.IdempotencyKey, "sell"); err != nil {
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
		acct, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}
		row, err := acct.Crates.Touch(season, seasons.latest)
		if err != nil {
			return errorf(ErrInvariant, "%v", err)
		}
		if err := row.Reserve(in.Quantity); err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientCrates, err)
		}
		if err := saveAccounts(ctx, tx, acct); err != nil {
			return err
		}

		order := SellOrder{
			Owner:     acct.ID,
			Price:     in.Price,
			Quantity:  in.Quantity,
			Remaining: in.Quantity,
			Season:    season,
			Active:    true,
			CreatedAt: s.now(),
		}
		if err := tx.InsertSellOrder(ctx, &order); err != nil {
			return err
		}
		if _, err := tx.SellOrder(ctx, order.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorf(ErrInvariant, "sell order %d missing after insert", order.ID)
			}
			return err
		}

		state, err := s.loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		report, trades, err := s.sweep(ctx, tx, &state, seasons)
		if err != nil {
			return err
		}
		if err := tx.SaveMarketState(ctx, state); err != nil {
			return err
		}
		fills = trades
		if order, err = tx.SellOrder(ctx, order.ID); err != nil {
			return err
		}
		out = SellResult{Order: order, Sweep: report}
		return nil
	})
	if err != nil {
		return out, err
	}
	s.observeTrades(fills)
	s.metrics.Sweep(out.Sweep.Filled, out.Sweep.Skipped)
	s.log.Info("sell order placed", "account", in.AccountID, "order", out.Order.ID, "price", in.Price, "quantity", in.Quantity)
	return out, nil
}

// CancelSellOrder returns the unfilled remainder to the seller. Cancelling
// an order that is already inactive is a no-op.
func (s *Service) CancelSellOrder(ctx context.Context, in CancelInput) (CancelResult, error) {
	out := CancelResult{OrderID: in.OrderID}
	var fills []TradeRecord
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.AccountID, in.IdempotencyKey, "sell_cancel"); err != nil {
			return err
		}
		order, err := tx.SellOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.Owner != in.AccountID {
			return errorf(ErrOrderNotFound, "sell order %d", in.OrderID)
		}
		if !order.Active {
			return nil
		}
		seasons, err := loadSeasons(ctx, tx)
		if err != nil {
			return err
		}
		acct, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}
		row, err := acct.Crates.Touch(order.Season, seasons.latest)
		if err != nil {
			return errorf(ErrInvariant, "%v", err)
		}
		if err := row.Release(order.Remaining); err != nil {
			return err
		}
		order.Active = false
		if err := tx.UpdateSellOrder(ctx, order); err != nil {
			return err
		}
		if err := saveAccounts(ctx, tx, acct); err != nil {
			return err
		}
		out.Cancelled = true
		out.Restored = order.Remaining

		state, err := s.loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		_, fills, err = s.sweep(ctx, tx, &state, seasons)
		if err != nil {
			return err
		}
		return tx.SaveMarketState(ctx, state)
	})
	if err != nil {
		return out, err
	}
	s.observeTrades(fills)
	s.metrics.Cancel("sell", out.Cancelled)
	s.log.Info("sell order cancel", "account", in.AccountID, "order", in.OrderID, "cancelled", out.Cancelled, "restored", out.Restored)
	return out, nil
}

// PlaceBuyOrder rests a bid with target*quantity coins locked. The bid only
// ever fills as a whole.
func (s *Service) PlaceBuyOrder(ctx context.Context, in BidInput) (BidResult, error) {
	var out BidResult
	if err := validateQuantity(in.Quantity, MaxOrderQuantity); err != nil {
		return out, err
	}
	if err := s.settings.validatePrice(in.TargetPrice); err != nil {
		return out, err
	}
	var fills []TradeRecord
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.AccountID, in.IdempotencyKey, "buy_order"); err != nil {
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
		acct, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}
		locked := in.TargetPrice * in.Quantity
		giftLocked, err := acct.spend(ledger.Coins, locked)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
		if err := saveAccounts(ctx, tx, acct); err != nil {
			return err
		}

		order := BuyOrder{
			Owner:           acct.ID,
			TargetPrice:     in.TargetPrice,
			Quantity:        in.Quantity,
			Remaining:       in.Quantity,
			LockedFunds:     locked,
			GiftLockedFunds: giftLocked,
			Season:          season,
			Active:          true,
			CreatedAt:       s.now(),
		}
		if err := tx.InsertBuyOrder(ctx, &order); err != nil {
			return err
		}
		if _, err := tx.BuyOrder(ctx, order.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorf(ErrInvariant, "buy order %d missing after insert", order.ID)
			}
			return err
		}

		state, err := s.loadMarket(ctx, tx)
		if err != nil {
			return err
		}
		report, trades, err := s.sweep(ctx, tx, &state, seasons)
		if err != nil {
			return err
		}
		if err := tx.SaveMarketState(ctx, state); err != nil {
			return err
		}
		fills = trades
		if order, err = tx.BuyOrder(ctx, order.ID); err != nil {
			return err
		}
		out = BidResult{Order: order, Sweep: report}
		return nil
	})
	if err != nil {
		return out, err
	}
	s.observeTrades(fills)
	s.metrics.Sweep(out.Sweep.Filled, out.Sweep.Skipped)
	s.log.Info("buy order placed", "account", in.AccountID, "order", out.Order.ID, "target", in.TargetPrice, "quantity", in.Quantity, "filled", !out.Order.Active)
	return out, nil
}

// CancelBuyOrder refunds whatever is still locked, gift share included.
func (s *Service) CancelBuyOrder(ctx context.Context, in CancelInput) (CancelResult, error) {
	out := CancelResult{OrderID: in.OrderID}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.AccountID, in.IdempotencyKey, "buy_order_cancel"); err != nil {
			return err
		}
		order, err := tx.BuyOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.Owner != in.AccountID {
			return errorf(ErrOrderNotFound, "buy order %d", in.OrderID)
		}
		if !order.Active {
			return nil
		}
		acct, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if err := acct.credit(ledger.Coins, order.LockedFunds, order.GiftLockedFunds); err != nil {
			return err
		}
		out.Cancelled = true
		out.Restored = order.LockedFunds
		order.Active = false
		order.LockedFunds = 0
		order.GiftLockedFunds = 0
		if err := tx.UpdateBuyOrder(ctx, order); err != nil {
			return err
		}
		return saveAccounts(ctx, tx, acct)
	})
	if err != nil {
		return out, err
	}
	s.metrics.Cancel("buy", out.Cancelled)
	s.log.Info("buy order cancel", "account", in.AccountID, "order", in.OrderID, "cancelled", out.Cancelled, "refunded", out.Restored)
	return out, nil
}

func toAsks(orders []SellOrder) []market.Ask {
	asks := make([]market.Ask, 0, len(orders))
	for _, o := range orders {
		asks = append(asks, o.ask())
	}
	return asks
}
