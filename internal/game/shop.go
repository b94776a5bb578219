package game

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bricks/internal/ledger"
	"bricks/internal/market"
)

// BuyBricks buys Count crates right away against the cheapest liquidity.
// The whole plan executes or nothing does.
func (s *Service) BuyBricks(ctx context.Context, in ShopInput) (ShopResult, error) {
	var out ShopResult
	if err := validateQuantity(in.Count, MaxShopCount); err != nil {
		return out, err
	}
	if in.MaxPrice < 0 {
		return out, errorf(ErrValidation, "max price must be >= 0")
	}

	var trades []TradeRecord
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := claim(ctx, tx, in.AccountID, in.IdempotencyKey, "shop_buy"); err != nil {
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
		buyer, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}
		state, err := s.loadMarket(ctx, tx)
		if err != nil {
			return err
		}

		plan, err := s.plan(ctx, tx, &state, seasons, market.PlanRequest{
			Quantity:     in.Count,
			MaxPrice:     in.MaxPrice,
			Season:       season,
			ExcludeOwner: buyer.ID,
		})
		if err != nil {
			return err
		}
		if !plan.Complete() {
			return errorf(ErrInsufficientLiquidity, "filled %d of %d", plan.Filled, in.Count)
		}
		giftUsed, err := buyer.spend(ledger.Coins, plan.TotalCost)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}

		bought, err := s.settle(ctx, tx, buyer, plan, giftUsed, &state, seasons.latest, "shop_buy")
		if err != nil {
			return err
		}
		if err := saveAccounts(ctx, tx, buyer); err != nil {
			return err
		}

		report, filled, err := s.sweep(ctx, tx, &state, seasons)
		if err != nil {
			return err
		}
		if err := tx.SaveMarketState(ctx, state); err != nil {
			return err
		}
		if err := tx.AppendTrades(ctx, bought); err != nil {
			return err
		}
		trades = append(bought, filled...)
		out = ShopResult{
			Plan:      plan,
			Spent:     plan.TotalCost,
			GiftSpent: giftUsed,
			Balance:   buyer.Balance(ledger.Coins).Total,
			Sweep:     report,
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	s.observeTrades(trades)
	s.metrics.Sweep(out.Sweep.Filled, out.Sweep.Skipped)
	s.log.Info("bricks bought", "account", in.AccountID, "count", in.Count, "spent", out.Spent)
	return out, nil
}

// plan builds a purchase plan from the current book and this bucket's
// remaining official liquidity.
func (s *Service) plan(ctx context.Context, tx Tx, state *market.State, seasons seasonSet, req market.PlanRequest) (market.Plan, error) {
	orders, err := tx.ActiveSellOrders(ctx, req.Season)
	if err != nil {
		return market.Plan{}, err
	}
	asks := toAsks(orders)
	market.SortAsks(asks)
	layers := state.Liquidity(s.now(), s.settings.BucketSize, seasons.ids)
	return market.BuildPlan(req, asks, layers), nil
}

// settle moves crates and coins for every segment of plan. The buyer's
// funds must already be debited; giftUsed is the gift share of that debit.
// Player segments are re-read and must still be able to cover their
// quantity, otherwise the whole transaction is aborted.
func (s *Service) settle(ctx context.Context, tx Tx, buyer *Account, plan market.Plan, giftUsed int64, state *market.State, latest ledger.SeasonID, action string) ([]TradeRecord, error) {
	now := s.now()
	group := uuid.NewString()
	shares := market.ApportionGift(plan.Segments, giftUsed)
	trades := make([]TradeRecord, 0, len(plan.Segments)*2)

	for i, seg := range plan.Segments {
		cost := seg.Cost()
		switch seg.Source {
		case market.Player:
			order, err := tx.SellOrder(ctx, seg.OrderID)
			if err != nil {
				return nil, err
			}
			if !order.Active || order.Remaining < seg.Quantity || order.Price != seg.Price || order.Season != seg.Season || order.Owner == buyer.ID {
				return nil, errorf(ErrStaleOrder, "sell order %d changed since planning", seg.OrderID)
			}
			order.Remaining -= seg.Quantity
			if order.Remaining == 0 {
				order.Active = false
			}
			if err := tx.UpdateSellOrder(ctx, order); err != nil {
				return nil, err
			}

			seller, err := tx.Account(ctx, order.Owner)
			if err != nil {
				return nil, err
			}
			payout := market.SellerPayout(seg.Price, seg.Quantity)
			if err := seller.credit(ledger.Coins, payout, 0); err != nil {
				return nil, err
			}
			if err := saveAccounts(ctx, tx, seller); err != nil {
				return nil, err
			}
			trades = append(trades, TradeRecord{
				Group:       group,
				Account:     seller.ID,
				Category:    CategoryBricks,
				Action:      "sell",
				Source:      market.Player,
				Quantity:    seg.Quantity,
				UnitPrice:   seg.Price,
				TotalAmount: cost,
				NetAmount:   payout,
				Season:      seg.Season,
				CreatedAt:   now,
			})
		case market.Official:
			state.Consume(seg.Season, seg.Quantity)
		default:
			return nil, errorf(ErrInvariant, "unknown segment source %q", seg.Source)
		}

		row, err := buyer.Crates.Touch(seg.Season, latest)
		if err != nil {
			return nil, errorf(ErrInvariant, "%v", err)
		}
		locked := market.GiftLockedUnits(shares[i], seg.Price, seg.Quantity)
		if err := row.Add(seg.Quantity, locked); err != nil {
			return nil, err
		}
		trades = append(trades, TradeRecord{
			Group:       group,
			Account:     buyer.ID,
			Category:    CategoryBricks,
			Action:      action,
			Source:      seg.Source,
			Quantity:    seg.Quantity,
			UnitPrice:   seg.Price,
			TotalAmount: cost,
			NetAmount:   -cost,
			Season:      seg.Season,
			CreatedAt:   now,
		})
	}
	return trades, nil
}
