package game

import (
	"context"

	"bricks/internal/ledger"
	"bricks/internal/market"
)

// sweep tries to fill every resting bid in full, best target price first.
// A bid that cannot be filled completely within its locked funds is left
// exactly as it was, so running sweep twice in a row is harmless. Fill
// trades are appended before returning.
func (s *Service) sweep(ctx context.Context, tx Tx, state *market.State, seasons seasonSet) (SweepReport, []TradeRecord, error) {
	var report SweepReport
	var trades []TradeRecord
	bids, err := tx.ActiveBuyOrders(ctx)
	if err != nil {
		return report, nil, err
	}
	for _, bid := range bids {
		if !bid.Active || bid.Remaining <= 0 {
			continue
		}
		plan, err := s.plan(ctx, tx, state, seasons, market.PlanRequest{
			Quantity:     bid.Remaining,
			MaxPrice:     bid.TargetPrice,
			Season:       bid.Season,
			ExcludeOwner: bid.Owner,
		})
		if err != nil {
			return report, nil, err
		}
		if plan.Filled != bid.Remaining || plan.TotalCost > bid.LockedFunds {
			report.Skipped++
			continue
		}

		buyer, err := tx.Account(ctx, bid.Owner)
		if err != nil {
			return report, nil, err
		}
		refund := bid.LockedFunds - plan.TotalCost
		giftRefund := int64(0)
		if bid.LockedFunds > 0 {
			giftRefund = bid.GiftLockedFunds * refund / bid.LockedFunds
		}
		giftUsed := bid.GiftLockedFunds - giftRefund

		filled, err := s.settle(ctx, tx, buyer, plan, giftUsed, state, seasons.latest, "bid_fill")
		if err != nil {
			return report, nil, err
		}
		if err := buyer.credit(ledger.Coins, refund, giftRefund); err != nil {
			return report, nil, err
		}
		if err := saveAccounts(ctx, tx, buyer); err != nil {
			return report, nil, err
		}

		bid.Remaining = 0
		bid.Active = false
		bid.LockedFunds = 0
		bid.GiftLockedFunds = 0
		if err := tx.UpdateBuyOrder(ctx, bid); err != nil {
			return report, nil, err
		}
		report.Filled++
		report.Units += plan.Filled
		trades = append(trades, filled...)
		s.log.Info("buy order filled", "order", bid.ID, "account", bid.Owner, "cost", plan.TotalCost, "refund", refund)
	}
	if len(trades) > 0 {
		if err := tx.AppendTrades(ctx, trades); err != nil {
			return report, nil, err
		}
	}
	return report, trades, nil
}
