package game

import (
	"context"
	"sort"

	"bricks/internal/ledger"
	"bricks/internal/market"
)

// BookSnapshot reads the order book. A read counts as an idle price
// observation, so the official price drifts and a settlement pass runs
// before the snapshot is taken. Season zero shows every season.
func (s *Service) BookSnapshot(ctx context.Context, accountID string, season ledger.SeasonID) (BookView, error) {
	var out BookView
	var fills []TradeRecord
	err := s.store.WithTx(ctx, func(tx Tx) error {
		seasons, err := loadSeasons(ctx, tx)
		if err != nil {
			return err
		}
		if season != ledger.UnassignedSeason {
			if _, err := seasons.resolve(season); err != nil {
				return err
			}
		}
		acct, err := tx.Account(ctx, accountID)
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
		fills = trades

		sells, err := tx.ActiveSellOrders(ctx, season)
		if err != nil {
			return err
		}
		bids, err := tx.ActiveBuyOrders(ctx)
		if err != nil {
			return err
		}
		if season != ledger.UnassignedSeason {
			bids = filterBids(bids, func(b BuyOrder) bool { return b.Season == season })
		}
		var layers []market.Layer
		for _, l := range state.Liquidity(s.now(), s.settings.BucketSize, seasons.ids) {
			if season == ledger.UnassignedSeason || l.Season == season {
				layers = append(layers, l)
			}
		}
		if err := tx.SaveMarketState(ctx, state); err != nil {
			return err
		}

		out = BookView{
			Season:    season,
			BasePrice: state.BasePrice,
			Sentiment: state.Sentiment,
			Layers:    layers,
			MySells:   []SellOrder{},
			MyBids:    filterBids(bids, func(b BuyOrder) bool { return b.Owner == accountID }),
			Histogram: histogram(sells, layers),
			Sweep:     report,
			UpdatedAt: state.LastUpdate,
		}
		for _, o := range sells {
			if o.Owner == accountID {
				out.MySells = append(out.MySells, o)
			}
		}
		if acct.Admin {
			out.AllSells = sells
			out.AllBids = bids
		}
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

func filterBids(bids []BuyOrder, keep func(BuyOrder) bool) []BuyOrder {
	out := []BuyOrder{}
	for _, b := range bids {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

// histogram aggregates ask-side depth per price level across player and
// official liquidity.
func histogram(sells []SellOrder, layers []market.Layer) []PriceLevel {
	byPrice := map[int64]*PriceLevel{}
	level := func(p int64) *PriceLevel {
		l, ok := byPrice[p]
		if !ok {
			l = &PriceLevel{Price: p}
			byPrice[p] = l
		}
		return l
	}
	for _, o := range sells {
		l := level(o.Price)
		l.Quantity += o.Remaining
		l.Orders++
	}
	for _, ly := range layers {
		if ly.Quantity <= 0 {
			continue
		}
		l := level(ly.Price)
		l.Quantity += ly.Quantity
		l.Orders++
	}
	out := make([]PriceLevel, 0, len(byPrice))
	for _, l := range byPrice {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
