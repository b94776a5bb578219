package api

import (
	"github.com/shopspring/decimal"

	"bricks/internal/game"
	"bricks/internal/ledger"
	"bricks/internal/odds"
)

// Rates and prices leave the API as fixed-point decimal strings so clients
// never see float artifacts.
const (
	percentPlaces = 4
	pricePlaces   = 2
)

func fixed(v float64, places int32) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(places)
}

type distributionView struct {
	Top          decimal.Decimal `json:"top"`
	Second       decimal.Decimal `json:"second"`
	Third        decimal.Decimal `json:"third"`
	Fourth       decimal.Decimal `json:"fourth"`
	ForcedTop    bool            `json:"forced_top"`
	ForcedSecond bool            `json:"forced_second"`
}

func newDistributionView(d odds.Distribution) distributionView {
	return distributionView{
		Top:          fixed(d.Top, percentPlaces),
		Second:       fixed(d.Second, percentPlaces),
		Third:        fixed(d.Third, percentPlaces),
		Fourth:       fixed(d.Fourth, percentPlaces),
		ForcedTop:    d.ForcedTop,
		ForcedSecond: d.ForcedSecond,
	}
}

type oddsResponse struct {
	Season       ledger.SeasonID  `json:"season"`
	Pity         odds.Pity        `json:"pity"`
	Distribution distributionView `json:"distribution"`
	PityMax      int              `json:"pity_max"`
	PityMax2     int              `json:"pity_max_second"`
}

func newOddsResponse(v game.OddsView) oddsResponse {
	return oddsResponse{
		Season:       v.Season,
		Pity:         v.Pity,
		Distribution: newDistributionView(v.Distribution),
		PityMax:      v.Config.PityMax,
		PityMax2:     v.Config.PityMax2,
	}
}

// The embedded views keep their JSON shape; the shadowing fields replace
// the float ones.
type openResponse struct {
	game.OpenResult
	BasePrice decimal.Decimal `json:"base_price"`
}

func newOpenResponse(v game.OpenResult) openResponse {
	return openResponse{OpenResult: v, BasePrice: fixed(v.BasePrice, pricePlaces)}
}

type bookResponse struct {
	game.BookView
	BasePrice decimal.Decimal `json:"base_price"`
	Sentiment decimal.Decimal `json:"sentiment"`
}

func newBookResponse(v game.BookView) bookResponse {
	return bookResponse{
		BookView:  v,
		BasePrice: fixed(v.BasePrice, pricePlaces),
		Sentiment: fixed(v.Sentiment, percentPlaces),
	}
}
