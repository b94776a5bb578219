package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the crate economy counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Draws        *prometheus.CounterVec
	CratesOpened prometheus.Counter
	Trades       *prometheus.CounterVec
	TradedUnits  *prometheus.CounterVec
	BurnedCoins  prometheus.Counter
	SweepFills   prometheus.Counter
	SweepSkips   prometheus.Counter
	Cancels      *prometheus.CounterVec
	BasePrice    prometheus.Gauge
	Sentiment    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Draws: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bricks_draws_total",
			Help: "Reward draws by tier",
		}, []string{"tier"}),
		CratesOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "bricks_crates_opened_total",
			Help: "Crates consumed by the allocator",
		}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bricks_trade_segments_total",
			Help: "Executed plan segments by liquidity source",
		}, []string{"source"}),
		TradedUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bricks_traded_units_total",
			Help: "Crates transferred by liquidity source",
		}, []string{"source"}),
		BurnedCoins: f.NewCounter(prometheus.CounterOpts{
			Name: "bricks_burned_coins_total",
			Help: "Coins removed by the trade fee and official purchases",
		}),
		SweepFills: f.NewCounter(prometheus.CounterOpts{
			Name: "bricks_sweep_fills_total",
			Help: "Buy orders fully filled by the settlement sweep",
		}),
		SweepSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "bricks_sweep_skips_total",
			Help: "Buy orders left resting by a sweep pass",
		}),
		Cancels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bricks_order_cancels_total",
			Help: "Order cancel requests by side and outcome",
		}, []string{"side", "outcome"}),
		BasePrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "bricks_official_base_price",
			Help: "Current official baseline crate price",
		}),
		Sentiment: f.NewGauge(prometheus.GaugeOpts{
			Name: "bricks_market_sentiment",
			Help: "Current market sentiment accumulator",
		}),
	}
}

func (m *Metrics) Draw(tier string) {
	if m == nil {
		return
	}
	m.Draws.WithLabelValues(tier).Inc()
}

func (m *Metrics) Opened(n int64) {
	if m == nil {
		return
	}
	m.CratesOpened.Add(float64(n))
}

func (m *Metrics) Trade(source string, units, burned int64) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(source).Inc()
	m.TradedUnits.WithLabelValues(source).Add(float64(units))
	m.BurnedCoins.Add(float64(burned))
}

func (m *Metrics) Sweep(filled, skipped int) {
	if m == nil {
		return
	}
	m.SweepFills.Add(float64(filled))
	m.SweepSkips.Add(float64(skipped))
}

func (m *Metrics) Cancel(side string, cancelled bool) {
	if m == nil {
		return
	}
	outcome := "noop"
	if cancelled {
		outcome = "cancelled"
	}
	m.Cancels.WithLabelValues(side, outcome).Inc()
}

func (m *Metrics) Market(basePrice, sentiment float64) {
	if m == nil {
		return
	}
	m.BasePrice.Set(basePrice)
	m.Sentiment.Set(sentiment)
}
