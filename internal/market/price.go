package market

import (
	"math"
	"time"

	"bricks/internal/ledger"
)

const (
	AnchorPrice = 95.0

	sentimentDecay     = 0.88
	sentimentWeight    = 0.24
	tradeNoise         = 1.2
	meanReversion      = 0.04
	idleSentimentDecay = 0.92
	idleNoise          = 0.8
	idleNoiseScale     = 0.12

	PremiumInfluence = 3.0
	SpecialInfluence = -1.2
	PlainInfluence   = -0.3
)

type Float64Source interface {
	Float64() float64
}

// State is the singleton official market row. Bucket and Consumed track
// how much of the current bucket's synthetic supply has been bought.
type State struct {
	BasePrice  float64                   `json:"base_price"`
	Sentiment  float64                   `json:"sentiment"`
	LastUpdate time.Time                 `json:"last_update"`
	Bucket     int64                     `json:"bucket"`
	Consumed   map[ledger.SeasonID]int64 `json:"consumed"`
}

func NewState(now time.Time) State {
	return State{BasePrice: AnchorPrice, LastUpdate: now, Consumed: map[ledger.SeasonID]int64{}}
}

func (s State) Clone() State {
	out := s
	out.Consumed = make(map[ledger.SeasonID]int64, len(s.Consumed))
	for k, v := range s.Consumed {
		out.Consumed[k] = v
	}
	return out
}

// TopOutcome describes one top-tier reward for price formation.
type TopOutcome struct {
	PremiumVariant bool
	Special        bool
}

func Influence(outcomes []TopOutcome) float64 {
	total := 0.0
	for _, o := range outcomes {
		switch {
		case o.PremiumVariant:
			total += PremiumInfluence
		case o.Special:
			total += SpecialInfluence
		default:
			total += PlainInfluence
		}
	}
	return total
}

// ApplyInfluence folds a batch's influence into sentiment and steps the
// baseline price.
func (s *State) ApplyInfluence(influence float64, rng Float64Source, now time.Time) {
	s.Sentiment = s.Sentiment*sentimentDecay + influence
	noise := normalish(rng.Float64()) * tradeNoise
	pull := (AnchorPrice - s.BasePrice) * meanReversion
	s.BasePrice = clampBase(s.BasePrice + s.Sentiment*sentimentWeight + noise + pull)
	s.LastUpdate = now
}

// Drift is the idle walk applied when the price is read without a trade.
func (s *State) Drift(rng Float64Source, now time.Time) {
	s.Sentiment *= idleSentimentDecay
	s.BasePrice = clampBase(s.BasePrice + normalish(rng.Float64())*idleNoise*idleNoiseScale)
	s.LastUpdate = now
}

func (s State) OfficialPrice() int64 {
	return clampPrice(int64(math.Round(s.BasePrice)))
}

// Roll moves the state to bucket, forgetting consumption from older buckets.
func (s *State) Roll(bucket int64) {
	if s.Bucket == bucket && s.Consumed != nil {
		return
	}
	s.Bucket = bucket
	s.Consumed = map[ledger.SeasonID]int64{}
}

func (s *State) Consume(season ledger.SeasonID, n int64) {
	if s.Consumed == nil {
		s.Consumed = map[ledger.SeasonID]int64{}
	}
	s.Consumed[season] += n
}

// Liquidity returns the current bucket's layers less what has already been
// bought from them.
func (s *State) Liquidity(now time.Time, bucketSize time.Duration, seasons []ledger.SeasonID) []Layer {
	bucket := BucketOf(now, bucketSize)
	s.Roll(bucket)
	layers := SyntheticLayers(bucket, seasons, s.BasePrice)
	for i := range layers {
		layers[i].Quantity = max(0, layers[i].Quantity-s.Consumed[layers[i].Season])
	}
	return layers
}

func normalish(seed float64) float64 {
	return seed + seed - 1
}

func clampBase(p float64) float64 {
	return math.Max(float64(MinPrice), math.Min(float64(MaxPrice), p))
}
