package market

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"bricks/internal/ledger"
)

const (
	MinPrice = int64(40)
	MaxPrice = int64(150)

	minAggregate = int64(3000)
	maxAggregate = int64(5000)

	// seasonStep separates adjacent seasons' official prices. The latest
	// season sits one step above the baseline.
	seasonStep   = 6.0
	weightJitter = 0.25
)

// Layer is one official sell-side tranche for a season.
type Layer struct {
	Price    int64           `json:"price"`
	Quantity int64           `json:"quantity"`
	Season   ledger.SeasonID `json:"season"`
	Priority int             `json:"priority"`
}

func BucketOf(now time.Time, size time.Duration) int64 {
	secs := int64(size / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return now.Unix() / secs
}

func bucketRand(bucket int64) *rand.Rand {
	return rand.New(rand.NewSource(bucket*2_654_435_761 + 97))
}

// SyntheticLayers generates the official layers for a bucket. Quantities
// depend only on the bucket and the season list, so every read within one
// bucket sees the same split.
func SyntheticLayers(bucket int64, seasons []ledger.SeasonID, basePrice float64) []Layer {
	if len(seasons) == 0 {
		return nil
	}
	ordered := append([]ledger.SeasonID(nil), seasons...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	rng := bucketRand(bucket)
	aggregate := minAggregate + rng.Int63n(maxAggregate-minAggregate+1)

	order := rng.Perm(len(ordered))
	weights := make([]float64, len(ordered))
	total := 0.0
	for _, idx := range order {
		w := 1 + (rng.Float64()*2-1)*weightJitter
		weights[idx] = w
		total += w
	}

	quantities := make([]int64, len(ordered))
	assigned := int64(0)
	for i, w := range weights {
		quantities[i] = int64(math.Floor(float64(aggregate) * w / total))
		assigned += quantities[i]
	}
	for k := 0; assigned < aggregate; k++ {
		quantities[order[k%len(order)]]++
		assigned++
	}

	latest := len(ordered) - 1
	layers := make([]Layer, 0, len(ordered))
	for i, season := range ordered {
		age := float64(latest - i)
		price := basePrice + seasonStep - seasonStep*age
		layers = append(layers, Layer{
			Price:    clampPrice(int64(math.Round(price))),
			Quantity: quantities[i],
			Season:   season,
		})
	}
	sort.SliceStable(layers, func(i, j int) bool {
		if layers[i].Price != layers[j].Price {
			return layers[i].Price < layers[j].Price
		}
		return layers[i].Season < layers[j].Season
	})
	for i := range layers {
		layers[i].Priority = i
	}
	return layers
}

func clampPrice(p int64) int64 {
	if p < MinPrice {
		return MinPrice
	}
	if p > MaxPrice {
		return MaxPrice
	}
	return p
}
