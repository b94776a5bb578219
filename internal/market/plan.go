package market

import (
	"sort"
	"time"

	"bricks/internal/ledger"
)

type Source string

const (
	Player   Source = "player"
	Official Source = "official"
)

// Ask is a resting player sell order as seen by the planner.
type Ask struct {
	OrderID   int64
	Seller    string
	Price     int64
	Remaining int64
	Season    ledger.SeasonID
	CreatedAt time.Time
}

// SortAsks orders asks by price, then age, then id.
func SortAsks(asks []Ask) {
	sort.Slice(asks, func(i, j int) bool {
		a, b := asks[i], asks[j]
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.OrderID < b.OrderID
	})
}

type PlanRequest struct {
	Quantity int64
	// MaxPrice of 0 means no price cap.
	MaxPrice int64
	// Season of UnassignedSeason matches every season.
	Season       ledger.SeasonID
	ExcludeOwner string
}

type Segment struct {
	Source   Source          `json:"source"`
	OrderID  int64           `json:"order_id,omitempty"`
	Seller   string          `json:"seller,omitempty"`
	Price    int64           `json:"price"`
	Quantity int64           `json:"quantity"`
	Season   ledger.SeasonID `json:"season"`
}

func (s Segment) Cost() int64 {
	return s.Price * s.Quantity
}

type Plan struct {
	Segments  []Segment `json:"segments"`
	Filled    int64     `json:"filled"`
	Shortfall int64     `json:"shortfall"`
	TotalCost int64     `json:"total_cost"`
}

func (p Plan) Complete() bool {
	return p.Shortfall == 0 && p.Filled > 0
}

func (r PlanRequest) matches(price int64, season ledger.SeasonID) bool {
	if r.MaxPrice > 0 && price > r.MaxPrice {
		return false
	}
	if r.Season != ledger.UnassignedSeason && season != r.Season {
		return false
	}
	return true
}

// BuildPlan walks player asks, then official layers, taking the cheapest
// eligible units until the request is filled or liquidity runs out. Asks
// are expected in SortAsks order and layers in price order.
func BuildPlan(req PlanRequest, asks []Ask, layers []Layer) Plan {
	var plan Plan
	need := req.Quantity
	for _, a := range asks {
		if need <= 0 {
			break
		}
		if a.Remaining <= 0 || a.Seller == req.ExcludeOwner || !req.matches(a.Price, a.Season) {
			continue
		}
		take := min(need, a.Remaining)
		plan.add(Segment{Source: Player, OrderID: a.OrderID, Seller: a.Seller, Price: a.Price, Quantity: take, Season: a.Season})
		need -= take
	}
	for _, l := range layers {
		if need <= 0 {
			break
		}
		if l.Quantity <= 0 || !req.matches(l.Price, l.Season) {
			continue
		}
		take := min(need, l.Quantity)
		plan.add(Segment{Source: Official, Price: l.Price, Quantity: take, Season: l.Season})
		need -= take
	}
	plan.Shortfall = max(0, need)
	return plan
}

func (p *Plan) add(seg Segment) {
	p.Segments = append(p.Segments, seg)
	p.Filled += seg.Quantity
	p.TotalCost += seg.Cost()
}

const (
	payoutNumerator   = 95
	payoutDenominator = 100
)

// SellerPayout is floor(price*qty*0.95); the remainder is burned.
func SellerPayout(price, qty int64) int64 {
	return price * qty * payoutNumerator / payoutDenominator
}

// ApportionGift splits gift across segments proportionally to segment cost.
// Leftover units go to the largest fractional remainders, earlier segments
// first on ties, so the parts always add up to gift.
func ApportionGift(segments []Segment, gift int64) []int64 {
	shares := make([]int64, len(segments))
	var total int64
	for _, s := range segments {
		total += s.Cost()
	}
	if gift <= 0 || total <= 0 {
		return shares
	}
	if gift > total {
		gift = total
	}
	type rem struct {
		idx int
		r   int64
	}
	rems := make([]rem, len(segments))
	var assigned int64
	for i, s := range segments {
		num := gift * s.Cost()
		shares[i] = num / total
		rems[i] = rem{idx: i, r: num % total}
		assigned += shares[i]
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].r > rems[j].r })
	for k := 0; assigned < gift; k++ {
		shares[rems[k%len(rems)].idx]++
		assigned++
	}
	return shares
}

// GiftLockedUnits converts a segment's gift share into the number of crates
// that stay gift-locked, capped at the segment quantity.
func GiftLockedUnits(share, price, qty int64) int64 {
	if share <= 0 || price <= 0 {
		return 0
	}
	return min(qty, (share+price-1)/price)
}
