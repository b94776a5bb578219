package market

import (
	"math"
	"reflect"
	"testing"
	"time"

	"pgregory.net/rapid"

	"bricks/internal/ledger"
)

type fixedFloat float64

func (f fixedFloat) Float64() float64 { return float64(f) }

func TestSyntheticLayersStableWithinBucket(t *testing.T) {
	seasons := []ledger.SeasonID{1, 2, 3}
	a := SyntheticLayers(42, seasons, 95)
	b := SyntheticLayers(42, []ledger.SeasonID{3, 1, 2}, 95)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("layers differ within bucket:\n%v\n%v", a, b)
	}
}

func TestSyntheticLayersShape(t *testing.T) {
	seasons := []ledger.SeasonID{1, 2, 3}
	layers := SyntheticLayers(7, seasons, 95)
	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(layers))
	}
	var total int64
	bySeason := map[ledger.SeasonID]Layer{}
	for i, l := range layers {
		total += l.Quantity
		bySeason[l.Season] = l
		if l.Priority != i {
			t.Fatalf("priority %d at index %d", l.Priority, i)
		}
		if i > 0 && layers[i-1].Price > l.Price {
			t.Fatalf("layers not sorted by price: %v", layers)
		}
	}
	if total < minAggregate || total > maxAggregate {
		t.Fatalf("aggregate %d outside range", total)
	}
	if bySeason[3].Price != 101 || bySeason[2].Price != 95 || bySeason[1].Price != 89 {
		t.Fatalf("unexpected season prices: %v", layers)
	}
}

func TestSyntheticLayersClampPrices(t *testing.T) {
	seasons := make([]ledger.SeasonID, 0, 12)
	for i := 1; i <= 12; i++ {
		seasons = append(seasons, ledger.SeasonID(i))
	}
	for _, l := range SyntheticLayers(1, seasons, 45) {
		if l.Price < MinPrice || l.Price > MaxPrice {
			t.Fatalf("price %d out of bounds", l.Price)
		}
	}
	for _, l := range SyntheticLayers(1, seasons[:1], 150) {
		if l.Price != MaxPrice {
			t.Fatalf("expected clamp to max, got %d", l.Price)
		}
	}
}

func TestBuildPlanPrefersPlayerAsks(t *testing.T) {
	asks := []Ask{{OrderID: 1, Seller: "a", Price: 50, Remaining: 10, Season: 1}}
	layers := []Layer{{Price: 45, Quantity: 100, Season: 1}}
	plan := BuildPlan(PlanRequest{Quantity: 10, MaxPrice: 60, Season: 1, ExcludeOwner: "b"}, asks, layers)
	if len(plan.Segments) != 1 {
		t.Fatalf("expected one segment, got %v", plan.Segments)
	}
	seg := plan.Segments[0]
	if seg.Source != Player || seg.Price != 50 || seg.Quantity != 10 {
		t.Fatalf("unexpected segment %+v", seg)
	}
	if plan.TotalCost != 500 || plan.Shortfall != 0 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if got := SellerPayout(seg.Price, seg.Quantity); got != 475 {
		t.Fatalf("payout %d want 475", got)
	}
}

func TestBuildPlanFiltersAndShortfall(t *testing.T) {
	asks := []Ask{
		{OrderID: 1, Seller: "me", Price: 41, Remaining: 5, Season: 1},
		{OrderID: 2, Seller: "x", Price: 42, Remaining: 5, Season: 2},
		{OrderID: 3, Seller: "y", Price: 70, Remaining: 5, Season: 1},
		{OrderID: 4, Seller: "z", Price: 55, Remaining: 3, Season: 1},
	}
	SortAsks(asks)
	layers := []Layer{{Price: 58, Quantity: 4, Season: 1}, {Price: 61, Quantity: 50, Season: 1}}
	plan := BuildPlan(PlanRequest{Quantity: 10, MaxPrice: 60, Season: 1, ExcludeOwner: "me"}, asks, layers)
	if plan.Filled != 7 || plan.Shortfall != 3 {
		t.Fatalf("unexpected fill %+v", plan)
	}
	if plan.Segments[0].OrderID != 4 || plan.Segments[1].Source != Official {
		t.Fatalf("unexpected segments %+v", plan.Segments)
	}
	if plan.TotalCost != 3*55+4*58 {
		t.Fatalf("cost %d", plan.TotalCost)
	}
}

func TestSortAsksFIFOAtEqualPrice(t *testing.T) {
	t0 := time.Unix(1000, 0)
	asks := []Ask{
		{OrderID: 9, Price: 50, CreatedAt: t0.Add(time.Second)},
		{OrderID: 7, Price: 50, CreatedAt: t0},
		{OrderID: 3, Price: 50, CreatedAt: t0},
		{OrderID: 1, Price: 60, CreatedAt: t0},
	}
	SortAsks(asks)
	got := []int64{asks[0].OrderID, asks[1].OrderID, asks[2].OrderID, asks[3].OrderID}
	if !reflect.DeepEqual(got, []int64{3, 7, 9, 1}) {
		t.Fatalf("order %v", got)
	}
}

func TestApportionGift(t *testing.T) {
	segs := []Segment{{Price: 50, Quantity: 1}, {Price: 50, Quantity: 1}, {Price: 50, Quantity: 1}}
	shares := ApportionGift(segs, 100)
	if shares[0]+shares[1]+shares[2] != 100 {
		t.Fatalf("shares %v do not add up", shares)
	}
	if shares[0] != 34 || shares[1] != 33 || shares[2] != 33 {
		t.Fatalf("unexpected remainder handling %v", shares)
	}
	if got := GiftLockedUnits(34, 50, 1); got != 1 {
		t.Fatalf("locked units %d", got)
	}
	if got := GiftLockedUnits(500, 50, 3); got != 3 {
		t.Fatalf("locked units should cap at quantity, got %d", got)
	}
}

func TestApportionGiftAddsUp(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "segments")
		segs := make([]Segment, n)
		var total int64
		for i := range segs {
			segs[i] = Segment{
				Price:    rapid.Int64Range(MinPrice, MaxPrice).Draw(t, "price"),
				Quantity: rapid.Int64Range(1, 50).Draw(t, "qty"),
			}
			total += segs[i].Cost()
		}
		gift := rapid.Int64Range(0, total).Draw(t, "gift")
		var sum int64
		for i, s := range ApportionGift(segs, gift) {
			if s < 0 || s > segs[i].Cost() {
				t.Fatalf("share %d outside segment cost %d", s, segs[i].Cost())
			}
			sum += s
		}
		if sum != gift {
			t.Fatalf("shares sum %d want %d", sum, gift)
		}
	})
}

func TestSellerPayoutBurnsFivePercent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := rapid.Int64Range(MinPrice, MaxPrice).Draw(t, "price")
		qty := rapid.Int64Range(1, 10_000).Draw(t, "qty")
		payout := SellerPayout(price, qty)
		if payout*100 > price*qty*95 || (payout+1)*100 <= price*qty*95 {
			t.Fatalf("payout %d is not floor(%d*0.95)", payout, price*qty)
		}
		if price*qty-payout <= 0 {
			t.Fatalf("nothing burned for price=%d qty=%d", price, qty)
		}
	})
}

func TestApplyInfluencePlainTops(t *testing.T) {
	s := State{BasePrice: 100}
	influence := Influence([]TopOutcome{{}, {}})
	if math.Abs(influence+0.6) > 1e-12 {
		t.Fatalf("influence %.4f", influence)
	}
	s.ApplyInfluence(influence, fixedFloat(0.5), time.Unix(0, 0))
	if math.Abs(s.Sentiment+0.6) > 1e-12 {
		t.Fatalf("sentiment %.4f", s.Sentiment)
	}
	want := 100 + (-0.6 * 0.24) + (95-100)*0.04
	if math.Abs(s.BasePrice-want) > 1e-9 {
		t.Fatalf("price %.6f want %.6f", s.BasePrice, want)
	}
}

func TestApplyInfluenceStaysBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := State{
			BasePrice: rapid.Float64Range(40, 150).Draw(t, "base"),
			Sentiment: rapid.Float64Range(-50, 50).Draw(t, "sentiment"),
		}
		before := s.BasePrice
		u := rapid.Float64Range(0, 1).Draw(t, "u")
		influence := rapid.Float64Range(-30, 30).Draw(t, "influence")
		s.ApplyInfluence(influence, fixedFloat(u), time.Unix(0, 0))
		if s.BasePrice < 40 || s.BasePrice > 150 {
			t.Fatalf("price %.4f out of bounds", s.BasePrice)
		}
		unclamped := before + s.Sentiment*0.24 + (2*u-1)*1.2 + (95-before)*0.04
		if unclamped >= 40 && unclamped <= 150 && math.Abs(unclamped-s.BasePrice) > 1e-9 {
			t.Fatalf("price %.6f want %.6f", s.BasePrice, unclamped)
		}
	})
}

func TestDriftDecaysSentiment(t *testing.T) {
	s := State{BasePrice: 95, Sentiment: 10}
	s.Drift(fixedFloat(1), time.Unix(0, 0))
	if math.Abs(s.Sentiment-9.2) > 1e-12 {
		t.Fatalf("sentiment %.4f", s.Sentiment)
	}
	if math.Abs(s.BasePrice-(95+0.8*0.12)) > 1e-12 {
		t.Fatalf("price %.6f", s.BasePrice)
	}
}

func TestLiquiditySubtractsConsumedUntilBucketRolls(t *testing.T) {
	size := 10 * time.Minute
	now := time.Unix(6000, 0)
	s := NewState(now)
	seasons := []ledger.SeasonID{1}
	full := s.Liquidity(now, size, seasons)[0].Quantity
	s.Consume(1, 100)
	if got := s.Liquidity(now.Add(time.Minute), size, seasons)[0].Quantity; got != full-100 {
		t.Fatalf("remaining %d want %d", got, full-100)
	}
	s.Liquidity(now.Add(size), size, seasons)
	if s.Consumed[1] != 0 {
		t.Fatalf("consumption not reset on new bucket")
	}
}
