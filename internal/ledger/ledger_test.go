package ledger

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestBalanceSpendDrawsGiftFirst(t *testing.T) {
	tests := []struct {
		name     string
		start    Balance
		spend    int64
		want     Balance
		giftUsed int64
	}{
		{name: "gift covers spend", start: Balance{Total: 100, Gift: 40}, spend: 30, want: Balance{Total: 70, Gift: 10}, giftUsed: 30},
		{name: "gift partially covers", start: Balance{Total: 100, Gift: 40}, spend: 60, want: Balance{Total: 40, Gift: 0}, giftUsed: 40},
		{name: "no gift", start: Balance{Total: 100}, spend: 100, want: Balance{}, giftUsed: 0},
	}
	for _, tc := range tests {
		b := tc.start
		used, err := b.Spend(tc.spend)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if b != tc.want || used != tc.giftUsed {
			t.Fatalf("%s: got %+v used=%d want %+v used=%d", tc.name, b, used, tc.want, tc.giftUsed)
		}
	}
}

func TestBalanceSpendInsufficientLeavesBalance(t *testing.T) {
	b := Balance{Total: 10, Gift: 5}
	if _, err := b.Spend(11); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if b != (Balance{Total: 10, Gift: 5}) {
		t.Fatalf("balance mutated on failed spend: %+v", b)
	}
}

func TestBalanceCreditRejectsGiftAboveAmount(t *testing.T) {
	b := Balance{}
	if err := b.Credit(5, 6); !errors.Is(err, ErrGiftInvariant) {
		t.Fatalf("expected ErrGiftInvariant, got %v", err)
	}
}

func TestCrateBalanceConsumePrefersGiftLocked(t *testing.T) {
	c := CrateBalance{Quantity: 10, GiftLocked: 4}
	if err := c.Consume(6); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if c != (CrateBalance{Quantity: 4, GiftLocked: 0}) {
		t.Fatalf("got %+v", c)
	}
}

func TestCrateBalanceReserveOnlySellable(t *testing.T) {
	c := CrateBalance{Quantity: 10, GiftLocked: 4}
	if err := c.Reserve(7); !errors.Is(err, ErrInsufficientCrates) {
		t.Fatalf("expected ErrInsufficientCrates, got %v", err)
	}
	if err := c.Reserve(6); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if c != (CrateBalance{Quantity: 4, GiftLocked: 4}) {
		t.Fatalf("got %+v", c)
	}
	if err := c.Release(6); err != nil {
		t.Fatalf("release: %v", err)
	}
	if c.Sellable() != 6 {
		t.Fatalf("sellable after release = %d, want 6", c.Sellable())
	}
}

func TestInventoryTouchMergesLegacyOnce(t *testing.T) {
	inv := Inventory{
		UnassignedSeason: {Quantity: 5, GiftLocked: 2},
		1:                {Quantity: 3},
	}
	row, err := inv.Touch(1, 2)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if *row != (CrateBalance{Quantity: 3}) {
		t.Fatalf("season 1 changed: %+v", *row)
	}
	if _, ok := inv[UnassignedSeason]; ok {
		t.Fatalf("legacy bucket not removed")
	}
	if got := inv.Get(2); got != (CrateBalance{Quantity: 5, GiftLocked: 2}) {
		t.Fatalf("season 2 = %+v", got)
	}

	if _, err := inv.Touch(2, 2); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	if got := inv.Get(2); got.Quantity != 5 {
		t.Fatalf("legacy merged twice: %+v", got)
	}
}

func TestInventoryTouchRejectsUnassigned(t *testing.T) {
	inv := Inventory{}
	if _, err := inv.Touch(UnassignedSeason, 1); err == nil {
		t.Fatalf("expected error touching unassigned bucket")
	}
}

func TestCrateBalanceGiftInvariantHolds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := CrateBalance{}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			n := rapid.Int64Range(0, 20).Draw(t, "n")
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				gift := rapid.Int64Range(0, n).Draw(t, "gift")
				_ = c.Add(n, gift)
			case 1:
				_ = c.Consume(n)
			case 2:
				_ = c.Reserve(n)
			case 3:
				_ = c.Release(n)
			}
			if err := c.Check(); err != nil {
				t.Fatalf("invariant broken after step %d: %v", i, err)
			}
		}
	})
}

func TestBalanceGiftInvariantHolds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := Balance{}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			amount := rapid.Int64Range(0, 1000).Draw(t, "amount")
			if rapid.Bool().Draw(t, "credit") {
				gift := rapid.Int64Range(0, amount).Draw(t, "gift")
				_ = b.Credit(amount, gift)
			} else {
				before := b
				used, err := b.Spend(amount)
				if err == nil && used != min(before.Gift, amount) {
					t.Fatalf("gift used %d, want %d", used, min(before.Gift, amount))
				}
			}
			if err := b.Check(); err != nil {
				t.Fatalf("invariant broken: %v", err)
			}
		}
	})
}
