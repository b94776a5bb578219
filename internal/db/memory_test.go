package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bricks/internal/game"
	"bricks/internal/ledger"
)

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx game.Tx) error {
		if err := tx.InsertAccount(ctx, game.NewAccount("a", "", false, time.Unix(0, 0))); err != nil {
			return err
		}
		if err := tx.ClaimIdempotency(ctx, "a", "k1", "open"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.WithTx(ctx, func(tx game.Tx) error {
		if _, err := tx.Account(ctx, "a"); !errors.Is(err, game.ErrNotFound) {
			t.Fatalf("account survived rollback: %v", err)
		}
		return tx.ClaimIdempotency(ctx, "a", "k1", "open")
	})
	if err != nil {
		t.Fatalf("idempotency key survived rollback: %v", err)
	}
}

func TestMemoryStoreIdempotencyIsPerAccount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.WithTx(ctx, func(tx game.Tx) error {
		return tx.ClaimIdempotency(ctx, "a", "k", "open")
	})
	err := store.WithTx(ctx, func(tx game.Tx) error {
		return tx.ClaimIdempotency(ctx, "a", "k", "open")
	})
	if !errors.Is(err, game.ErrDuplicateIdempotency) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	err = store.WithTx(ctx, func(tx game.Tx) error {
		return tx.ClaimIdempotency(ctx, "b", "k", "open")
	})
	if err != nil {
		t.Fatalf("other account should be able to use the key: %v", err)
	}
}

func TestMemoryStoreAccountIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.WithTx(ctx, func(tx game.Tx) error {
		return tx.InsertAccount(ctx, game.NewAccount("a", "", false, time.Unix(0, 0)))
	})
	_ = store.WithTx(ctx, func(tx game.Tx) error {
		a, err := tx.Account(ctx, "a")
		if err != nil {
			return err
		}
		a.Crates[1] = &ledger.CrateBalance{Quantity: 5}
		return nil
	})
	_ = store.WithTx(ctx, func(tx game.Tx) error {
		a, err := tx.Account(ctx, "a")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got := a.Crates.Get(1).Quantity; got != 0 {
			t.Fatalf("unsaved change leaked: %d", got)
		}
		return nil
	})
}

func TestMemoryStoreBookOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Unix(1000, 0)
	err := store.WithTx(ctx, func(tx game.Tx) error {
		sells := []game.SellOrder{
			{Owner: "a", Price: 60, Quantity: 1, Remaining: 1, Season: 1, Active: true, CreatedAt: t0},
			{Owner: "b", Price: 50, Quantity: 1, Remaining: 1, Season: 1, Active: true, CreatedAt: t0.Add(time.Second)},
			{Owner: "c", Price: 50, Quantity: 1, Remaining: 1, Season: 1, Active: true, CreatedAt: t0},
			{Owner: "d", Price: 40, Quantity: 1, Remaining: 1, Season: 2, Active: true, CreatedAt: t0},
			{Owner: "e", Price: 40, Quantity: 1, Remaining: 0, Season: 1, Active: false, CreatedAt: t0},
		}
		for i := range sells {
			if err := tx.InsertSellOrder(ctx, &sells[i]); err != nil {
				return err
			}
		}
		bids := []game.BuyOrder{
			{Owner: "a", TargetPrice: 70, Quantity: 1, Remaining: 1, Active: true, CreatedAt: t0.Add(time.Second)},
			{Owner: "b", TargetPrice: 80, Quantity: 1, Remaining: 1, Active: true, CreatedAt: t0.Add(2 * time.Second)},
			{Owner: "c", TargetPrice: 70, Quantity: 1, Remaining: 1, Active: true, CreatedAt: t0},
		}
		for i := range bids {
			if err := tx.InsertBuyOrder(ctx, &bids[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = store.WithTx(ctx, func(tx game.Tx) error {
		sells, _ := tx.ActiveSellOrders(ctx, 1)
		var owners []string
		for _, o := range sells {
			owners = append(owners, o.Owner)
		}
		if strings.Join(owners, ",") != "c,b,a" {
			t.Fatalf("ask order %v", owners)
		}
		bids, _ := tx.ActiveBuyOrders(ctx)
		owners = owners[:0]
		for _, o := range bids {
			owners = append(owners, o.Owner)
		}
		if strings.Join(owners, ",") != "b,c,a" {
			t.Fatalf("bid order %v", owners)
		}
		return nil
	})
}

func TestSchemaVersionStable(t *testing.T) {
	if SchemaVersion() != SchemaVersion() {
		t.Fatalf("schema version not deterministic")
	}
	for _, table := range []string{"game.accounts", "game.crate_balances", "game.sell_orders", "game.buy_orders", "game.market_state", "game.idempotency_keys"} {
		if !strings.Contains(schemaSQL, table) {
			t.Fatalf("schema missing %s", table)
		}
	}
}
