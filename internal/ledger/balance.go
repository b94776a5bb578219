package ledger

import (
	"errors"
	"fmt"
)

type Currency string

const (
	Coins  Currency = "coins"
	Tokens Currency = "tokens"
)

var (
	ErrNegativeAmount      = errors.New("amount must be >= 0")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientCrates  = errors.New("insufficient crates")
	ErrGiftInvariant       = errors.New("gift portion exceeds total")
)

// Balance is a currency amount with the promotional (gift) share tracked
// inside it. Gift is informational: it never blocks a spend on its own.
type Balance struct {
	Total int64 `json:"total"`
	Gift  int64 `json:"gift"`
}

func (b Balance) Check() error {
	if b.Total < 0 || b.Gift < 0 || b.Gift > b.Total {
		return fmt.Errorf("%w: total=%d gift=%d", ErrGiftInvariant, b.Total, b.Gift)
	}
	return nil
}

// Credit adds amount, of which gift is promotional.
func (b *Balance) Credit(amount, gift int64) error {
	if amount < 0 || gift < 0 {
		return ErrNegativeAmount
	}
	if gift > amount {
		return fmt.Errorf("%w: credit amount=%d gift=%d", ErrGiftInvariant, amount, gift)
	}
	next := Balance{Total: b.Total + amount, Gift: b.Gift + gift}
	if err := next.Check(); err != nil {
		return err
	}
	*b = next
	return nil
}

// Spend removes amount and reports how much of it came out of the gift share.
func (b *Balance) Spend(amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	if amount > b.Total {
		return 0, fmt.Errorf("%w: have %d need %d", ErrInsufficientBalance, b.Total, amount)
	}
	giftUsed := min(b.Gift, amount)
	next := Balance{Total: b.Total - amount, Gift: b.Gift - giftUsed}
	if err := next.Check(); err != nil {
		return 0, err
	}
	*b = next
	return giftUsed, nil
}

// CrateBalance counts unopened crates for one season. GiftLocked crates can
// be opened but never listed for sale.
type CrateBalance struct {
	Quantity   int64 `json:"quantity"`
	GiftLocked int64 `json:"gift_locked"`
}

func (c CrateBalance) Check() error {
	if c.Quantity < 0 || c.GiftLocked < 0 || c.GiftLocked > c.Quantity {
		return fmt.Errorf("%w: quantity=%d gift_locked=%d", ErrGiftInvariant, c.Quantity, c.GiftLocked)
	}
	return nil
}

func (c CrateBalance) Sellable() int64 {
	return c.Quantity - c.GiftLocked
}

func (c *CrateBalance) Add(n, giftLocked int64) error {
	if n < 0 || giftLocked < 0 {
		return ErrNegativeAmount
	}
	if giftLocked > n {
		return fmt.Errorf("%w: add n=%d gift_locked=%d", ErrGiftInvariant, n, giftLocked)
	}
	next := CrateBalance{Quantity: c.Quantity + n, GiftLocked: c.GiftLocked + giftLocked}
	if err := next.Check(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Consume removes n crates for opening, drawing down gift-locked crates first.
func (c *CrateBalance) Consume(n int64) error {
	if n < 0 {
		return ErrNegativeAmount
	}
	if n > c.Quantity {
		return fmt.Errorf("%w: have %d need %d", ErrInsufficientCrates, c.Quantity, n)
	}
	giftUsed := min(c.GiftLocked, n)
	next := CrateBalance{Quantity: c.Quantity - n, GiftLocked: c.GiftLocked - giftUsed}
	if err := next.Check(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Reserve takes n sellable crates out of the balance for a resting ask.
func (c *CrateBalance) Reserve(n int64) error {
	if n < 0 {
		return ErrNegativeAmount
	}
	if n > c.Sellable() {
		return fmt.Errorf("%w: sellable %d need %d", ErrInsufficientCrates, c.Sellable(), n)
	}
	next := CrateBalance{Quantity: c.Quantity - n, GiftLocked: c.GiftLocked}
	if err := next.Check(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Release returns n previously reserved crates as sellable.
func (c *CrateBalance) Release(n int64) error {
	return c.Add(n, 0)
}
