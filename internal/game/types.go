package game

import (
	"time"

	"bricks/internal/ledger"
	"bricks/internal/market"
	"bricks/internal/odds"
)

type Season struct {
	ID        ledger.SeasonID `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
}

// Account is the locked aggregate every mutation loads and saves whole.
type Account struct {
	ID                string
	Email             string
	Admin             bool
	Balances          map[ledger.Currency]ledger.Balance
	Crates            ledger.Inventory
	Pity              map[ledger.SeasonID]odds.Pity
	LegacyPity        *odds.Pity
	GiftSellLockQuota int64
	CreatedAt         time.Time
}

func NewAccount(id, email string, admin bool, now time.Time) *Account {
	return &Account{
		ID:        id,
		Email:     email,
		Admin:     admin,
		Balances:  map[ledger.Currency]ledger.Balance{},
		Crates:    ledger.Inventory{},
		Pity:      map[ledger.SeasonID]odds.Pity{},
		CreatedAt: now,
	}
}

func (a *Account) Clone() *Account {
	out := *a
	out.Balances = make(map[ledger.Currency]ledger.Balance, len(a.Balances))
	for k, v := range a.Balances {
		out.Balances[k] = v
	}
	out.Crates = a.Crates.Clone()
	out.Pity = make(map[ledger.SeasonID]odds.Pity, len(a.Pity))
	for k, v := range a.Pity {
		out.Pity[k] = v
	}
	if a.LegacyPity != nil {
		p := *a.LegacyPity
		out.LegacyPity = &p
	}
	return &out
}

func (a *Account) Balance(c ledger.Currency) ledger.Balance {
	return a.Balances[c]
}

func (a *Account) credit(c ledger.Currency, amount, gift int64) error {
	b := a.Balances[c]
	if err := b.Credit(amount, gift); err != nil {
		return err
	}
	a.Balances[c] = b
	return nil
}

func (a *Account) spend(c ledger.Currency, amount int64) (int64, error) {
	b := a.Balances[c]
	giftUsed, err := b.Spend(amount)
	if err != nil {
		return 0, err
	}
	a.Balances[c] = b
	return giftUsed, nil
}

// PityFor reads the counters for season without creating a row.
func (a *Account) PityFor(season ledger.SeasonID) odds.Pity {
	if p, ok := a.Pity[season]; ok {
		return p
	}
	if len(a.Pity) == 0 && a.LegacyPity != nil {
		return *a.LegacyPity
	}
	return odds.Pity{}
}

// touchPity returns the season row, creating it on first use. The first
// season row an account ever gets inherits the legacy counters.
func (a *Account) touchPity(season ledger.SeasonID) odds.Pity {
	if p, ok := a.Pity[season]; ok {
		return p
	}
	var p odds.Pity
	if len(a.Pity) == 0 && a.LegacyPity != nil {
		p = *a.LegacyPity
		a.LegacyPity = nil
	}
	a.Pity[season] = p
	return p
}

func (a *Account) check() error {
	for c, b := range a.Balances {
		if err := b.Check(); err != nil {
			return errorf(ErrInvariant, "account %s %s: %v", a.ID, c, err)
		}
	}
	if err := a.Crates.Check(); err != nil {
		return errorf(ErrInvariant, "account %s crates: %v", a.ID, err)
	}
	if a.GiftSellLockQuota < 0 {
		return errorf(ErrInvariant, "account %s negative sell-lock quota", a.ID)
	}
	return nil
}

type SellOrder struct {
	ID        int64           `json:"id"`
	Owner     string          `json:"owner"`
	Price     int64           `json:"price"`
	Quantity  int64           `json:"quantity"`
	Remaining int64           `json:"remaining"`
	Season    ledger.SeasonID `json:"season"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

func (o SellOrder) ask() market.Ask {
	return market.Ask{
		OrderID:   o.ID,
		Seller:    o.Owner,
		Price:     o.Price,
		Remaining: o.Remaining,
		Season:    o.Season,
		CreatedAt: o.CreatedAt,
	}
}

type BuyOrder struct {
	ID              int64           `json:"id"`
	Owner           string          `json:"owner"`
	TargetPrice     int64           `json:"target_price"`
	Quantity        int64           `json:"quantity"`
	Remaining       int64           `json:"remaining"`
	LockedFunds     int64           `json:"locked_funds"`
	GiftLockedFunds int64           `json:"gift_locked_funds"`
	Season          ledger.SeasonID `json:"season"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
}

type TradeRecord struct {
	ID          int64           `json:"id"`
	Group       string          `json:"group"`
	Account     string          `json:"account"`
	Category    string          `json:"category"`
	Action      string          `json:"action"`
	Source      market.Source   `json:"source"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   int64           `json:"unit_price"`
	TotalAmount int64           `json:"total_amount"`
	NetAmount   int64           `json:"net_amount"`
	Season      ledger.SeasonID `json:"season"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RewardRecord struct {
	ID        string          `json:"id"`
	Account   string          `json:"account"`
	Season    ledger.SeasonID `json:"season"`
	Tier      odds.Tier       `json:"tier"`
	SkinID    string          `json:"skin_id"`
	Special   bool            `json:"special"`
	Tradable  bool            `json:"tradable"`
	CreatedAt time.Time       `json:"created_at"`
}

type OpenInput struct {
	AccountID      string
	Count          int
	Season         ledger.SeasonID
	TargetSkinID   string
	IdempotencyKey string
}

type OpenResult struct {
	Season     ledger.SeasonID `json:"season"`
	Rewards    []RewardRecord  `json:"rewards"`
	Pity       odds.Pity       `json:"pity"`
	CratesLeft int64           `json:"crates_left"`
	TokensLeft int64           `json:"tokens_left"`
	BasePrice  float64         `json:"base_price"`
	Sweep      SweepReport     `json:"sweep"`
}

type SellInput struct {
	AccountID      string
	Quantity       int64
	Price          int64
	Season         ledger.SeasonID
	IdempotencyKey string
}

type BidInput struct {
	AccountID      string
	Quantity       int64
	TargetPrice    int64
	Season         ledger.SeasonID
	IdempotencyKey string
}

type CancelInput struct {
	AccountID      string
	OrderID        int64
	IdempotencyKey string
}

type CancelResult struct {
	OrderID   int64 `json:"order_id"`
	Cancelled bool  `json:"cancelled"`
	Restored  int64 `json:"restored"`
}

type ShopInput struct {
	AccountID string
	Count     int64
	Season    ledger.SeasonID
	// MaxPrice of 0 means no cap.
	MaxPrice       int64
	IdempotencyKey string
}

type ShopResult struct {
	Plan      market.Plan `json:"plan"`
	Spent     int64       `json:"spent"`
	GiftSpent int64       `json:"gift_spent"`
	Balance   int64       `json:"balance"`
	Sweep     SweepReport `json:"sweep"`
}

type SweepReport struct {
	Filled  int   `json:"filled"`
	Skipped int   `json:"skipped"`
	Units   int64 `json:"units"`
}

type OddsView struct {
	Season       ledger.SeasonID   `json:"season"`
	Pity         odds.Pity         `json:"pity"`
	Distribution odds.Distribution `json:"distribution"`
	Config       odds.Config       `json:"config"`
}

type CrateView struct {
	Season     ledger.SeasonID `json:"season"`
	Quantity   int64           `json:"quantity"`
	GiftLocked int64           `json:"gift_locked"`
	Sellable   int64           `json:"sellable"`
}

type WalletView struct {
	AccountID         string                        `json:"account_id"`
	Admin             bool                          `json:"admin"`
	Coins             ledger.Balance                `json:"coins"`
	Tokens            ledger.Balance                `json:"tokens"`
	Crates            []CrateView                   `json:"crates"`
	Pity              map[ledger.SeasonID]odds.Pity `json:"pity"`
	GiftSellLockQuota int64                         `json:"gift_sell_lock_quota"`
}

type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

type BookView struct {
	Season    ledger.SeasonID `json:"season"`
	BasePrice float64         `json:"base_price"`
	Sentiment float64         `json:"sentiment"`
	Layers    []market.Layer  `json:"layers"`
	MySells   []SellOrder     `json:"my_sells"`
	MyBids    []BuyOrder      `json:"my_bids"`
	AllSells  []SellOrder     `json:"all_sells,omitempty"`
	AllBids   []BuyOrder      `json:"all_bids,omitempty"`
	Histogram []PriceLevel    `json:"histogram"`
	Sweep     SweepReport     `json:"sweep"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type GrantInput struct {
	ActorID        string
	AccountID      string
	Coins          int64
	GiftCoins      int64
	Tokens         int64
	Crates         int64
	GiftCrates     int64
	Season         ledger.SeasonID
	SellLockQuota  int64
	IdempotencyKey string
}

type SeasonInput struct {
	ActorID        string
	Name           string
	IdempotencyKey string
}

type TickResult struct {
	BasePrice float64     `json:"base_price"`
	Sentiment float64     `json:"sentiment"`
	Sweep     SweepReport `json:"sweep"`
}
