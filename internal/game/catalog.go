package game

import (
	"fmt"

	"bricks/internal/ledger"
	"bricks/internal/odds"
)

type Reward struct {
	SkinID  string    `json:"skin_id"`
	Tier    odds.Tier `json:"tier"`
	Special bool      `json:"special"`
}

type RewardClass struct {
	PremiumVariant bool
}

type IntSource interface {
	Intn(n int) int
}

// Catalog supplies concrete rewards for a drawn tier.
type Catalog interface {
	Available(season ledger.SeasonID) map[odds.Tier]int
	Pick(season ledger.SeasonID, tier odds.Tier, target string, rng IntSource) (Reward, error)
	Classify(r Reward) RewardClass
}

type CatalogItem struct {
	SkinID  string
	Special bool
	Premium bool
}

// StaticCatalog serves the same item pool for every season unless a season
// has its own entry.
type StaticCatalog struct {
	Default   map[odds.Tier][]CatalogItem
	BySeason  map[ledger.SeasonID]map[odds.Tier][]CatalogItem
	premiumBy map[string]bool
}

func NewStaticCatalog(pool map[odds.Tier][]CatalogItem) *StaticCatalog {
	c := &StaticCatalog{Default: pool, BySeason: map[ledger.SeasonID]map[odds.Tier][]CatalogItem{}}
	c.index()
	return c
}

func (c *StaticCatalog) SetSeason(season ledger.SeasonID, pool map[odds.Tier][]CatalogItem) {
	c.BySeason[season] = pool
	c.index()
}

func (c *StaticCatalog) index() {
	c.premiumBy = map[string]bool{}
	add := func(pool map[odds.Tier][]CatalogItem) {
		for _, items := range pool {
			for _, it := range items {
				if it.Premium {
					c.premiumBy[it.SkinID] = true
				}
			}
		}
	}
	add(c.Default)
	for _, pool := range c.BySeason {
		add(pool)
	}
}

func (c *StaticCatalog) pool(season ledger.SeasonID) map[odds.Tier][]CatalogItem {
	if p, ok := c.BySeason[season]; ok {
		return p
	}
	return c.Default
}

func (c *StaticCatalog) Available(season ledger.SeasonID) map[odds.Tier]int {
	out := map[odds.Tier]int{}
	for tier, items := range c.pool(season) {
		out[tier] = len(items)
	}
	return out
}

// Pick returns target when it names a reward of the drawn tier, otherwise a
// uniformly random reward of that tier.
func (c *StaticCatalog) Pick(season ledger.SeasonID, tier odds.Tier, target string, rng IntSource) (Reward, error) {
	items := c.pool(season)[tier]
	if len(items) == 0 {
		return Reward{}, fmt.Errorf("%w: season %d tier %s", ErrNoRewards, season, tier)
	}
	if target != "" {
		for _, it := range items {
			if it.SkinID == target {
				return Reward{SkinID: it.SkinID, Tier: tier, Special: it.Special}, nil
			}
		}
	}
	it := items[rng.Intn(len(items))]
	return Reward{SkinID: it.SkinID, Tier: tier, Special: it.Special}, nil
}

func (c *StaticCatalog) Classify(r Reward) RewardClass {
	return RewardClass{PremiumVariant: c.premiumBy[r.SkinID]}
}

// DefaultCatalog is the bundled item pool.
func DefaultCatalog() *StaticCatalog {
	return NewStaticCatalog(map[odds.Tier][]CatalogItem{
		odds.Top: {
			{SkinID: "aurora-dragon"},
			{SkinID: "obsidian-knight"},
			{SkinID: "aurora-dragon-gilded", Special: true, Premium: true},
			{SkinID: "obsidian-knight-stattrak", Special: true},
		},
		odds.Second: {
			{SkinID: "neon-fox"},
			{SkinID: "copper-golem"},
			{SkinID: "tidal-serpent"},
		},
		odds.Third: {
			{SkinID: "brick-camo"},
			{SkinID: "sunset-stripe"},
			{SkinID: "moss-weave"},
			{SkinID: "ash-plate"},
		},
		odds.Fourth: {
			{SkinID: "plain-grey"},
			{SkinID: "plain-red"},
			{SkinID: "plain-blue"},
			{SkinID: "plain-green"},
			{SkinID: "plain-sand"},
		},
	})
}
