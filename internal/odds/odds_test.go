package odds

import (
	"math"
	"math/rand"
	"testing"

	"pgregory.net/rapid"
)

// fixedSource always returns the same roll.
type fixedSource int64

func (f fixedSource) Int63n(n int64) int64 {
	v := int64(f)
	if v >= n {
		return n - 1
	}
	return v
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "sum off", mutate: func(c *Config) { c.PFourth = 60 }},
		{name: "negative", mutate: func(c *Config) { c.PTop = -1; c.PFourth = 71 }},
		{name: "ramp after max", mutate: func(c *Config) { c.RampStart = 80 }},
		{name: "no second pity", mutate: func(c *Config) { c.PityMax2 = 0 }},
		{name: "alpha", mutate: func(c *Config) { c.CompressionAlpha = 1.5 }},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestComputeOutsideRampKeepsBaseRates(t *testing.T) {
	cfg := DefaultConfig()
	d := Compute(Pity{Top: 10, Second: 2}, cfg)
	if math.Abs(d.Top-0.3) > 1e-9 || math.Abs(d.Fourth-69.7) > 1e-9 {
		t.Fatalf("unexpected distribution %+v", d)
	}
	if d.ForcedTop || d.ForcedSecond {
		t.Fatalf("no forced conversion expected: %+v", d)
	}
}

func TestComputeRampRaisesTop(t *testing.T) {
	cfg := DefaultConfig()
	prev := Compute(Pity{Top: cfg.RampStart - 1}, cfg).Top
	for n := cfg.RampStart; n < cfg.PityMax; n++ {
		d := Compute(Pity{Top: n}, cfg)
		if d.Top <= prev {
			t.Fatalf("pity %d: top %.6f did not increase from %.6f", n, d.Top, prev)
		}
		prev = d.Top
	}
}

func TestForcedTopAtCeiling(t *testing.T) {
	cfg := DefaultConfig()
	p := Pity{Top: 74, Second: 3}
	d := Compute(p, cfg)
	if !d.ForcedTop {
		t.Fatalf("expected forced top at pity 74")
	}
	tier := Draw(d, fixedSource(microScale-1))
	if tier != Top {
		t.Fatalf("expected top draw, got %s", tier)
	}
	if next := p.Advance(tier); next.Top != 0 || next.Second != 4 {
		t.Fatalf("unexpected pity after top: %+v", next)
	}
}

func TestForcedSecond(t *testing.T) {
	cfg := DefaultConfig()
	d := Compute(Pity{Top: 3, Second: cfg.PityMax2 - 1}, cfg)
	if !d.ForcedSecond {
		t.Fatalf("expected forced second")
	}
	if tier := Draw(d, fixedSource(microScale-1)); tier != Second {
		t.Fatalf("expected second, got %s", tier)
	}
}

func TestDrawRollsAreRelativeForLowerTiers(t *testing.T) {
	d := Distribution{Top: 0, Second: 0, Third: 25, Fourth: 75}
	if tier := Draw(d, fixedSource(249_999)); tier != Third {
		t.Fatalf("expected third below threshold, got %s", tier)
	}
	if tier := Draw(d, fixedSource(250_000)); tier != Fourth {
		t.Fatalf("expected fourth at threshold, got %s", tier)
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		tier Tier
		want Pity
	}{
		{tier: Top, want: Pity{Top: 0, Second: 6}},
		{tier: Second, want: Pity{Top: 11, Second: 0}},
		{tier: Third, want: Pity{Top: 11, Second: 6}},
		{tier: Fourth, want: Pity{Top: 11, Second: 6}},
	}
	for _, tc := range tests {
		got := Pity{Top: 10, Second: 5}.Advance(tc.tier)
		if got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.tier, got, tc.want)
		}
	}
}

func TestComputeSumsToHundred(t *testing.T) {
	cfg := DefaultConfig()
	rapid.Check(t, func(t *rapid.T) {
		p := Pity{
			Top:    rapid.IntRange(0, cfg.PityMax+5).Draw(t, "top"),
			Second: rapid.IntRange(0, cfg.PityMax2+5).Draw(t, "second"),
		}
		d := Compute(p, cfg)
		sum := d.Top + d.Second + d.Third + d.Fourth
		if math.Abs(sum-100) > 1e-9 {
			t.Fatalf("pity %+v: sum %.12f", p, sum)
		}
		for _, tier := range Tiers {
			if d.Prob(tier) < 0 {
				t.Fatalf("negative probability for %s: %+v", tier, d)
			}
		}
	})
}

func TestTopNeverMissedPastCeiling(t *testing.T) {
	cfg := DefaultConfig()
	rapid.Check(t, func(t *rapid.T) {
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))
		p := Pity{}
		for i := 0; i < 300; i++ {
			before := p
			tier := Draw(Compute(p, cfg), rng)
			p = p.Advance(tier)
			if before.Top == cfg.PityMax-1 && tier != Top {
				t.Fatalf("draw %d missed top at pity %d", i, before.Top)
			}
			if p.Top >= cfg.PityMax {
				t.Fatalf("pity top exceeded ceiling: %d", p.Top)
			}
		}
	})
}
