package odds

import (
	"errors"
	"fmt"
	"math"
)

type Tier string

const (
	Top    Tier = "top"
	Second Tier = "second"
	Third  Tier = "third"
	Fourth Tier = "fourth"
)

var Tiers = []Tier{Top, Second, Third, Fourth}

func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Config holds the tunable draw rates. Probabilities are percentages.
type Config struct {
	PTop             float64 `yaml:"p_top" json:"p_top"`
	PSecond          float64 `yaml:"p_second" json:"p_second"`
	PThird           float64 `yaml:"p_third" json:"p_third"`
	PFourth          float64 `yaml:"p_fourth" json:"p_fourth"`
	RampStart        int     `yaml:"ramp_start" json:"ramp_start"`
	PityMax          int     `yaml:"pity_max" json:"pity_max"`
	PityMax2         int     `yaml:"pity_max_second" json:"pity_max_second"`
	CompressionAlpha float64 `yaml:"compression_alpha" json:"compression_alpha"`
}

func DefaultConfig() Config {
	return Config{
		PTop:             0.3,
		PSecond:          5,
		PThird:           25,
		PFourth:          69.7,
		RampStart:        65,
		PityMax:          75,
		PityMax2:         10,
		CompressionAlpha: 0.5,
	}
}

const sumTolerance = 1e-6

func (c Config) Validate() error {
	for _, p := range []float64{c.PTop, c.PSecond, c.PThird, c.PFourth} {
		if p < 0 || math.IsNaN(p) {
			return errors.New("tier probabilities must be >= 0")
		}
	}
	if sum := c.PTop + c.PSecond + c.PThird + c.PFourth; math.Abs(sum-100) > sumTolerance {
		return fmt.Errorf("tier probabilities must sum to 100, got %.6f", sum)
	}
	if c.PityMax < 1 {
		return errors.New("pity_max must be >= 1")
	}
	if c.RampStart < 0 || c.RampStart >= c.PityMax {
		return errors.New("ramp_start must be in [0, pity_max)")
	}
	if c.PityMax2 < 1 {
		return errors.New("pity_max_second must be >= 1")
	}
	if c.CompressionAlpha < 0 || c.CompressionAlpha > 1 {
		return errors.New("compression_alpha must be in [0, 1]")
	}
	return nil
}

// Pity counts draws since the last top and second tier reward.
type Pity struct {
	Top    int `json:"pity_top"`
	Second int `json:"pity_second"`
}

func (p Pity) Advance(t Tier) Pity {
	switch t {
	case Top:
		return Pity{Top: 0, Second: p.Second + 1}
	case Second:
		return Pity{Top: p.Top + 1, Second: 0}
	default:
		return Pity{Top: p.Top + 1, Second: p.Second + 1}
	}
}

type Distribution struct {
	Top          float64 `json:"top"`
	Second       float64 `json:"second"`
	Third        float64 `json:"third"`
	Fourth       float64 `json:"fourth"`
	ForcedTop    bool    `json:"forced_top"`
	ForcedSecond bool    `json:"forced_second"`
}

func (d Distribution) Prob(t Tier) float64 {
	switch t {
	case Top:
		return d.Top
	case Second:
		return d.Second
	case Third:
		return d.Third
	case Fourth:
		return d.Fourth
	}
	return 0
}

// Compute applies the soft-pity ramp for the given counters. Inside the ramp
// the top rate climbs linearly toward 100 while the other tiers are
// compressed, their removed mass moving to top.
func Compute(p Pity, cfg Config) Distribution {
	top, second, third, fourth := cfg.PTop, cfg.PSecond, cfg.PThird, cfg.PFourth
	n := p.Top
	if n >= cfg.RampStart && n < cfg.PityMax {
		span := float64(cfg.PityMax - cfg.RampStart)
		top += (100 - top) * float64(n-cfg.RampStart+1) / span

		frac := float64(min(cfg.PityMax-1, n)-cfg.RampStart) / span
		frac = math.Max(0, math.Min(1, frac))
		c := 1 - cfg.CompressionAlpha*frac

		rest := second + third + fourth
		second *= c
		third *= c
		fourth *= c
		top += rest * (1 - c)
	}

	out := normalize([4]float64{top, second, third, fourth})
	return Distribution{
		Top:          out[0],
		Second:       out[1],
		Third:        out[2],
		Fourth:       out[3],
		ForcedTop:    n+1 >= cfg.PityMax,
		ForcedSecond: p.Second+1 >= cfg.PityMax2,
	}
}

// normalize rescales to 100 and folds leftover float drift into the largest
// component so the four values add up exactly.
func normalize(v [4]float64) [4]float64 {
	sum := v[0] + v[1] + v[2] + v[3]
	if sum <= 0 {
		return [4]float64{0, 0, 0, 100}
	}
	largest := 0
	for i := range v {
		v[i] = v[i] * 100 / sum
		if v[i] > v[largest] {
			largest = i
		}
	}
	others := 0.0
	for i := range v {
		if i != largest {
			others += v[i]
		}
	}
	v[largest] = 100 - others
	return v
}

type Source interface {
	Int63n(n int64) int64
}

const microScale = int64(1_000_000)

func roll(rng Source, percent float64) bool {
	threshold := int64(math.Round(percent / 100 * float64(microScale)))
	if threshold <= 0 {
		return false
	}
	return rng.Int63n(microScale) < threshold
}

// Draw picks one tier. Every roll is an integer comparison on a
// one-in-a-million scale.
func Draw(d Distribution, rng Source) Tier {
	if d.ForcedTop {
		return Top
	}
	if roll(rng, d.Top) {
		return Top
	}
	if d.ForcedSecond || roll(rng, d.Second) {
		return Second
	}
	lower := d.Third + d.Fourth
	if lower <= 0 {
		return Fourth
	}
	if roll(rng, d.Third/lower*100) {
		return Third
	}
	return Fourth
}
