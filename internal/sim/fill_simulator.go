// Package sim models probabilistic order execution for backtests: taker
// entries pay slippage and occasionally miss, maker orders wait in queue and
// may never fill. The RNG stream is owned by the simulator instance so runs
// are reproducible; parallel backtests use one simulator per ticker.
package sim

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config holds the execution-friction knobs.
type Config struct {
	Enabled bool

	TakerFillRate          float64
	TakerSlippageMeanCents int
	TakerSlippageStdCents  int

	MakerFillRate            float64
	MakerRequirePriceThrough bool

	ApplyLatency bool

	MaxHoldSeconds           int
	TimeoutExitSlippageCents int
}

// DefaultConfig matches the calibrated live/backtest divergence settings.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		TakerFillRate:            0.85,
		TakerSlippageMeanCents:   1,
		TakerSlippageStdCents:    1,
		MakerFillRate:            0.45,
		MakerRequirePriceThrough: true,
		ApplyLatency:             true,
		MaxHoldSeconds:           300,
		TimeoutExitSlippageCents: 2,
	}
}

// Outcome tags a fill attempt.
type Outcome string

const (
	// Filled carries a price.
	Filled Outcome = "filled"
	// Missed means the opportunity evaporated during latency.
	Missed Outcome = "missed"
	// Rejected means the probabilistic fill roll failed (entries only).
	Rejected Outcome = "rejected"
	// Pending means not filled this tick; exits retry next tick.
	Pending Outcome = "pending"
)

// Result is the outcome of one attempt. PriceCents is meaningful only when
// Outcome is Filled.
type Result struct {
	Outcome    Outcome
	PriceCents int
}

func filled(price int) Result { return Result{Outcome: Filled, PriceCents: price} }

// FillSimulator draws fill outcomes from its own RNG stream.
type FillSimulator struct {
	cfg Config
	rng *rand.Rand
}

// New returns a simulator using the given RNG. The caller owns seeding; pass
// a deterministically seeded PCG for reproducible backtests.
func New(cfg Config, rng *rand.Rand) *FillSimulator {
	return &FillSimulator{cfg: cfg, rng: rng}
}

// NewSeeded builds a simulator with its own PCG stream derived from seed.
func NewSeeded(cfg Config, seed uint64) *FillSimulator {
	return New(cfg, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Enabled reports whether friction modeling is on.
func (s *FillSimulator) Enabled() bool { return s.cfg.Enabled }

// TryTakerEntry attempts a spread-crossing entry.
//
// signalPriceCents is the ask when the signal fired; currentAskCents is the
// ask after simulated latency. A moved ask means the opportunity is gone.
func (s *FillSimulator) TryTakerEntry(signalPriceCents, currentAskCents int) Result {
	if !s.cfg.Enabled {
		return filled(signalPriceCents)
	}

	if s.cfg.ApplyLatency && currentAskCents > signalPriceCents {
		return Result{Outcome: Missed}
	}

	if s.rng.Float64() > s.cfg.TakerFillRate {
		return Result{Outcome: Rejected}
	}

	price := currentAskCents + s.sampleSlippageCents()
	if ceil := currentAskCents + 3; price > ceil {
		price = ceil
	}
	if price < currentAskCents {
		price = currentAskCents
	}
	if price < 1 {
		price = 1
	}
	if price > 99 {
		price = 99
	}
	return filled(price)
}

// TryMakerEntry attempts a resting entry at signalPriceCents. Makers get
// their exact price; the only friction is queue-position risk.
func (s *FillSimulator) TryMakerEntry(signalPriceCents int) Result {
	if !s.cfg.Enabled {
		return filled(signalPriceCents)
	}
	if s.rng.Float64() > s.cfg.MakerFillRate {
		return Result{Outcome: Rejected}
	}
	return filled(signalPriceCents)
}

// TryMakerExit attempts to fill a resting sell at sellPriceCents against
// currentBidCents. Exits are never abandoned: a failed roll is Pending, not
// Rejected.
func (s *FillSimulator) TryMakerExit(sellPriceCents, currentBidCents int) Result {
	if !s.cfg.Enabled {
		if currentBidCents >= sellPriceCents {
			return filled(sellPriceCents)
		}
		return Result{Outcome: Pending}
	}

	if s.cfg.MakerRequirePriceThrough {
		if currentBidCents <= sellPriceCents {
			return Result{Outcome: Pending}
		}
	} else if currentBidCents < sellPriceCents {
		return Result{Outcome: Pending}
	}

	if s.rng.Float64() > s.cfg.MakerFillRate {
		return Result{Outcome: Pending}
	}
	return filled(sellPriceCents)
}

// ForceTakerExit fills immediately below the bid, modeling adverse execution
// when a hold timeout forces the position out.
func (s *FillSimulator) ForceTakerExit(currentBidCents int) Result {
	price := currentBidCents - s.cfg.TimeoutExitSlippageCents
	if price < 1 {
		price = 1
	}
	return filled(price)
}

// MaxHold is how long a position may be held before the caller must force a
// taker exit instead of continuing to poll TryMakerExit.
func (s *FillSimulator) MaxHold() time.Duration {
	return time.Duration(s.cfg.MaxHoldSeconds) * time.Second
}

// sampleSlippageCents draws an approximately normal slippage via Box-Muller,
// clamped to [0, mean+3*std].
func (s *FillSimulator) sampleSlippageCents() int {
	mean := float64(s.cfg.TakerSlippageMeanCents)
	std := float64(s.cfg.TakerSlippageStdCents)
	if std == 0 {
		return s.cfg.TakerSlippageMeanCents
	}

	u1 := s.rng.Float64()
	u2 := s.rng.Float64()
	for u1 == 0 {
		u1 = s.rng.Float64()
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	sample := mean + std*z

	if sample < 0 {
		sample = 0
	}
	if limit := mean + 3*std; sample > limit {
		sample = limit
	}
	return int(sample)
}
