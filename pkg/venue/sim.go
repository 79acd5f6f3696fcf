package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/solroute-labs/solroute/pkg/order"
)

// basePrices is the mock market-data table: output amount per unit of input.
var basePrices = map[string]float64{
	"SOL/USDC": 100.0,
	"USDC/SOL": 0.01,
	"SOL/USDT": 100.0,
	"USDT/SOL": 0.01,
	"BONK/SOL": 0.00001,
	"SOL/BONK": 100000,
}

// SimConfig parameterizes a simulated venue.
type SimConfig struct {
	Name        string
	Fee         float64
	QuoteDelay  time.Duration
	VarianceMin float64
	VarianceMax float64

	ExecDelayMin time.Duration
	ExecDelayMax time.Duration

	// Seed fixes the rng for deterministic tests; 0 seeds from the clock.
	Seed int64

	// QuoteErr, when set, makes every Quote call fail. Used to exercise
	// partial-failure paths in tests.
	QuoteErr error
}

// Sim is a randomized stand-in for a real venue. Prices are drawn from the
// base table with a per-venue variance band; execution applies slippage
// within the order's tolerance.
type Sim struct {
	cfg SimConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSim(cfg SimConfig) *Sim {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.VarianceMax == 0 {
		cfg.VarianceMin, cfg.VarianceMax = 1, 1
	}
	return &Sim{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (s *Sim) Name() string { return s.cfg.Name }

func (s *Sim) Quote(ctx context.Context, req QuoteRequest) (order.Quote, error) {
	if s.cfg.QuoteErr != nil {
		return order.Quote{}, s.cfg.QuoteErr
	}
	if err := sleepCtx(ctx, s.cfg.QuoteDelay); err != nil {
		return order.Quote{}, err
	}

	base := basePrice(req.TokenIn, req.TokenOut) * req.Amount
	variance := s.cfg.VarianceMin + s.randFloat()*(s.cfg.VarianceMax-s.cfg.VarianceMin)
	price := base * variance

	return order.Quote{
		Venue:          s.cfg.Name,
		Price:          price,
		Fee:            s.cfg.Fee,
		EffectivePrice: price * (1 - s.cfg.Fee),
		Timestamp:      time.Now(),
	}, nil
}

func (s *Sim) Execute(ctx context.Context, req ExecuteRequest) (Settlement, error) {
	delay := s.cfg.ExecDelayMin
	if span := s.cfg.ExecDelayMax - s.cfg.ExecDelayMin; span > 0 {
		delay += time.Duration(s.randFloat() * float64(span))
	}
	if err := sleepCtx(ctx, delay); err != nil {
		return Settlement{}, err
	}

	// Executed price lands within the slippage tolerance around the
	// quoted price.
	variance := -req.Slippage/2 + s.randFloat()*req.Slippage
	executed := req.ExpectedPrice * (1 + variance)

	return Settlement{
		TxHash:        order.NewTxHash(),
		ExecutedPrice: executed,
	}, nil
}

func (s *Sim) randFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func basePrice(tokenIn, tokenOut string) float64 {
	if p, ok := basePrices[fmt.Sprintf("%s/%s", tokenIn, tokenOut)]; ok {
		return p
	}
	return 1.0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Venue = (*Sim)(nil)
