package venue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/solroute-labs/solroute/pkg/order"
)

// Router fans quote requests out to every configured venue and picks the
// quote with the best economic outcome.
type Router struct {
	venues []Venue
	log    *zap.SugaredLogger
}

func NewRouter(venues []Venue, log *zap.SugaredLogger) *Router {
	return &Router{venues: venues, log: log}
}

// GetAllQuotes fetches quotes from every venue concurrently and returns the
// ones that succeeded, sorted best-first by effective price. A venue
// failure is logged and that venue skipped; the caller decides whether an
// empty result is fatal.
func (r *Router) GetAllQuotes(ctx context.Context, req QuoteRequest) []order.Quote {
	results := make([]order.Quote, len(r.venues))
	ok := make([]bool, len(r.venues))

	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v Venue) {
			defer wg.Done()
			q, err := v.Quote(ctx, req)
			if err != nil {
				if r.log != nil {
					r.log.Warnw("quote_fetch_failed", "venue", v.Name(), "err", err)
				}
				return
			}
			results[i], ok[i] = q, true
		}(i, v)
	}
	wg.Wait()

	quotes := make([]order.Quote, 0, len(r.venues))
	for i := range results {
		if ok[i] {
			quotes = append(quotes, results[i])
		}
	}

	// Best-first; stable so equal effective prices keep venue order.
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].EffectivePrice > quotes[j].EffectivePrice
	})
	return quotes
}

// SelectBestQuote returns the quote with the maximum effective price.
// An empty input is an error: an order cannot proceed without a venue.
func (r *Router) SelectBestQuote(quotes []order.Quote) (order.Quote, error) {
	if len(quotes) == 0 {
		return order.Quote{}, order.ErrNoQuotesAvailable
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.EffectivePrice > best.EffectivePrice {
			best = q
		}
	}
	return best, nil
}

// ExecuteOn hands a swap to the named venue's settlement primitive.
func (r *Router) ExecuteOn(ctx context.Context, name string, req ExecuteRequest) (Settlement, error) {
	for _, v := range r.venues {
		if v.Name() == name {
			return v.Execute(ctx, req)
		}
	}
	return Settlement{}, fmt.Errorf("unknown venue %q", name)
}

// ImprovementPct reports how much better the best quote is than the
// next-best, as a percentage of the next-best effective price.
func ImprovementPct(best, next order.Quote) float64 {
	if next.EffectivePrice == 0 {
		return 0
	}
	return (best.EffectivePrice - next.EffectivePrice) / next.EffectivePrice * 100
}
