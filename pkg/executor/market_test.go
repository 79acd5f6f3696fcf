package executor

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/solroute-labs/solroute/pkg/order"
	"github.com/solroute-labs/solroute/pkg/venue"
)

func testOrder() order.Order {
	return order.Order{
		OrderID:  "ord_test_1",
		Kind:     order.KindMarket,
		TokenIn:  "SOL",
		TokenOut: "USDC",
		Amount:   10,
		Slippage: 0.01,
		Status:   order.StatusPending,
	}
}

func testRouter(t *testing.T, venues ...venue.Venue) *venue.Router {
	t.Helper()
	return venue.NewRouter(venues, nil)
}

type recorder struct {
	updates []order.StatusUpdate
}

func (r *recorder) emit(u order.StatusUpdate) { r.updates = append(r.updates, u) }

func (r *recorder) statuses() []order.Status {
	out := make([]order.Status, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Status
	}
	return out
}

func statusesEqual(got, want []order.Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestMarketExecuteHappyPath(t *testing.T) {
	cheap := venue.NewSim(venue.SimConfig{Name: "raydium", Fee: 0.003, Seed: 1})
	rich := venue.NewSim(venue.SimConfig{Name: "meteora", Fee: 0.002, Seed: 1})
	exec := &Market{deps: Deps{Router: testRouter(t, cheap, rich)}}

	var rec recorder
	o := testOrder()
	res := exec.Execute(context.Background(), o, rec.emit)

	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	want := []order.Status{
		order.StatusRouting,
		order.StatusRouting,
		order.StatusBuilding,
		order.StatusSubmitted,
		order.StatusConfirmed,
	}
	if got := rec.statuses(); !statusesEqual(got, want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}

	// First routing emission is bare, second carries the selection.
	if rec.updates[0].Data != nil {
		t.Errorf("first routing update has data: %+v", rec.updates[0].Data)
	}
	sel := rec.updates[1].Data
	if sel == nil {
		t.Fatal("second routing update has no data")
	}
	if sel.SelectedVenue != "meteora" {
		t.Errorf("selected venue = %q, want meteora (lower fee, same seed)", sel.SelectedVenue)
	}
	if len(sel.Quotes) != 2 {
		t.Errorf("quotes in routing update = %d, want 2", len(sel.Quotes))
	}
	if sel.Reason == "" {
		t.Error("routing update has no selection reason")
	}

	conf := rec.updates[len(rec.updates)-1].Data
	if conf == nil {
		t.Fatal("confirmed update has no data")
	}
	if len(conf.TxHash) != 64 {
		t.Errorf("tx hash length = %d, want 64", len(conf.TxHash))
	}
	if conf.TxHash != res.TxHash || conf.ExecutedPrice != res.ExecutedPrice {
		t.Error("confirmed update does not match execution result")
	}

	// Executed price stays inside the slippage band around the quote.
	dev := math.Abs(conf.ExecutedPrice-sel.Quotes[0].EffectivePrice) / sel.Quotes[0].EffectivePrice
	if dev > o.Slippage {
		t.Errorf("executed price deviation %.4f exceeds slippage %.4f", dev, o.Slippage)
	}
}

func TestMarketExecuteValidationFailure(t *testing.T) {
	exec := &Market{deps: Deps{Router: testRouter(t)}}

	var rec recorder
	o := testOrder()
	o.Amount = -1
	res := exec.Execute(context.Background(), o, rec.emit)

	if res.Success {
		t.Fatal("execute succeeded with invalid amount")
	}
	want := []order.Status{order.StatusFailed}
	if got := rec.statuses(); !statusesEqual(got, want) {
		t.Fatalf("status sequence = %v, want %v (no routing on invalid input)", got, want)
	}
	if rec.updates[0].Data == nil || rec.updates[0].Data.Error == "" {
		t.Error("failed update carries no error message")
	}
}

func TestMarketExecuteNoQuotes(t *testing.T) {
	down := venue.NewSim(venue.SimConfig{Name: "raydium", QuoteErr: errors.New("pool offline")})
	exec := &Market{deps: Deps{Router: testRouter(t, down)}}

	var rec recorder
	res := exec.Execute(context.Background(), testOrder(), rec.emit)

	if res.Success {
		t.Fatal("execute succeeded with no quotes")
	}
	want := []order.Status{order.StatusRouting, order.StatusFailed}
	if got := rec.statuses(); !statusesEqual(got, want) {
		t.Fatalf("status sequence = %v, want %v", got, want)
	}
	if !strings.Contains(res.Error, order.ErrNoQuotesAvailable.Error()) {
		t.Errorf("result error = %q, want it to mention %q", res.Error, order.ErrNoQuotesAvailable)
	}
}

func TestForKind(t *testing.T) {
	deps := Deps{}
	if _, err := ForKind(order.KindMarket, deps); err != nil {
		t.Fatalf("market: %v", err)
	}
	for _, kind := range []order.Kind{order.KindLimit, order.KindSniper, order.Kind("iceberg")} {
		_, err := ForKind(kind, deps)
		if !errors.Is(err, order.ErrUnsupportedKind) {
			t.Errorf("ForKind(%q) error = %v, want ErrUnsupportedKind", kind, err)
		}
	}
}
