package main

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pacegate/pacegate/pkg/pacegate"
)

// mockExchange is a loopback stand-in for the real provider. Each
// endpoint enforces its own limit with x/time/rate and answers 429 with
// a Retry-After hint on overage, so the limiter's feedback loop has a
// real counterpart to talk to.
type mockExchange struct {
	ticker *rate.Limiter
	orders *rate.Limiter
}

func newMockExchange(cfg *pacegate.Config, overload bool) *mockExchange {
	pub, _ := cfg.GroupConfig(pacegate.GroupPublicRead)
	ord, _ := cfg.GroupConfig(pacegate.GroupPrivateOrder)

	// With --overload the exchange enforces tighter limits than it
	// advertises, which is exactly the situation adaptive throttling
	// exists for.
	factor := 1.0
	if overload {
		factor = 0.5
	}

	return &mockExchange{
		ticker: rate.NewLimiter(rate.Limit(pub.BaseRPS*factor), pub.BurstCapacity),
		orders: rate.NewLimiter(rate.Limit(ord.BaseRPS*factor), ord.BurstCapacity),
	}
}

func (e *mockExchange) register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ticker", e.handle(e.ticker, `{"market":"KRW-BTC","trade_price":42000000}`))
	mux.HandleFunc("/v1/orders", e.handle(e.orders, `{"uuid":"mock-order","state":"wait"}`))
}

func (e *mockExchange) handle(lim *rate.Limiter, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !lim.Allow() {
			res := lim.Reserve()
			delay := res.Delay()
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(delay/time.Second)+1))
			http.Error(w, `{"error":{"name":"too_many_requests"}}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}
