// Package price looks up USD token prices from an ordered list of public APIs.
package price

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var mtxLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "price_lookups_total",
		Help: "Price lookups by provider and result (ok|miss|error|panic)",
	},
	[]string{"provider", "result"},
)

func init() {
	prometheus.MustRegister(mtxLookups)
}

// Provider fetches a USD price for a mint. Errors and panics never escape
// the Oracle, so implementations may fail freely.
type Provider interface {
	Name() string
	Price(ctx context.Context, mint string) (float64, error)
}

// Oracle tries providers in order and returns the first positive price
type Oracle struct {
	providers []Provider
	timeout   time.Duration
}

// NewOracle creates an oracle; each provider call gets its own timeout
func NewOracle(timeout time.Duration, providers ...Provider) *Oracle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Oracle{providers: providers, timeout: timeout}
}

// GetPrice returns the price and true, or false when every provider failed
func (o *Oracle) GetPrice(ctx context.Context, mint string) (float64, bool) {
	for _, p := range o.providers {
		if ctx.Err() != nil {
			return 0, false
		}
		if v, ok := o.try(ctx, p, mint); ok {
			return v, true
		}
	}
	return 0, false
}

// Providers lists provider names in lookup order
func (o *Oracle) Providers() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

func (o *Oracle) try(ctx context.Context, p Provider, mint string) (price float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mtxLookups.WithLabelValues(p.Name(), "panic").Inc()
			log.Error().Str("provider", p.Name()).Str("mint", mint).Interface("panic", r).Msg("price provider panicked")
			price, ok = 0, false
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	v, err := p.Price(pctx, mint)
	if err != nil {
		mtxLookups.WithLabelValues(p.Name(), "error").Inc()
		log.Debug().Err(err).Str("provider", p.Name()).Str("mint", mint).Msg("price lookup failed")
		return 0, false
	}
	if !(v > 0) || math.IsInf(v, 0) {
		mtxLookups.WithLabelValues(p.Name(), "miss").Inc()
		return 0, false
	}
	mtxLookups.WithLabelValues(p.Name(), "ok").Inc()
	return v, true
}

// errNoPrice is returned by providers that answered without a price
var errNoPrice = errors.New("no price")
