/*
Package analytic is a closed-form reference backend for qobserve. It evaluates
kernels made of single-qubit gates on a product state, computing exact Pauli
expectations and, for finite shot counts, sampled estimates and Z-basis
counts. It is a test collaborator and a demo target, not a simulator.
*/
package analytic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/theapemachine/qobserve"
	"gonum.org/v1/gonum/stat/distuv"
)

// Backend implements qobserve.Backend.
type Backend struct {
	seed    uint64
	latency time.Duration
	calls   atomic.Uint64
}

// Option configures a Backend.
type Option func(*Backend)

// WithSeed fixes the base seed of the sampling streams.
func WithSeed(seed uint64) Option {
	return func(b *Backend) {
		b.seed = seed
	}
}

// WithLatency makes every evaluation take at least d, to stand in for device time.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) {
		b.latency = d
	}
}

// New returns a backend seeded from the clock unless WithSeed is given.
func New(opts ...Option) *Backend {
	b := &Backend{seed: uint64(time.Now().UnixNano())}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Evaluate prepares the kernel for req.Parameters and measures each term.
func (b *Backend) Evaluate(ctx context.Context, req qobserve.Request) (qobserve.Measurement, error) {
	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return qobserve.Measurement{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return qobserve.Measurement{}, err
	}

	state, err := Prepare(req.Kernel, req.Parameters)
	if err != nil {
		return qobserve.Measurement{}, err
	}

	exact := make([]float64, len(req.Terms))
	for i, term := range req.Terms {
		factors, err := ParsePauli(term.Name)
		if err != nil {
			return qobserve.Measurement{}, err
		}
		if exact[i], err = state.Expectation(factors); err != nil {
			return qobserve.Measurement{}, fmt.Errorf("term %q: %w", term.Name, err)
		}
	}

	if req.Shots == qobserve.Analytic {
		return qobserve.Measurement{Expectations: exact}, nil
	}

	rng := rand.New(rand.NewPCG(b.seed, b.calls.Add(1)))
	estimates := make([]float64, len(exact))
	for i, e := range exact {
		estimates[i] = b.estimate(rng, e, req.Shots)
	}

	return qobserve.Measurement{
		Expectations: estimates,
		Counts:       state.Sample(rng, req.Shots),
	}, nil
}

// estimate draws the number of +1 outcomes among shots for an observable
// with exact expectation e and returns the empirical mean.
func (b *Backend) estimate(rng *rand.Rand, e float64, shots int) float64 {
	p := clamp01((1 + e) / 2)

	var plus float64
	switch p {
	case 0:
	case 1:
		plus = float64(shots)
	default:
		plus = distuv.Binomial{N: float64(shots), P: p, Src: rng}.Rand()
	}

	return (2*plus - float64(shots)) / float64(shots)
}
