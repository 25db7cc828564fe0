package qobserve

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

const timeoutMsg = "Test timed out waiting for a dispatch result"

// testKernel applies one rx per parameter on its own qubit.
func testKernel(t *testing.T, params int) *Kernel {
	t.Helper()

	b := NewKernelBuilder("test").Parameters(params)
	for i, q := range b.Qalloc(max(params, 1)) {
		if i < params {
			b.Apply("rx", Param(i), q)
		}
	}
	k, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// termValue is a deterministic stand-in for a backend's raw expectation.
func termValue(name string, params []float64) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	phase := float64(h.Sum32()%1000) / 1000

	var sum float64
	for _, p := range params {
		sum += p
	}
	return math.Cos(phase + sum)
}

// expected folds termValue over every term of obs in term order.
func expected(obs *Observable, params []float64) float64 {
	var sum float64
	for _, term := range obs.terms {
		sum += term.Coefficient * termValue(term.Name, params)
	}
	return sum
}

type fakeBackend struct {
	delay time.Duration
	calls atomic.Int64
	fail  func(req Request) error
}

func (f *fakeBackend) Evaluate(ctx context.Context, req Request) (Measurement, error) {
	f.calls.Add(1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Measurement{}, ctx.Err()
		}
	}

	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return Measurement{}, err
		}
	}

	out := make([]float64, len(req.Terms))
	for i, term := range req.Terms {
		out[i] = termValue(term.Name, req.Parameters)
	}

	m := Measurement{Expectations: out}
	if req.Shots > 0 {
		m.Counts = map[string]int{"0": req.Shots - req.Shots/4, "1": req.Shots / 4}
	}
	return m, nil
}

func testConfig(devices int) *Config {
	cfg := NewConfig()
	cfg.PoolSize = devices
	cfg.SchedulingTimeout = time.Second
	cfg.EvaluationTimeout = 2 * time.Second
	return cfg
}

func newTestScheduler(t *testing.T, devices int, backend Backend) *Scheduler {
	t.Helper()
	return newTestSchedulerWith(t, testConfig(devices), backend)
}

func newTestSchedulerWith(t *testing.T, cfg *Config, backend Backend) *Scheduler {
	t.Helper()

	s, err := NewScheduler(context.Background(), cfg, backend)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func rows(n, width int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, width)
		for j := range out[i] {
			out[i][j] = float64(i)*0.001 + float64(j)*0.1
		}
	}
	return out
}
