package qobserve

import (
	"context"
	"sort"
)

/*
Request is everything a backend needs to produce one expectation estimate:
the kernel, the term group to measure, one parameter vector, the shot count
and the device the work was admitted to.
*/
type Request struct {
	Kernel     *Kernel
	Terms      []Term
	Parameters []float64
	Shots      int
	Device     int
}

/*
Measurement is the backend's answer to a Request. Expectations holds one raw
(unweighted) expectation value per requested term, in request order; the
scheduler folds in the coefficients itself so summation order stays canonical.
Counts is optional sampling metadata.
*/
type Measurement struct {
	Expectations []float64
	Counts       map[string]int
}

// Backend evaluates work units. It is called from device workers, one call
// per unit, possibly concurrently across devices.
type Backend interface {
	Evaluate(ctx context.Context, req Request) (Measurement, error)
}

// BackendFunc adapts a plain function to the Backend interface.
type BackendFunc func(ctx context.Context, req Request) (Measurement, error)

func (f BackendFunc) Evaluate(ctx context.Context, req Request) (Measurement, error) {
	return f(ctx, req)
}

// EvaluationResult is the expectation value of one parameter vector, with
// optional sampling metadata. It is never mutated after construction.
type EvaluationResult struct {
	Expectation  float64        `json:"expectation" cbor:"1,keyasint"`
	Counts       map[string]int `json:"counts,omitempty" cbor:"2,keyasint,omitempty"`
	MostProbable string         `json:"most_probable,omitempty" cbor:"3,keyasint,omitempty"`
	Device       int            `json:"device" cbor:"4,keyasint"`
}

func newEvaluationResult(expectation float64, counts map[string]int, device int) EvaluationResult {
	result := EvaluationResult{
		Expectation: expectation,
		Device:      device,
	}

	if len(counts) == 0 {
		return result
	}

	result.Counts = make(map[string]int, len(counts))
	keys := make([]string, 0, len(counts))
	for k, v := range counts {
		result.Counts[k] = v
		keys = append(keys, k)
	}

	// Ties resolve to the lexicographically smallest outcome.
	sort.Strings(keys)
	best := -1
	for _, k := range keys {
		if counts[k] > best {
			best = counts[k]
			result.MostProbable = k
		}
	}

	return result
}
