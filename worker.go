package qobserve

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Worker drains one device's queue, one unit at a time, in admission order.
type Worker struct {
	pool   *DevicePool
	device *Device
}

type outcome struct {
	measurement Measurement
	err         error
}

func (w *Worker) run() {
	for {
		select {
		case <-w.pool.ctx.Done():
			return
		case unit, ok := <-w.device.units:
			if !ok {
				return
			}
			w.process(unit)
		}
	}
}

func (w *Worker) process(unit *Unit) {
	d := w.device

	d.mu.Lock()
	d.pending--
	d.busy = true
	d.mu.Unlock()

	result, err := w.processUnit(unit)
	w.pool.metrics.recordUnitExecution(d.index, unit.StartTime, err == nil)

	// The device is free again before anyone can observe the result.
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()

	if err != nil {
		w.pool.logger.Debug("unit failed",
			zap.String("unit", unit.ID),
			zap.Int("device", d.index),
			zap.Error(err),
		)
	}

	if !unit.future.store(result, err) {
		w.pool.logger.Error("result slot already filled", zap.String("unit", unit.ID))
	}
}

func (w *Worker) processUnit(unit *Unit) (EvaluationResult, error) {
	// Units whose caller has already given up never reach the backend.
	if err := unit.ctx.Err(); err != nil {
		return EvaluationResult{}, unit.fail(err)
	}
	if w.pool.ctx.Err() != nil {
		return EvaluationResult{}, unit.fail(ErrPoolClosed)
	}

	ctx, cancel := w.evaluationContext(unit.ctx)
	defer cancel()
	stop := context.AfterFunc(w.pool.ctx, cancel)
	defer stop()

	done := make(chan outcome, 1)
	go func() {
		m, err := w.pool.backend.Evaluate(ctx, unit.request())
		done <- outcome{measurement: m, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	if out.err != nil && w.pool.ctx.Err() != nil {
		return EvaluationResult{}, unit.fail(ErrPoolClosed)
	}
	if out.err != nil {
		// Only the watchdog's own deadline counts against the device.
		if ctx.Err() == context.DeadlineExceeded && unit.ctx.Err() == nil {
			w.pool.logger.Warn("unit timed out",
				zap.String("unit", unit.ID),
				zap.Int("device", w.device.index),
				zap.Duration("timeout", w.pool.config.EvaluationTimeout),
			)
			w.recordFailure()
			return EvaluationResult{}, unit.fail(context.DeadlineExceeded)
		}
		return EvaluationResult{}, unit.fail(out.err)
	}

	w.recordSuccess()

	value, err := foldTerms(unit.Terms, out.measurement.Expectations)
	if err != nil {
		return EvaluationResult{}, unit.fail(err)
	}
	return newEvaluationResult(value, out.measurement.Counts, w.device.index), nil
}

func (w *Worker) evaluationContext(parent context.Context) (context.Context, context.CancelFunc) {
	if timeout := w.pool.config.EvaluationTimeout; timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

func (w *Worker) recordSuccess() {
	if w.device.breaker != nil {
		w.device.breaker.RecordSuccess()
	}
}

func (w *Worker) recordFailure() {
	if w.device.breaker != nil {
		w.device.breaker.RecordFailure()
	}
}

/*
foldTerms weights raw per-term expectations with their coefficients and sums
them in term order. This is the only place coefficients are applied, so the
summation order is the same no matter how terms were grouped.
*/
func foldTerms(terms []Term, expectations []float64) (float64, error) {
	if len(expectations) != len(terms) {
		return 0, fmt.Errorf("backend returned %d expectations for %d terms", len(expectations), len(terms))
	}

	var sum float64
	for j, term := range terms {
		e := expectations[j]
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return 0, fmt.Errorf("backend returned non-finite expectation %v for term %s", e, term.Name)
		}
		sum += term.Coefficient * e
	}
	return sum, nil
}
