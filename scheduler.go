package qobserve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/*
Scheduler is the caller-facing evaluation engine. It owns a DevicePool and
turns kernel/observable/parameter requests into device units, then folds the
per-unit contributions back into expectation values.

Kernels, observables and batches handed to the Scheduler are treated as
read-only for the duration of each call.
*/
type Scheduler struct {
	pool   *DevicePool
	config *Config
	logger *zap.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	logger *zap.Logger
}

// WithLogger routes scheduler and pool logs to logger.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		o.logger = logger
	}
}

// NewScheduler creates a scheduler backed by a fresh device pool. The
// configuration is the only way to select devices; there is no global target.
func NewScheduler(ctx context.Context, config *Config, backend Backend, opts ...SchedulerOption) (*Scheduler, error) {
	if backend == nil {
		return nil, errors.New("scheduler requires a backend")
	}
	if config == nil {
		config = NewConfig()
	}

	o := schedulerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := NewDevicePool(ctx, config, backend, o.logger)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		pool:   pool,
		config: config,
		logger: o.logger.Named("scheduler"),
	}, nil
}

// PoolSize returns the number of devices.
func (s *Scheduler) PoolSize() int {
	return s.pool.Size()
}

// Pool exposes the underlying device pool for introspection.
func (s *Scheduler) Pool() *DevicePool {
	return s.pool
}

// Metrics returns a snapshot of the pool's execution metrics.
func (s *Scheduler) Metrics() map[string]any {
	return s.pool.Metrics().ExportMetrics()
}

// Close shuts the device pool down.
func (s *Scheduler) Close() {
	s.pool.Close()
}

/*
EvaluateBatch evaluates the full observable for every row of batch and returns
one result per row, in row order.

Rows are split into contiguous chunks over min(PoolSize, rows) devices. Each
device works through its chunk in order while devices run in parallel. The
call returns only after every device has finished its chunk. The first
failure cancels everything still queued and is returned as an
*EvaluationFailedError; no partial results are returned.
*/
func (s *Scheduler) EvaluateBatch(
	ctx context.Context, kernel *Kernel, obs *Observable, batch *ParameterBatch,
) ([]EvaluationResult, error) {
	if obs.Len() == 0 {
		return nil, &EmptyBatchError{What: "observable"}
	}
	if batch.Len() == 0 {
		return nil, &EmptyBatchError{What: "parameter batch"}
	}
	for i := 0; i < batch.Len(); i++ {
		if err := kernel.checkParameters(i, batch.Row(i)); err != nil {
			return nil, err
		}
	}

	devices := min(s.pool.Size(), batch.Len())
	parts, err := PartitionByParameter(batch, devices)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	results := make([]EvaluationResult, batch.Len())

	g, gctx := errgroup.WithContext(ctx)
	for device, part := range parts {
		g.Go(func() error {
			return s.runChunk(gctx, device, kernel, obs, part, results)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Warn("batch evaluation aborted",
			zap.String("kernel", kernel.Name()),
			zap.Int("rows", batch.Len()),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("batch evaluated",
		zap.String("kernel", kernel.Name()),
		zap.Int("rows", batch.Len()),
		zap.Int("devices", devices),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return results, nil
}

/*
runChunk evaluates one device's chunk and writes its results in place. Under
the queue policy the whole chunk is queued before anything is collected.
Under the reject policy a device holds one unit at a time, so rows run one
after the other.
*/
func (s *Scheduler) runChunk(
	ctx context.Context, device int, kernel *Kernel, obs *Observable, part *ParameterBatch, results []EvaluationResult,
) error {
	unitFor := func(j int) *Unit {
		return NewUnit(kernel, obs.terms, part.Row(j), WithRow(part.Offset()+j), WithUnitShots(part.Shots()))
	}

	if s.config.Admission == AdmitReject {
		for j := 0; j < part.Len(); j++ {
			result, err := s.pool.Submit(ctx, device, unitFor(j))
			if err != nil {
				return s.rowError(ctx, part.Offset()+j, device, err)
			}
			results[part.Offset()+j] = result
		}
		return nil
	}

	futures := make([]*Future, part.Len())
	for j := range futures {
		future, err := s.pool.SubmitAsync(ctx, device, unitFor(j))
		if err != nil {
			return s.rowError(ctx, part.Offset()+j, device, err)
		}
		futures[j] = future
	}

	for j, future := range futures {
		result, err := future.ResolveContext(ctx)
		if err != nil {
			return err
		}
		results[part.Offset()+j] = result
	}
	return nil
}

// rowError wraps an admission error for a row. Evaluation failures already
// carry their row and pass through unchanged.
func (s *Scheduler) rowError(ctx context.Context, row, device int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var failed *EvaluationFailedError
	if errors.As(err, &failed) {
		return err
	}
	return &EvaluationFailedError{Row: row, Device: device, Group: -1, Cause: err}
}

/*
EvaluateAsync submits a single parameter vector to one device and returns its
handle immediately. No partitioning happens here; spreading work over devices
is the caller's job. Validation errors are returned now, evaluation errors
when the handle is resolved.
*/
func (s *Scheduler) EvaluateAsync(
	ctx context.Context, kernel *Kernel, obs *Observable, params []float64, device int, opts ...UnitOption,
) (*Future, error) {
	if _, err := s.pool.device(device); err != nil {
		return nil, err
	}
	if obs.Len() == 0 {
		return nil, &EmptyBatchError{What: "observable"}
	}
	if err := kernel.checkParameters(-1, params); err != nil {
		return nil, err
	}

	unit := NewUnit(kernel, obs.terms, append([]float64(nil), params...), opts...)
	return s.pool.SubmitAsync(ctx, device, unit)
}

/*
EvaluateDistributed splits the observable's terms over the devices, evaluates
every group against the same parameter vector and sums the contributions in
group order. Parallel submits all groups before collecting; Sequential waits
for each group before submitting the next. Both produce the same value.

The aggregated result carries the sampling metadata of group 0 and reports
Device -1.
*/
func (s *Scheduler) EvaluateDistributed(
	ctx context.Context, kernel *Kernel, obs *Observable, params []float64, mode ExecutionMode, opts ...UnitOption,
) (EvaluationResult, error) {
	if obs.Len() == 0 {
		return EvaluationResult{}, &EmptyBatchError{What: "observable"}
	}
	if err := kernel.checkParameters(-1, params); err != nil {
		return EvaluationResult{}, err
	}
	if mode == "" {
		mode = s.config.ExecutionMode
	}
	if mode != Sequential && mode != Parallel {
		return EvaluationResult{}, fmt.Errorf("unknown execution mode %q", mode)
	}

	groups, err := PartitionByTerm(obs, s.pool.Size())
	if err != nil {
		return EvaluationResult{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	owned := append([]float64(nil), params...)
	units := make([]*Unit, len(groups))
	for g, group := range groups {
		unitOpts := append([]UnitOption{WithGroup(g)}, opts...)
		units[g] = NewUnit(kernel, group.Terms, owned, unitOpts...)
	}

	partials := make([]EvaluationResult, len(groups))

	switch mode {
	case Sequential:
		for g, unit := range units {
			result, err := s.pool.Submit(ctx, g, unit)
			if err != nil {
				return EvaluationResult{}, groupError(g, err)
			}
			partials[g] = result
		}
	case Parallel:
		futures := make([]*Future, len(units))
		for g, unit := range units {
			future, err := s.pool.SubmitAsync(ctx, g, unit)
			if err != nil {
				return EvaluationResult{}, groupError(g, err)
			}
			futures[g] = future
		}
		for g, future := range futures {
			result, err := future.ResolveContext(ctx)
			if err != nil {
				return EvaluationResult{}, groupError(g, err)
			}
			partials[g] = result
		}
	}

	var total float64
	for _, partial := range partials {
		total += partial.Expectation
	}

	s.logger.Debug("distributed evaluation",
		zap.String("kernel", kernel.Name()),
		zap.Int("terms", obs.Len()),
		zap.Int("groups", len(groups)),
		zap.String("mode", string(mode)),
		zap.Float64("expectation", total),
	)

	return newEvaluationResult(total, partials[0].Counts, -1), nil
}

func groupError(group int, err error) error {
	var failed *EvaluationFailedError
	if errors.As(err, &failed) {
		return err
	}
	return &EvaluationFailedError{Row: -1, Device: group, Group: group, Cause: err}
}
