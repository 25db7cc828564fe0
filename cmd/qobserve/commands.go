package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/theapemachine/qobserve"
	"github.com/theapemachine/qobserve/analytic"
	"go.uber.org/zap"
)

type environment struct {
	config *qobserve.Config
	opts   *options
	logger *zap.Logger
	codec  qobserve.Codec
	stdout io.Writer
	stderr io.Writer
}

type command func(ctx context.Context, env *environment) error

var commands = map[string]command{
	"observe-n":  observeN,
	"async":      async,
	"distribute": distribute,
	"sample":     sample,
}

func (env *environment) scheduler(ctx context.Context) (*qobserve.Scheduler, error) {
	backend := analytic.New(analytic.WithSeed(env.opts.seed))
	return qobserve.NewScheduler(ctx, env.config, backend, qobserve.WithLogger(env.logger))
}

// rxKernel rotates every qubit about X by its own parameter.
func rxKernel(qubits int) (*qobserve.Kernel, error) {
	b := qobserve.NewKernelBuilder("rx_layer").Parameters(qubits)
	for i, q := range b.Qalloc(qubits) {
		b.Apply("rx", qobserve.Param(i), q)
	}
	return b.Build()
}

// uniformRows draws n rows of width values in [0, 1).
func uniformRows(n, width int, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, width)
		for j := range rows[i] {
			rows[i][j] = rng.Float64()
		}
	}
	return rows
}

func observeN(ctx context.Context, env *environment) error {
	s, err := env.scheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	kernel, err := rxKernel(env.opts.qubits)
	if err != nil {
		return err
	}
	obs, err := qobserve.NewObservable(qobserve.Term{Name: "Z0", Coefficient: 1})
	if err != nil {
		return err
	}
	batch, err := qobserve.NewParameterBatch(
		uniformRows(env.opts.rows, env.opts.qubits, env.opts.seed),
		qobserve.WithShots(env.opts.shots),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := s.EvaluateBatch(ctx, kernel, obs, batch)
	if err != nil {
		return err
	}
	env.summary("observe-n", len(results), s.PoolSize(), start)

	return env.emit(qobserve.Report{
		Kernel:     kernel.Name(),
		Observable: obs.String(),
		Mode:       "batch",
		Devices:    s.PoolSize(),
		Shots:      batch.Shots(),
		Results:    results,
	})
}

func async(ctx context.Context, env *environment) error {
	s, err := env.scheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	kernel, err := rxKernel(env.opts.qubits)
	if err != nil {
		return err
	}
	obs, err := qobserve.NewObservable(qobserve.Term{Name: "Z0", Coefficient: 1})
	if err != nil {
		return err
	}
	batch, err := qobserve.NewParameterBatch(
		uniformRows(env.opts.rows, env.opts.qubits, env.opts.seed),
		qobserve.WithShots(env.opts.shots),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	futures, err := qobserve.RoundRobin(ctx, s, kernel, obs, batch)
	if err != nil {
		return err
	}
	results, err := qobserve.ResolveAll(ctx, futures)
	if err != nil {
		return err
	}
	env.summary("async", len(results), s.PoolSize(), start)

	return env.emit(qobserve.Report{
		Kernel:     kernel.Name(),
		Observable: obs.String(),
		Mode:       "async",
		Devices:    s.PoolSize(),
		Shots:      batch.Shots(),
		Results:    results,
	})
}

func distribute(ctx context.Context, env *environment) error {
	s, err := env.scheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	// A fixed-angle layer stands in for the entangled GHZ preparation,
	// which a product-state backend cannot run.
	b := qobserve.NewKernelBuilder("ry_layer")
	for i, q := range b.Qalloc(env.opts.qubits) {
		b.Apply("ry", qobserve.Angle(0.1*float64(i+1)), q)
	}
	kernel, err := b.Build()
	if err != nil {
		return err
	}

	obs, err := qobserve.RandomObservable(env.opts.qubits, env.opts.terms, env.opts.seed)
	if err != nil {
		return err
	}

	mode := env.config.ExecutionMode
	start := time.Now()
	result, err := s.EvaluateDistributed(
		ctx, kernel, obs, nil, mode,
		qobserve.WithUnitShots(env.opts.shots),
	)
	if err != nil {
		return err
	}
	env.summary("distribute", obs.Len(), s.PoolSize(), start)

	return env.emit(qobserve.Report{
		Kernel:     kernel.Name(),
		Observable: obs.String(),
		Mode:       "distributed/" + string(mode),
		Devices:    s.PoolSize(),
		Shots:      env.opts.shots,
		Results:    []qobserve.EvaluationResult{result},
	})
}

func sample(ctx context.Context, env *environment) error {
	s, err := env.scheduler(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	shots := env.opts.shots
	if shots < 1 {
		return &ExitError{Code: 2, Message: "sample needs a positive --shots"}
	}

	b := qobserve.NewKernelBuilder("flip")
	q := b.Qalloc(max(env.opts.qubits, 2))
	b.Apply("x", qobserve.NoParam, q[1:]...)
	b.Apply("h", qobserve.NoParam, q[0])
	kernel, err := b.Build()
	if err != nil {
		return err
	}
	obs, err := qobserve.NewObservable(qobserve.Term{Name: "Z0", Coefficient: 1})
	if err != nil {
		return err
	}

	start := time.Now()
	future, err := s.EvaluateAsync(ctx, kernel, obs, nil, 0, qobserve.WithUnitShots(shots))
	if err != nil {
		return err
	}
	result, err := future.ResolveContext(ctx)
	if err != nil {
		return err
	}
	env.summary("sample", 1, s.PoolSize(), start)
	fmt.Fprintf(env.stderr, "measured state = %s\n", result.MostProbable)

	return env.emit(qobserve.Report{
		Kernel:     kernel.Name(),
		Observable: obs.String(),
		Mode:       "sample",
		Devices:    s.PoolSize(),
		Shots:      shots,
		Results:    []qobserve.EvaluationResult{result},
	})
}

func (env *environment) summary(name string, n, devices int, start time.Time) {
	fmt.Fprintf(env.stderr, "%s: %s evaluations on %d devices in %s\n",
		name, humanize.Comma(int64(n)), devices, time.Since(start).Round(time.Microsecond))
}

func (env *environment) emit(report qobserve.Report) error {
	data, err := env.codec.Marshal(report)
	if err != nil {
		return errors.Wrapf(err, "encoding %s report", env.codec.Name())
	}

	if env.opts.out == "" {
		_, err = env.stdout.Write(data)
		return err
	}

	if err := os.WriteFile(env.opts.out, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing report to %s", env.opts.out)
	}
	fmt.Fprintf(env.stderr, "wrote %s (%s)\n", env.opts.out, humanize.Bytes(uint64(len(data))))
	return nil
}
