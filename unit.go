package qobserve

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Unit is one piece of device work: a kernel, a term group and a single
// parameter vector.
type Unit struct {
	ID         string
	Kernel     *Kernel
	Terms      []Term
	Parameters []float64
	Shots      int
	Row        int
	Group      int
	StartTime  time.Time

	ctx    context.Context
	device int
	future *Future
}

// UnitOption is a function type for configuring units
type UnitOption func(*Unit)

// WithRow records which batch row the unit evaluates, for error reporting.
func WithRow(row int) UnitOption {
	return func(u *Unit) {
		u.Row = row
	}
}

// WithGroup records which term group the unit evaluates.
func WithGroup(group int) UnitOption {
	return func(u *Unit) {
		u.Group = group
	}
}

// WithUnitShots overrides the shot count for this unit.
func WithUnitShots(shots int) UnitOption {
	return func(u *Unit) {
		u.Shots = normalizeShots(shots)
	}
}

func NewUnit(kernel *Kernel, terms []Term, params []float64, opts ...UnitOption) *Unit {
	u := &Unit{
		ID:         uuid.NewString(),
		Kernel:     kernel,
		Terms:      terms,
		Parameters: params,
		Shots:      DefaultShots,
		Row:        -1,
		Group:      -1,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

func (u *Unit) request() Request {
	return Request{
		Kernel:     u.Kernel,
		Terms:      u.Terms,
		Parameters: u.Parameters,
		Shots:      u.Shots,
		Device:     u.device,
	}
}

func (u *Unit) fail(err error) *EvaluationFailedError {
	return &EvaluationFailedError{
		Row:    u.Row,
		Device: u.device,
		Group:  u.Group,
		Cause:  err,
	}
}
