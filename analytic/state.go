package analytic

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/theapemachine/qobserve"
)

/*
ProductState is a register of independent qubits. Only single-qubit gates
keep it a product state, so entangling operations are refused rather than
approximated.
*/
type ProductState struct {
	qubits []*Qubit
}

// NewProductState returns n qubits, all in |0⟩.
func NewProductState(n int) *ProductState {
	ps := &ProductState{qubits: make([]*Qubit, n)}
	for i := range ps.qubits {
		ps.qubits[i] = NewQubit()
	}
	return ps
}

// Prepare runs the kernel's instructions against a fresh register.
func Prepare(kernel *qobserve.Kernel, params []float64) (*ProductState, error) {
	ps := NewProductState(kernel.Qubits())

	for i, ins := range kernel.Instructions() {
		angle := ins.Param.Resolve(params)
		for _, t := range ins.Targets {
			if err := ps.apply(ins.Op, t, angle); err != nil {
				return nil, fmt.Errorf("kernel %q instruction %d: %w", kernel.Name(), i, err)
			}
		}
	}

	return ps, nil
}

func (ps *ProductState) apply(op string, target int, angle float64) error {
	q := ps.qubits[target]

	switch strings.ToLower(op) {
	case "x":
		q.ApplyX()
	case "y":
		q.ApplyY()
	case "z":
		q.ApplyZ()
	case "h":
		q.ApplyHadamard()
	case "rx":
		q.ApplyRX(angle)
	case "ry":
		q.ApplyRY(angle)
	case "rz":
		q.ApplyRZ(angle)
	case "mz":
		// Measurement is implicit: every evaluation samples in the Z basis.
	default:
		return fmt.Errorf("unsupported operation %q", op)
	}
	return nil
}

// Expectation returns the exact expectation of a Pauli product.
func (ps *ProductState) Expectation(factors []Factor) (float64, error) {
	value := 1.0
	for _, f := range factors {
		if f.Qubit >= len(ps.qubits) {
			return 0, fmt.Errorf("qubit %d out of range (have %d)", f.Qubit, len(ps.qubits))
		}

		x, y, z := ps.qubits[f.Qubit].Bloch()
		switch f.Axis {
		case 'X':
			value *= x
		case 'Y':
			value *= y
		case 'Z':
			value *= z
		}
	}
	return value, nil
}

// Measure collapses a copy of the register in the Z basis and returns the
// bitstring, qubit 0 first. The state itself is left untouched.
func (ps *ProductState) Measure(rng *rand.Rand) string {
	var sb strings.Builder
	sb.Grow(len(ps.qubits))

	for _, q := range ps.qubits {
		if rng.Float64() < q.ProbabilityOne() {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// Sample measures the register shots times and tallies the outcomes.
func (ps *ProductState) Sample(rng *rand.Rand, shots int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i < shots; i++ {
		counts[ps.Measure(rng)]++
	}
	return counts
}
