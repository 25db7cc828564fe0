package qobserve

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/theapemachine/errnie"
)

/*
ParamRef points an instruction at either a runtime parameter (by index into the
parameter vector) or a fixed angle. Index < 0 means the fixed Value is used.
*/
type ParamRef struct {
	Index int
	Value float64
}

// NoParam is used for instructions that take no angle.
var NoParam = ParamRef{Index: -1}

// Param references the i-th entry of the parameter vector.
func Param(i int) ParamRef {
	return ParamRef{Index: i}
}

// Angle is a fixed, compile-time angle.
func Angle(v float64) ParamRef {
	return ParamRef{Index: -1, Value: v}
}

// Resolve returns the concrete angle for the given parameter vector.
func (p ParamRef) Resolve(params []float64) float64 {
	if p.Index < 0 {
		return p.Value
	}
	return params[p.Index]
}

// Instruction is one opaque step of a kernel. The scheduler never interprets
// Op; only the backend does.
type Instruction struct {
	Op      string
	Targets []int
	Param   ParamRef
}

/*
Kernel is an immutable, parameterized computation description. It is built
once through a KernelBuilder and then shared read-only by every evaluation.
*/
type Kernel struct {
	name           string
	parameterCount int
	qubits         int
	instructions   []Instruction
}

func (k *Kernel) Name() string        { return k.name }
func (k *Kernel) ParameterCount() int { return k.parameterCount }
func (k *Kernel) Qubits() int         { return k.qubits }

// Instructions returns a copy of the instruction list.
func (k *Kernel) Instructions() []Instruction {
	out := make([]Instruction, len(k.instructions))
	for i, ins := range k.instructions {
		out[i] = Instruction{
			Op:      ins.Op,
			Targets: append([]int(nil), ins.Targets...),
			Param:   ins.Param,
		}
	}
	return out
}

// checkParameters validates a single parameter vector against the kernel.
func (k *Kernel) checkParameters(row int, params []float64) error {
	if len(params) != k.parameterCount {
		return &ParameterLengthMismatchError{Row: row, Got: len(params), Want: k.parameterCount}
	}
	return nil
}

// KernelBuilder accumulates instructions until Build is called.
type KernelBuilder struct {
	name           string
	parameterCount int
	qubits         int
	instructions   []Instruction
	err            error
}

func NewKernelBuilder(name string) *KernelBuilder {
	return &KernelBuilder{name: name}
}

// Parameters declares the length of every parameter vector the kernel accepts.
func (b *KernelBuilder) Parameters(n int) *KernelBuilder {
	if n < 0 && b.err == nil {
		b.err = fmt.Errorf("negative parameter count %d", n)
	}
	b.parameterCount = n
	return b
}

// Qalloc allocates n additional qubits and returns their indices.
func (b *KernelBuilder) Qalloc(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = b.qubits + i
	}
	b.qubits += n
	return out
}

// Apply appends an instruction acting on the given target qubits.
func (b *KernelBuilder) Apply(op string, param ParamRef, targets ...int) *KernelBuilder {
	if b.err != nil {
		return b
	}

	for _, t := range targets {
		if t < 0 || t >= b.qubits {
			b.err = fmt.Errorf("%s: target qubit %d not allocated (have %d)", op, t, b.qubits)
			return b
		}
	}

	b.instructions = append(b.instructions, Instruction{
		Op:      op,
		Targets: append([]int(nil), targets...),
		Param:   param,
	})
	return b
}

// Build freezes the kernel. Every parameter reference must fall inside the
// declared parameter count.
func (b *KernelBuilder) Build() (*Kernel, error) {
	if b.err != nil {
		return nil, errors.Wrapf(b.err, "building kernel %q", b.name)
	}

	for i, ins := range b.instructions {
		if ins.Param.Index >= b.parameterCount {
			return nil, errors.Errorf(
				"building kernel %q: instruction %d (%s) references parameter %d of %d",
				b.name, i, ins.Op, ins.Param.Index, b.parameterCount,
			)
		}
	}

	k := &Kernel{
		name:           b.name,
		parameterCount: b.parameterCount,
		qubits:         b.qubits,
		instructions:   make([]Instruction, len(b.instructions)),
	}
	copy(k.instructions, b.instructions)

	errnie.Info(
		"Kernel %s - qubits %d, parameters %d, instructions %d",
		k.name, k.qubits, k.parameterCount, len(k.instructions),
	)

	return k, nil
}
