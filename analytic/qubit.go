package analytic

import (
	"math"
	"math/cmplx"
)

// Qubit is a single unentangled qubit held as two amplitudes.
type Qubit struct {
	alpha complex128 // |0⟩ amplitude
	beta  complex128 // |1⟩ amplitude
}

// NewQubit returns a qubit in |0⟩.
func NewQubit() *Qubit {
	return &Qubit{alpha: 1}
}

func (q *Qubit) apply(m00, m01, m10, m11 complex128) {
	q.alpha, q.beta = m00*q.alpha+m01*q.beta, m10*q.alpha+m11*q.beta
}

func (q *Qubit) ApplyHadamard() {
	// H = 1/√2 * [1  1]
	//           [1 -1]
	s := complex(1/math.Sqrt2, 0)
	q.apply(s, s, s, -s)
}

func (q *Qubit) ApplyX() { q.apply(0, 1, 1, 0) }
func (q *Qubit) ApplyY() { q.apply(0, -1i, 1i, 0) }
func (q *Qubit) ApplyZ() { q.apply(1, 0, 0, -1) }

func (q *Qubit) ApplyRX(theta float64) {
	c, s := complex(math.Cos(theta/2), 0), complex(0, -math.Sin(theta/2))
	q.apply(c, s, s, c)
}

func (q *Qubit) ApplyRY(theta float64) {
	c, s := complex(math.Cos(theta/2), 0), complex(math.Sin(theta/2), 0)
	q.apply(c, -s, s, c)
}

func (q *Qubit) ApplyRZ(theta float64) {
	q.apply(cmplx.Exp(complex(0, -theta/2)), 0, 0, cmplx.Exp(complex(0, theta/2)))
}

// Bloch returns ⟨X⟩, ⟨Y⟩ and ⟨Z⟩ for the qubit.
func (q *Qubit) Bloch() (x, y, z float64) {
	cross := cmplx.Conj(q.alpha) * q.beta
	pa := real(q.alpha * cmplx.Conj(q.alpha))
	pb := real(q.beta * cmplx.Conj(q.beta))
	return 2 * real(cross), 2 * imag(cross), pa - pb
}

// ProbabilityOne returns the probability of measuring |1⟩.
func (q *Qubit) ProbabilityOne() float64 {
	_, _, z := q.Bloch()
	return clamp01((1 - z) / 2)
}

func clamp01(p float64) float64 {
	return math.Min(1, math.Max(0, p))
}
