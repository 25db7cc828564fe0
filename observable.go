package qobserve

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

// Term is one elementary measurable quantity of an Observable.
type Term struct {
	// Name identifies the quantity, e.g. the Pauli word "X0 X1". The core
	// never interprets it; backends do.
	Name        string
	Coefficient float64
	// Cost is an optional load estimate used when balancing term groups.
	// Zero counts as 1.
	Cost float64
}

func (t Term) cost() float64 {
	if t.Cost <= 0 {
		return 1
	}
	return t.Cost
}

// Observable is an ordered, immutable weighted sum of terms.
type Observable struct {
	terms []Term
}

// NewObservable validates and copies the given terms.
func NewObservable(terms ...Term) (*Observable, error) {
	if len(terms) == 0 {
		return nil, &EmptyBatchError{What: "observable"}
	}

	owned := make([]Term, len(terms))
	for i, term := range terms {
		if math.IsNaN(term.Coefficient) || math.IsInf(term.Coefficient, 0) {
			return nil, fmt.Errorf("term %d (%s): %w", i, term.Name, ErrNonFiniteCoefficient)
		}
		owned[i] = term
	}

	return &Observable{terms: owned}, nil
}

// Len returns the number of terms.
func (o *Observable) Len() int {
	if o == nil {
		return 0
	}
	return len(o.terms)
}

// Term returns the i-th term.
func (o *Observable) Term(i int) Term {
	return o.terms[i]
}

// Terms returns a copy of the term list.
func (o *Observable) Terms() []Term {
	out := make([]Term, len(o.terms))
	copy(out, o.terms)
	return out
}

func (o *Observable) String() string {
	parts := make([]string, len(o.terms))
	for i, t := range o.terms {
		parts[i] = fmt.Sprintf("%g*%s", t.Coefficient, t.Name)
	}
	return strings.Join(parts, " + ")
}

/*
RandomObservable generates an observable of nTerms distinct Pauli words over
nQubits qubits, with coefficients drawn uniformly from [-1, 1). The same seed
always produces the same observable. Words never repeat, so nTerms is capped
at 4^nQubits - 1 (the identity word is excluded).
*/
func RandomObservable(nQubits, nTerms int, seed uint64) (*Observable, error) {
	if nQubits < 1 || nTerms < 1 {
		return nil, &EmptyBatchError{What: "observable"}
	}

	if limit := math.Pow(4, float64(nQubits)) - 1; float64(nTerms) > limit {
		nTerms = int(limit)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	paulis := [...]byte{'I', 'X', 'Y', 'Z'}
	seen := make(map[string]bool, nTerms)
	terms := make([]Term, 0, nTerms)

	for len(terms) < nTerms {
		var sb strings.Builder
		identity := true
		for q := 0; q < nQubits; q++ {
			p := paulis[rng.IntN(4)]
			if p == 'I' {
				continue
			}
			identity = false
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%c%d", p, q)
		}

		word := sb.String()
		if identity || seen[word] {
			continue
		}
		seen[word] = true

		terms = append(terms, Term{
			Name:        word,
			Coefficient: rng.Float64()*2 - 1,
		})
	}

	return NewObservable(terms...)
}
