package analytic

import (
	"fmt"
	"strconv"
	"strings"
)

// Factor is one non-identity Pauli operator acting on one qubit.
type Factor struct {
	Axis  byte // 'X', 'Y' or 'Z'
	Qubit int
}

/*
ParsePauli parses a Pauli word such as "X0 Z2" or "Y1". A bare "I" or an
empty string is the identity. Identity factors like "I3" are accepted and
dropped. A qubit may appear at most once.
*/
func ParsePauli(word string) ([]Factor, error) {
	fields := strings.Fields(word)
	if len(fields) == 1 && strings.EqualFold(fields[0], "I") {
		return nil, nil
	}

	seen := make(map[int]bool, len(fields))
	factors := make([]Factor, 0, len(fields))

	for _, field := range fields {
		if len(field) < 2 {
			return nil, fmt.Errorf("pauli %q: malformed factor %q", word, field)
		}

		axis := strings.ToUpper(field[:1])[0]
		qubit, err := strconv.Atoi(field[1:])
		if err != nil || qubit < 0 {
			return nil, fmt.Errorf("pauli %q: bad qubit index in %q", word, field)
		}
		if seen[qubit] {
			return nil, fmt.Errorf("pauli %q: qubit %d repeated", word, qubit)
		}
		seen[qubit] = true

		switch axis {
		case 'I':
		case 'X', 'Y', 'Z':
			factors = append(factors, Factor{Axis: axis, Qubit: qubit})
		default:
			return nil, fmt.Errorf("pauli %q: unknown operator %q", word, field[:1])
		}
	}

	return factors, nil
}
