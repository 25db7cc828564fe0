package qobserve

// DefaultShots is the sampling count used when a batch does not set one.
const DefaultShots = 1000

// Analytic requests exact expectation values instead of sampled estimates.
const Analytic = -1

// ParameterBatch is an ordered, read-only set of parameter rows plus the shot
// count every row is evaluated with.
type ParameterBatch struct {
	rows   [][]float64
	shots  int
	offset int
}

// BatchOption configures a ParameterBatch.
type BatchOption func(*ParameterBatch)

// WithShots sets the number of sampling repetitions. Use Analytic for exact values.
func WithShots(shots int) BatchOption {
	return func(b *ParameterBatch) {
		b.shots = shots
	}
}

// NewParameterBatch deep-copies rows. All rows must share the same length.
func NewParameterBatch(rows [][]float64, opts ...BatchOption) (*ParameterBatch, error) {
	if len(rows) == 0 {
		return nil, &EmptyBatchError{What: "parameter batch"}
	}

	b := &ParameterBatch{rows: make([][]float64, len(rows))}
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			return nil, &ParameterLengthMismatchError{Row: i, Got: len(row), Want: len(rows[0])}
		}
		b.rows[i] = append([]float64(nil), row...)
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Len returns the number of rows.
func (b *ParameterBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.rows)
}

// Row returns the i-th parameter vector. Callers must not modify it.
func (b *ParameterBatch) Row(i int) []float64 {
	return b.rows[i]
}

// Offset is the index of this batch's first row in the batch it was
// partitioned from. It is zero for caller-constructed batches.
func (b *ParameterBatch) Offset() int {
	return b.offset
}

// Shots returns the effective shot count.
func (b *ParameterBatch) Shots() int {
	return normalizeShots(b.shots)
}

func normalizeShots(shots int) int {
	switch {
	case shots == 0:
		return DefaultShots
	case shots < 0:
		return Analytic
	default:
		return shots
	}
}
