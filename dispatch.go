package qobserve

import "context"

/*
RoundRobin spreads a batch over every device using EvaluateAsync: the rows are
cut into PoolSize contiguous chunks and chunk i goes to device i. The returned
handles are in row order. Nothing is resolved here.

Under the reject policy a device takes a new row only once its previous row
has finished, so submission walks the chunks in rounds and waits on each
device's last handle. The handles are left unconsumed.

If a submission fails, the handles already issued are returned alongside the
error so the caller can still drain them.
*/
func RoundRobin(
	ctx context.Context, s *Scheduler, kernel *Kernel, obs *Observable, batch *ParameterBatch,
) ([]*Future, error) {
	devices := min(s.PoolSize(), batch.Len())
	parts, err := PartitionByParameter(batch, devices)
	if err != nil {
		return nil, err
	}

	submit := func(device int, part *ParameterBatch, j int) (*Future, error) {
		return s.EvaluateAsync(
			ctx, kernel, obs, part.Row(j), device,
			WithRow(part.Offset()+j), WithUnitShots(part.Shots()),
		)
	}

	if s.config.Admission != AdmitReject {
		futures := make([]*Future, 0, batch.Len())
		for device, part := range parts {
			for j := 0; j < part.Len(); j++ {
				future, err := submit(device, part, j)
				if err != nil {
					return futures, err
				}
				futures = append(futures, future)
			}
		}
		return futures, nil
	}

	byRow := make([]*Future, batch.Len())
	issued := func() []*Future {
		out := make([]*Future, 0, len(byRow))
		for _, f := range byRow {
			if f != nil {
				out = append(out, f)
			}
		}
		return out
	}

	last := make([]*Future, len(parts))
	for j := 0; j < parts[0].Len(); j++ {
		for device, part := range parts {
			if j >= part.Len() {
				continue
			}
			if prev := last[device]; prev != nil {
				select {
				case <-prev.Done():
				case <-ctx.Done():
					return issued(), ctx.Err()
				}
			}

			future, err := submit(device, part, j)
			if err != nil {
				return issued(), err
			}
			byRow[part.Offset()-batch.Offset()+j] = future
			last[device] = future
		}
	}
	return issued(), nil
}

// ResolveAll resolves handles in order and stops at the first error.
func ResolveAll(ctx context.Context, futures []*Future) ([]EvaluationResult, error) {
	results := make([]EvaluationResult, len(futures))
	for i, future := range futures {
		result, err := future.ResolveContext(ctx)
		if err != nil {
			return nil, err
		}
		results[i] = result
	}
	return results, nil
}
