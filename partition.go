package qobserve

import "sort"

// TermGroup is a subset of an Observable's terms assigned to one device.
// Terms are kept in original term order.
type TermGroup struct {
	Index       int
	Terms       []Term
	TermIndices []int
	Load        float64
}

/*
PartitionByParameter splits batch into n contiguous chunks whose sizes differ
by at most one, larger chunks first. Concatenating the chunks in order gives
back the original rows; each chunk's Offset is its first row's index in batch.
*/
func PartitionByParameter(batch *ParameterBatch, n int) ([]*ParameterBatch, error) {
	if batch.Len() == 0 {
		return nil, &EmptyBatchError{What: "parameter batch"}
	}
	if n < 1 {
		return nil, &InvalidDeviceError{Index: n, PoolSize: n}
	}

	rows := batch.Len()
	size, extra := rows/n, rows%n
	parts := make([]*ParameterBatch, n)

	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		parts[i] = &ParameterBatch{
			rows:   batch.rows[start:end:end],
			shots:  batch.shots,
			offset: batch.offset + start,
		}
		start = end
	}

	return parts, nil
}

/*
PartitionByTerm splits the observable's terms into at most n groups using
greedy longest-processing-time balancing on Term.Cost: terms are taken in
descending cost order (ties by term index) and each goes to the currently
least loaded group. With the default cost of 1 this balances term counts.

No group is ever empty, so fewer than n groups come back when the observable
has fewer than n terms. Inside a group terms keep their original order, which
together with group order defines the canonical summation order.
*/
func PartitionByTerm(obs *Observable, n int) ([]TermGroup, error) {
	if obs.Len() == 0 {
		return nil, &EmptyBatchError{What: "observable"}
	}
	if n < 1 {
		return nil, &InvalidDeviceError{Index: n, PoolSize: n}
	}

	groups := min(n, obs.Len())

	order := make([]int, obs.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return obs.terms[order[a]].cost() > obs.terms[order[b]].cost()
	})

	balancer := NewLoadBalancer(groups)
	members := make([][]int, groups)
	for _, idx := range order {
		g, err := balancer.SelectGroup()
		if err != nil {
			return nil, err
		}
		balancer.Assign(g, obs.terms[idx].cost())
		members[g] = append(members[g], idx)
	}

	out := make([]TermGroup, groups)
	for g, idxs := range members {
		sort.Ints(idxs)
		terms := make([]Term, len(idxs))
		for j, idx := range idxs {
			terms[j] = obs.terms[idx]
		}
		out[g] = TermGroup{
			Index:       g,
			Terms:       terms,
			TermIndices: idxs,
			Load:        balancer.Load(g),
		}
	}

	return out, nil
}
