package qobserve

import "errors"

// ErrNoAvailableGroups is returned when a balancer was created with no groups.
var ErrNoAvailableGroups = errors.New("no groups available to balance across")

/*
LoadBalancer tracks the accumulated cost assigned to each of a fixed number
of groups and picks the least loaded one for the next piece of work. Ties go
to the group holding fewer items, then to the lowest group index, which keeps
assignments deterministic.

It is not safe for concurrent use; partitioning happens on the caller's
goroutine before anything is submitted.
*/
type LoadBalancer struct {
	loads []float64
	count []int
}

// NewLoadBalancer creates a balancer over n empty groups.
func NewLoadBalancer(n int) *LoadBalancer {
	return &LoadBalancer{
		loads: make([]float64, n),
		count: make([]int, n),
	}
}

// SelectGroup returns the index of the least loaded group.
func (lb *LoadBalancer) SelectGroup() (int, error) {
	if len(lb.loads) == 0 {
		return -1, ErrNoAvailableGroups
	}

	selected := 0
	for i := 1; i < len(lb.loads); i++ {
		switch {
		case lb.loads[i] < lb.loads[selected]:
			selected = i
		case lb.loads[i] == lb.loads[selected] && lb.count[i] < lb.count[selected]:
			selected = i
		}
	}
	return selected, nil
}

// Assign records cost against a group.
func (lb *LoadBalancer) Assign(group int, cost float64) {
	lb.loads[group] += cost
	lb.count[group]++
}

// Load returns the accumulated cost of a group.
func (lb *LoadBalancer) Load(group int) float64 {
	return lb.loads[group]
}
