package core

// toposort orders the nodes reachable from outs so that every node follows
// its parents. It counts references from the output frontier, peels nodes
// whose children have all been emitted, and reverses the emission order.
func toposort[N comparable](outs []N, parents func(N) []N) ([]N, error) {
	if len(outs) == 0 {
		return nil, nil
	}
	seen := make(map[N]bool, len(outs))
	frontier := make([]N, 0, len(outs))
	for _, n := range outs {
		if !seen[n] {
			seen[n] = true
			frontier = append(frontier, n)
		}
	}

	childCounts := make(map[N]int)
	stack := append([]N(nil), frontier...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := childCounts[n]; ok {
			childCounts[n]++
			continue
		}
		childCounts[n] = 1
		stack = append(stack, parents(n)...)
	}
	for _, n := range frontier {
		childCounts[n]--
	}

	var sorted []N
	var childless []N
	for _, n := range frontier {
		if childCounts[n] == 0 {
			childless = append(childless, n)
		}
	}
	for len(childless) > 0 {
		n := childless[len(childless)-1]
		childless = childless[:len(childless)-1]
		sorted = append(sorted, n)
		for _, p := range parents(n) {
			if childCounts[p] == 1 {
				childless = append(childless, p)
			} else {
				childCounts[p]--
			}
		}
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	if err := checkToposort(sorted, parents); err != nil {
		return nil, err
	}
	return sorted, nil
}

func checkToposort[N comparable](nodes []N, parents func(N) []N) error {
	emitted := make(map[N]bool, len(nodes))
	for i, n := range nodes {
		for _, p := range parents(n) {
			if !emitted[p] {
				return typeErrorf("toposort", "node %d emitted before one of its parents", i)
			}
		}
		emitted[n] = true
	}
	return nil
}
