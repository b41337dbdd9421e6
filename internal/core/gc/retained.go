package gc

import "github.com/l1jgo/objcore/internal/core/object"

// RetainedSizes returns, for every object reachable from the roots, how many
// objects (itself included) would become unreachable if it were removed. It
// builds the dominator tree of the live graph with a virtual super-root above
// all roots. Call it between cycles; it reads reference fields without locks.
func (c *Collector) RetainedSizes() map[object.Handle]int {
	c.mu.Lock()
	roots := make([]object.Managed, 0, len(c.roots))
	for h := range c.roots {
		if m, ok := c.objs.get(h); ok && traceable(m.Base()) {
			roots = append(roots, m)
		}
	}
	c.mu.Unlock()

	// Number the reachable graph in DFS reverse postorder; node 0 is the super-root.
	index := map[object.Managed]int{}
	nodes := []object.Managed{nil}
	succ := [][]int{nil}
	var order []int // postorder

	var visit func(m object.Managed) int
	visit = func(m object.Managed) int {
		if i, ok := index[m]; ok {
			return i
		}
		i := len(nodes)
		index[m] = i
		nodes = append(nodes, m)
		succ = append(succ, nil)
		for _, ref := range c.References(m) {
			if !traceable(ref.Base()) {
				continue
			}
			j := visit(ref)
			succ[i] = append(succ[i], j)
		}
		order = append(order, i)
		return i
	}
	for _, r := range roots {
		succ[0] = append(succ[0], visit(r))
	}
	order = append(order, 0)

	n := len(nodes)
	rpo := make([]int, n) // node -> position in reverse postorder
	byRPO := make([]int, n)
	for k, node := range order {
		pos := n - 1 - k
		rpo[node] = pos
		byRPO[pos] = node
	}
	preds := make([][]int, n)
	for i, ss := range succ {
		for _, j := range ss {
			preds[j] = append(preds[j], i)
		}
	}

	// Cooper, Harvey and Kennedy's iterative dominator algorithm.
	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[0] = 0
	intersect := func(a, b int) int {
		for a != b {
			for rpo[a] > rpo[b] {
				a = idom[a]
			}
			for rpo[b] > rpo[a] {
				b = idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, b := range byRPO[1:] {
			newIdom := -1
			for _, p := range preds[b] {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	// Accumulate subtree sizes bottom-up (postorder visits children first).
	size := make([]int, n)
	for i := 1; i < n; i++ {
		size[i] = 1
	}
	for _, node := range order {
		if node != 0 {
			size[idom[node]] += size[node]
		}
	}

	out := make(map[object.Handle]int, n-1)
	for i := 1; i < n; i++ {
		out[nodes[i].Base().Handle()] = size[i]
	}
	return out
}
