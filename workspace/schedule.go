package workspace

import (
	"slices"

	"github.com/emirpasic/gods/v2/queues/arrayqueue"
)

// schedule teilt die Operatoren in Ebenen (Kahn). Ein Operator haengt von
// jedem frueheren Operator ab, der eine seiner Eingaben schreibt, eine
// seiner Ausgaben schreibt oder eine seiner Ausgaben liest. Operatoren
// derselben Ebene koennen daher gleichzeitig laufen.
func (n *Net) schedule() [][]int {
	count := len(n.operators)
	succ := make([][]int, count)
	indegree := make([]int, count)

	lastWriter := make(map[*Blob]int)
	readers := make(map[*Blob][]int)

	addEdge := func(from, to int) {
		if from == to {
			return
		}
		for _, s := range succ[from] {
			if s == to {
				return
			}
		}
		succ[from] = append(succ[from], to)
		indegree[to]++
	}

	for i, op := range n.operators {
		for _, b := range op.inputs {
			if w, ok := lastWriter[b]; ok {
				addEdge(w, i)
			}
		}
		for _, b := range op.outputs {
			if w, ok := lastWriter[b]; ok {
				addEdge(w, i)
			}
			for _, r := range readers[b] {
				addEdge(r, i)
			}
		}

		for _, b := range op.inputs {
			readers[b] = append(readers[b], i)
		}
		for _, b := range op.outputs {
			lastWriter[b] = i
			readers[b] = nil
		}
	}

	level := make([]int, count)
	queue := arrayqueue.New[int]()
	for i := range count {
		if indegree[i] == 0 {
			queue.Enqueue(i)
		}
	}

	var levels [][]int
	for !queue.Empty() {
		i, _ := queue.Dequeue()
		for len(levels) <= level[i] {
			levels = append(levels, nil)
		}
		levels[level[i]] = append(levels[level[i]], i)

		for _, s := range succ[i] {
			level[s] = max(level[s], level[i]+1)
			indegree[s]--
			if indegree[s] == 0 {
				queue.Enqueue(s)
			}
		}
	}

	for _, l := range levels {
		slices.Sort(l)
	}
	return levels
}

// Levels gibt die Ebenen der parallelen Ausfuehrung zurueck (nil bei sequentieller)
func (n *Net) Levels() [][]int {
	if n.levels == nil {
		return nil
	}
	out := make([][]int, len(n.levels))
	for i, l := range n.levels {
		out[i] = slices.Clone(l)
	}
	return out
}
