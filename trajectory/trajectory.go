// Package trajectory orders cells along an inferred developmental path. A
// minimum spanning tree is built over cluster centroids in a reduced space;
// each cell is projected onto the nearest tree edge touching its own cluster,
// and its pseudo-time is the tree distance from the root centroid to that
// projection.
package trajectory

import (
	"fmt"
	"math"
	"sort"

	"github.com/carbocation/scrnaseq/cellmeta"
	"github.com/theodesp/unionfind"
	"gonum.org/v1/gonum/mat"
)

type Edge struct {
	From   int // cluster ID
	To     int // cluster ID
	Length float64
}

type Result struct {
	Pseudotime []float64

	// Minimum spanning tree over cluster centroids
	Edges []Edge

	// Index into Edges that each cell was projected onto, or -1
	Branch []int

	// Cell indexes sorted by pseudo-time
	Order []int

	Root int
}

// Infer computes pseudo-time for each row of embedding. labels gives the
// cluster of each row, and root is the cluster where development starts.
func Infer(embedding *mat.Dense, labels []int, root int) (*Result, error) {
	n, d := embedding.Dims()
	if len(labels) != n {
		return nil, fmt.Errorf("Got %d labels for %d cells", len(labels), n)
	}

	ids, centroids := centroidsOf(embedding, labels)
	pos := make(map[int]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	rootPos, ok := pos[root]
	if !ok {
		return nil, fmt.Errorf("Root cluster %d has no cells", root)
	}

	edges := minimumSpanningTree(centroids)
	out := &Result{
		Pseudotime: make([]float64, n),
		Branch:     make([]int, n),
		Root:       root,
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, Edge{From: ids[e.From], To: ids[e.To], Length: e.Length})
	}

	fromRoot := treeDistances(len(ids), edges, rootPos)

	incident := make([][]int, len(ids))
	for ei, e := range edges {
		incident[e.From] = append(incident[e.From], ei)
		incident[e.To] = append(incident[e.To], ei)
	}

	for i := 0; i < n; i++ {
		x := embedding.RawRowView(i)
		c := pos[labels[i]]
		own := centroids[c]

		if len(incident[c]) == 0 {
			out.Pseudotime[i] = math.Sqrt(sqDist(x, own))
			out.Branch[i] = -1
			continue
		}

		bestEdge, bestT, bestD := -1, 0.0, math.Inf(1)
		for _, ei := range incident[c] {
			other := edges[ei].To
			if other == c {
				other = edges[ei].From
			}
			t, dist := project(x, own, centroids[other], d)
			if dist < bestD {
				bestEdge, bestT, bestD = ei, t, dist
			}
		}

		e := edges[bestEdge]
		other := e.To
		if other == c {
			other = e.From
		}

		// Moving toward a centroid that is farther from the root increases
		// pseudo-time.
		if fromRoot[other] > fromRoot[c] {
			out.Pseudotime[i] = fromRoot[c] + bestT*e.Length
		} else {
			out.Pseudotime[i] = fromRoot[c] - bestT*e.Length
		}
		out.Branch[i] = bestEdge
	}

	out.Order = make([]int, n)
	for i := range out.Order {
		out.Order[i] = i
	}
	sort.SliceStable(out.Order, func(a, b int) bool {
		return out.Pseudotime[out.Order[a]] < out.Pseudotime[out.Order[b]]
	})

	return out, nil
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}

	return s
}

// project returns the clamped position t in [0,1] of x along the segment
// a->b, and the distance from x to that point.
func project(x, a, b []float64, d int) (float64, float64) {
	ab := make([]float64, d)
	length2 := 0.0
	dot := 0.0
	for k := 0; k < d; k++ {
		ab[k] = b[k] - a[k]
		length2 += ab[k] * ab[k]
		dot += (x[k] - a[k]) * ab[k]
	}

	t := 0.0
	if length2 > 0 {
		t = math.Max(0, math.Min(1, dot/length2))
	}

	dist := 0.0
	for k := 0; k < d; k++ {
		diff := x[k] - (a[k] + t*ab[k])
		dist += diff * diff
	}

	return t, math.Sqrt(dist)
}

func centroidsOf(x *mat.Dense, labels []int) ([]int, [][]float64) {
	_, d := x.Dims()

	counts := make(map[int]int)
	sums := make(map[int][]float64)
	for i, c := range labels {
		if sums[c] == nil {
			sums[c] = make([]float64, d)
		}
		counts[c]++
		for k, v := range x.RawRowView(i) {
			sums[c][k] += v
		}
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([][]float64, len(ids))
	for i, id := range ids {
		out[i] = sums[id]
		for k := range out[i] {
			out[i][k] /= float64(counts[id])
		}
	}

	return ids, out
}

type indexEdge struct {
	From, To int
	Length   float64
}

// minimumSpanningTree runs Kruskal's algorithm over the complete graph of
// points.
func minimumSpanningTree(points [][]float64) []indexEdge {
	k := len(points)

	candidates := make([]indexEdge, 0, k*(k-1)/2)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			candidates = append(candidates, indexEdge{From: i, To: j, Length: math.Sqrt(sqDist(points[i], points[j]))})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].Length < candidates[b].Length })

	uf := unionfind.NewThreadSafeUnionFind(k)
	out := make([]indexEdge, 0, k-1)
	for _, e := range candidates {
		if uf.Root(e.From) == uf.Root(e.To) {
			continue
		}
		uf.Union(e.From, e.To)
		out = append(out, e)
		if len(out) == k-1 {
			break
		}
	}

	return out
}

// treeDistances returns the path length from root to every node of the tree.
func treeDistances(k int, edges []indexEdge, root int) []float64 {
	adj := make([][]indexEdge, k)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e)
		adj[e.To] = append(adj[e.To], indexEdge{From: e.To, To: e.From, Length: e.Length})
	}

	dist := make([]float64, k)
	seen := make([]bool, k)
	stack := []int{root}
	seen[root] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range adj[cur] {
			if seen[e.To] {
				continue
			}
			seen[e.To] = true
			dist[e.To] = dist[cur] + e.Length
			stack = append(stack, e.To)
		}
	}

	return dist
}

// RootCluster picks the cluster with the greatest share of its cells at the
// earliest stage in order that any cell has. Missing stages never count.
// Ties go to the cluster with more such cells, then the lower cluster ID.
func RootCluster(labels []int, stages []string, order []string) (int, error) {
	if len(labels) != len(stages) {
		return 0, fmt.Errorf("Got %d labels but %d stages", len(labels), len(stages))
	}

	present := make(map[string]struct{})
	for _, s := range stages {
		if s == "" || s == cellmeta.Missing {
			continue
		}
		present[s] = struct{}{}
	}
	earliest := ""
	for _, s := range order {
		if _, ok := present[s]; ok {
			earliest = s
			break
		}
	}
	if earliest == "" {
		return 0, fmt.Errorf("None of the stages %v were observed", order)
	}

	sizes := make(map[int]int)
	early := make(map[int]int)
	for i, c := range labels {
		sizes[c]++
		if stages[i] == earliest {
			early[c]++
		}
	}

	ids := make([]int, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	best := ids[0]
	bestShare := -1.0
	for _, id := range ids {
		share := float64(early[id]) / float64(sizes[id])
		if share > bestShare || (share == bestShare && early[id] > early[best]) {
			best, bestShare = id, share
		}
	}

	return best, nil
}
