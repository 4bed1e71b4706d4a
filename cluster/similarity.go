package cluster

import (
	"math"
	"sort"

	"github.com/carbocation/scrnaseq/reduce"
	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/mat"
)

type kernelSpec struct {
	Scale float64
	Mu    []float64 // per-cell mean distance to its nearest neighbors
}

func (k kernelSpec) At(i, j int, d2 float64) float64 {
	sigma := k.Scale * (k.Mu[i] + k.Mu[j]) / 2
	if sigma <= 0 {
		if d2 == 0 {
			return 1
		}
		return 0
	}

	return math.Exp(-d2 / (2 * sigma * sigma))
}

// Similarity learns a symmetric cell x cell similarity from the rows of x. It
// returns the similarity (sparsified to a k-nearest-neighbor graph with the
// largest configured neighborhood) and the learned weight of each kernel, in
// Neighbors-major, Scales-minor order.
func Similarity(x *mat.Dense, cfg Config) (*mat.SymDense, []float64, error) {
	n, _ := x.Dims()
	if err := cfg.validate(n); err != nil {
		return nil, nil, err
	}

	D2 := reduce.PairwiseSquaredDistances(x)
	sorted := sortedNeighbors(D2)

	kernels := make([]kernelSpec, 0, len(cfg.Neighbors)*len(cfg.Scales))
	maxNeighbors := 0
	for _, k := range cfg.Neighbors {
		if k > n-1 {
			k = n - 1
		}
		if k > maxNeighbors {
			maxNeighbors = k
		}

		mu := make([]float64, n)
		for i := 0; i < n; i++ {
			for _, j := range sorted[i][:k] {
				mu[i] += math.Sqrt(D2.At(i, j))
			}
			mu[i] /= float64(k)
		}

		for _, s := range cfg.Scales {
			kernels = append(kernels, kernelSpec{Scale: s, Mu: mu})
		}
	}

	weights := make([]float64, len(kernels))
	for l := range weights {
		weights[l] = 1 / float64(len(weights))
	}

	S := combine(D2, kernels, weights, sorted, maxNeighbors)
	for iter := 0; iter < cfg.Iterations; iter++ {
		weights = updateWeights(D2, kernels, S, cfg.Rho)
		S = combine(D2, kernels, weights, sorted, maxNeighbors)
	}

	return S, weights, nil
}

// sortedNeighbors returns, for each row, the other rows ordered by increasing
// distance.
func sortedNeighbors(D2 *mat.SymDense) [][]int {
	n, _ := D2.Dims()
	out := make([][]int, n)

	parallel.Range(0, n, 0, func(low, high int) {
		for i := low; i < high; i++ {
			idx := make([]int, 0, n-1)
			for j := 0; j < n; j++ {
				if j != i {
					idx = append(idx, j)
				}
			}
			sort.SliceStable(idx, func(a, b int) bool { return D2.At(i, idx[a]) < D2.At(i, idx[b]) })
			out[i] = idx
		}
	})

	return out
}

// combine builds the weighted kernel sum restricted to a symmetric kNN graph.
func combine(D2 *mat.SymDense, kernels []kernelSpec, weights []float64, sorted [][]int, k int) *mat.SymDense {
	n, _ := D2.Dims()

	keep := make([]map[int]struct{}, n)
	for i := 0; i < n; i++ {
		keep[i] = make(map[int]struct{}, k)
		for _, j := range sorted[i][:k] {
			keep[i][j] = struct{}{}
		}
	}

	S := mat.NewSymDense(n, nil)
	raw := S.RawSymmetric()
	parallel.Range(0, n, 0, func(low, high int) {
		for i := low; i < high; i++ {
			for j := i + 1; j < n; j++ {
				_, ij := keep[i][j]
				_, ji := keep[j][i]
				if !ij && !ji {
					continue
				}

				d2 := D2.At(i, j)
				v := 0.0
				for l, kern := range kernels {
					v += weights[l] * kern.At(i, j, d2)
				}
				raw.Data[i*raw.Stride+j] = v
			}
		}
	})

	return S
}

// updateWeights favors kernels that agree with the current consensus
// similarity: w_l is proportional to exp(<K_l, S> / (rho * <1, S>)).
func updateWeights(D2 *mat.SymDense, kernels []kernelSpec, S *mat.SymDense, rho float64) []float64 {
	n, _ := S.Dims()

	total := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			total += S.At(i, j)
		}
	}

	scores := make([]float64, len(kernels))
	if total == 0 || rho <= 0 {
		for l := range scores {
			scores[l] = 1 / float64(len(scores))
		}
		return scores
	}

	for l, kern := range kernels {
		agreement := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if s := S.At(i, j); s != 0 {
					agreement += s * kern.At(i, j, D2.At(i, j))
				}
			}
		}
		scores[l] = agreement / (total * rho)
	}

	// Softmax with the maximum subtracted for stability
	max := scores[0]
	for _, v := range scores {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for l, v := range scores {
		scores[l] = math.Exp(v - max)
		sum += scores[l]
	}
	for l := range scores {
		scores[l] /= sum
	}

	return scores
}
