// Package reduce projects cells into low-dimensional spaces for clustering
// (PCA) and for visualization (t-SNE).
package reduce

import (
	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/mat"
)

// PairwiseSquaredDistances returns the squared Euclidean distance between
// every pair of rows of x. Rows are processed in parallel.
func PairwiseSquaredDistances(x mat.Matrix) *mat.SymDense {
	n, d := x.Dims()
	out := mat.NewSymDense(n, nil)
	raw := out.RawSymmetric()

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, x)
	}

	// Each worker only writes the upper triangle of its own rows, so no
	// locking is needed.
	parallel.Range(0, n, 0, func(low, high int) {
		for i := low; i < high; i++ {
			ri := rows[i]
			for j := i + 1; j < n; j++ {
				rj := rows[j]
				s := 0.0
				for k := 0; k < d; k++ {
					diff := ri[k] - rj[k]
					s += diff * diff
				}
				raw.Data[i*raw.Stride+j] = s
			}
		}
	})

	return out
}
