package cluster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Spectrum is the eigendecomposition of the normalized affinity
// D^-1/2 S D^-1/2, kept so that several values of k can be examined without
// refactorizing.
type Spectrum struct {
	// Eigenvalues of the normalized Laplacian I - D^-1/2 S D^-1/2, ascending
	Laplacian []float64

	vectors *mat.Dense // columns ordered to match Laplacian
}

func Decompose(S *mat.SymDense) (*Spectrum, error) {
	n, _ := S.Dims()

	deg := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			deg[i] += S.At(i, j)
		}
		if deg[i] > 0 {
			deg[i] = 1 / math.Sqrt(deg[i])
		}
	}

	A := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			A.SetSym(i, j, deg[i]*S.At(i, j)*deg[j])
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(A, true); !ok {
		return nil, fmt.Errorf("Eigendecomposition of the %dx%d similarity did not converge", n, n)
	}

	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Affinity eigenvalues come back ascending; the Laplacian's smallest
	// eigenvalues correspond to the affinity's largest.
	out := &Spectrum{
		Laplacian: make([]float64, n),
		vectors:   mat.NewDense(n, n, nil),
	}
	for k := 0; k < n; k++ {
		src := n - 1 - k
		out.Laplacian[k] = 1 - vals[src]
		out.vectors.SetCol(k, mat.Col(nil, src, &vecs))
	}

	return out, nil
}

// Eigengap returns lambda_{k+1} - lambda_k of the Laplacian (1-based), which
// is large when the graph has k well separated components.
func (s *Spectrum) Eigengap(k int) float64 {
	if k < 1 || k >= len(s.Laplacian) {
		return 0
	}

	return s.Laplacian[k] - s.Laplacian[k-1]
}

// Embedding returns the first k eigenvectors with each row scaled to unit
// length.
func (s *Spectrum) Embedding(k int) *mat.Dense {
	n, _ := s.vectors.Dims()
	out := mat.NewDense(n, k, nil)
	out.Copy(s.vectors.Slice(0, n, 0, k))

	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		norm := 0.0
		for _, v := range row {
			norm += v * v
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for j := range row {
			row[j] /= norm
		}
	}

	return out
}
