package reduce

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA centers the columns of x (observations in rows) and projects them onto
// the first n principal components. It returns the scores and the fraction of
// total variance explained by each retained component.
func PCA(x *mat.Dense, n int) (*mat.Dense, []float64, error) {
	r, c := x.Dims()
	if r < 2 {
		return nil, nil, fmt.Errorf("PCA needs at least 2 observations, got %d", r)
	}
	if n < 1 {
		return nil, nil, fmt.Errorf("PCA needs at least 1 component, got %d", n)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, nil, fmt.Errorf("PCA decomposition failed on a %dx%d matrix", r, c)
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	_, k := vecs.Dims()
	if n > k {
		n = k
	}

	centered := mat.NewDense(r, c, nil)
	centered.Copy(x)
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, centered)
		mean := stat.Mean(col, nil)
		floats.AddConst(-mean, col)
		centered.SetCol(j, col)
	}

	scores := mat.NewDense(r, n, nil)
	scores.Mul(centered, vecs.Slice(0, c, 0, n))

	total := floats.Sum(vars)
	explained := make([]float64, n)
	for i := range explained {
		if total > 0 {
			explained[i] = vars[i] / total
		}
	}

	return scores, explained, nil
}
