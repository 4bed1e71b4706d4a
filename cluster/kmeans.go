package cluster

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const kmeansMaxIter = 300

type KMeansResult struct {
	Labels    []int
	Centroids *mat.Dense
	Inertia   float64
}

// KMeans runs Lloyd's algorithm from k-means++ starts and keeps the restart
// with the lowest within-cluster sum of squares.
func KMeans(x *mat.Dense, k, restarts int, seed int64) KMeansResult {
	if restarts < 1 {
		restarts = 1
	}
	rng := rand.New(rand.NewSource(seed))

	var best KMeansResult
	for r := 0; r < restarts; r++ {
		res := kmeansOnce(x, k, rng)
		if r == 0 || res.Inertia < best.Inertia {
			best = res
		}
	}

	return best
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}

	return s
}

func kmeansPlusPlus(x *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, d := x.Dims()
	centroids := mat.NewDense(k, d, nil)

	centroids.SetRow(0, x.RawRowView(rng.Intn(n)))
	closest := make([]float64, n)
	for i := range closest {
		closest[i] = sqDist(x.RawRowView(i), centroids.RawRowView(0))
	}

	for c := 1; c < k; c++ {
		total := 0.0
		for _, v := range closest {
			total += v
		}

		pick := n - 1
		if total > 0 {
			target := rng.Float64() * total
			for i, v := range closest {
				target -= v
				if target <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.Intn(n)
		}

		centroids.SetRow(c, x.RawRowView(pick))
		for i := range closest {
			if dd := sqDist(x.RawRowView(i), centroids.RawRowView(c)); dd < closest[i] {
				closest[i] = dd
			}
		}
	}

	return centroids
}

func kmeansOnce(x *mat.Dense, k int, rng *rand.Rand) KMeansResult {
	n, d := x.Dims()
	centroids := kmeansPlusPlus(x, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i := 0; i < n; i++ {
			row := x.RawRowView(i)
			bestC, bestD := 0, math.Inf(1)
			for c := 0; c < k; c++ {
				if dd := sqDist(row, centroids.RawRowView(c)); dd < bestD {
					bestC, bestD = c, dd
				}
			}
			if labels[i] != bestC {
				labels[i] = bestC
				changed = true
			}
		}

		if !changed {
			break
		}

		counts := make([]int, k)
		sums := mat.NewDense(k, d, nil)
		for i, c := range labels {
			counts[c]++
			sum := sums.RawRowView(c)
			for j, v := range x.RawRowView(i) {
				sum[j] += v
			}
		}

		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Empty cluster: move its centroid to the point that is
				// currently worst served.
				far, farD := 0, -1.0
				for i, lc := range labels {
					if dd := sqDist(x.RawRowView(i), centroids.RawRowView(lc)); dd > farD {
						far, farD = i, dd
					}
				}
				centroids.SetRow(c, x.RawRowView(far))
				continue
			}
			row := sums.RawRowView(c)
			for j := range row {
				row[j] /= float64(counts[c])
			}
			centroids.SetRow(c, row)
		}
	}

	inertia := 0.0
	for i, c := range labels {
		inertia += sqDist(x.RawRowView(i), centroids.RawRowView(c))
	}

	return KMeansResult{Labels: labels, Centroids: centroids, Inertia: inertia}
}
