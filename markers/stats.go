package markers

import (
	"math"
	"sort"

	"github.com/BenLubar/memoize"
	fet "github.com/glycerine/golang-fisher-exact"
	"gonum.org/v1/gonum/stat/distuv"
)

// rankTies holds the average ranks of a sample plus the tie correction term
// sum(t^3 - t) over groups of tied values.
type rankTies struct {
	Ranks []float64
	Ties  float64
}

func averageRanks(v []float64) rankTies {
	n := len(v)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })

	out := rankTies{Ranks: make([]float64, n)}
	for i := 0; i < n; {
		j := i + 1
		for j < n && v[idx[j]] == v[idx[i]] {
			j++
		}

		// Positions i..j-1 share the average of ranks i+1..j
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			out.Ranks[idx[k]] = avg
		}
		if t := float64(j - i); t > 1 {
			out.Ties += t*t*t - t
		}

		i = j
	}

	return out
}

// rankSumFromRanks computes the Mann-Whitney U for the group of size n1 whose
// rank sum is w, and a two-sided p-value from the tie-corrected normal
// approximation with continuity correction.
func rankSumFromRanks(w float64, n1, n2 int, ties float64) (u, p float64) {
	N := float64(n1 + n2)
	fn1, fn2 := float64(n1), float64(n2)

	u = w - fn1*(fn1+1)/2
	mean := fn1 * fn2 / 2
	variance := fn1 * fn2 / 12 * ((N + 1) - ties/(N*(N-1)))
	if variance <= 0 {
		return u, 1
	}

	diff := u - mean
	correction := 0.0
	if diff > 0 {
		correction = 0.5
	} else if diff < 0 {
		correction = -0.5
	}
	z := (diff - correction) / math.Sqrt(variance)

	p = 2 * distuv.UnitNormal.CDF(-math.Abs(z))
	if p > 1 {
		p = 1
	}

	return u, p
}

// RankSum is the two-sided Wilcoxon rank-sum (Mann-Whitney U) test of x
// against y. U is reported for x.
func RankSum(x, y []float64) (u, p float64) {
	if len(x) == 0 || len(y) == 0 {
		return 0, 1
	}

	combined := make([]float64, 0, len(x)+len(y))
	combined = append(combined, x...)
	combined = append(combined, y...)
	rt := averageRanks(combined)

	w := 0.0
	for i := range x {
		w += rt.Ranks[i]
	}

	return rankSumFromRanks(w, len(x), len(y), rt.Ties)
}

// Detection tables for sparse genes repeat constantly (e.g., 0 of n cells
// expressing), so the exact test is memoized on its four counts.
var memoizedFisher = memoize.Memoize(fisherTwoSided)

func fisherTwoSided(n11, n12, n21, n22 int) float64 {
	_, _, _, twop := fet.FisherExactTest(n11, n12, n21, n22)
	if twop > 1 {
		return 1
	}

	return twop
}

// FisherDetection tests whether the fraction of expressing cells differs
// between the cluster and the rest.
func FisherDetection(inExpressing, inTotal, outExpressing, outTotal int) float64 {
	return memoizedFisher.(func(int, int, int, int) float64)(inExpressing, inTotal-inExpressing, outExpressing, outTotal-outExpressing)
}

// BenjaminiHochberg returns false discovery rate adjusted p-values in the
// input order.
func BenjaminiHochberg(p []float64) []float64 {
	n := len(p)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })

	running := 1.0
	for rank := n; rank >= 1; rank-- {
		i := idx[rank-1]
		adj := p[i] * float64(n) / float64(rank)
		if adj < running {
			running = adj
		}
		out[i] = running
	}

	return out
}
