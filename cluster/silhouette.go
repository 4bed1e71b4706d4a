package cluster

import (
	"math"

	"github.com/carbocation/scrnaseq/reduce"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
)

// Silhouette returns the mean silhouette width and the per-observation
// widths. Observations in singleton clusters get a width of 0.
func Silhouette(x mat.Matrix, labels []int) (float64, []float64) {
	D2 := reduce.PairwiseSquaredDistances(x)
	n := len(labels)

	sizes := Sizes(labels)
	widths := make([]float64, n)
	if len(sizes) < 2 {
		return 0, widths
	}

	for i := 0; i < n; i++ {
		if sizes[labels[i]] < 2 {
			continue
		}

		sums := make(map[int]float64, len(sizes))
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(D2.At(i, j))
		}

		a := sums[labels[i]] / float64(sizes[labels[i]]-1)
		b := math.Inf(1)
		for c, s := range sums {
			if c == labels[i] {
				continue
			}
			if mean := s / float64(sizes[c]); mean < b {
				b = mean
			}
		}

		if m := math.Max(a, b); m > 0 {
			widths[i] = (b - a) / m
		}
	}

	mean, err := stats.Mean(widths)
	if err != nil {
		return 0, widths
	}

	return mean, widths
}

// Sizes counts the members of each cluster.
func Sizes(labels []int) map[int]int {
	out := make(map[int]int)
	for _, v := range labels {
		out[v]++
	}

	return out
}
