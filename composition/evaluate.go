package composition

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

const missing = "NA"

// MajorityRelabel names each cluster after the most frequent ground-truth
// label among its cells, ignoring missing labels. When two clusters win the
// same label, the larger keeps the plain name and later ones get a ".2", ".3"
// suffix. Clusters without any labeled cell are left out of the mapping.
func MajorityRelabel(clusters []int, truth []string) (map[int]string, error) {
	if len(clusters) != len(truth) {
		return nil, fmt.Errorf("Got %d clusters but %d labels", len(clusters), len(truth))
	}

	counts := make(map[int]map[string]int)
	sizes := make(map[int]int)
	for i, c := range clusters {
		sizes[c]++
		if truth[i] == missing || truth[i] == "" {
			continue
		}
		if counts[c] == nil {
			counts[c] = make(map[string]int)
		}
		counts[c][truth[i]]++
	}

	ids := make([]int, 0, len(counts))
	for c := range counts {
		ids = append(ids, c)
	}
	sort.Slice(ids, func(i, j int) bool {
		if sizes[ids[i]] != sizes[ids[j]] {
			return sizes[ids[i]] > sizes[ids[j]]
		}
		return ids[i] < ids[j]
	})

	out := make(map[int]string, len(ids))
	used := make(map[string]int)
	for _, c := range ids {
		best, bestN := "", -1
		for label, n := range counts[c] {
			if n > bestN || (n == bestN && label < best) {
				best, bestN = label, n
			}
		}

		used[best]++
		if used[best] > 1 {
			best = best + "." + strconv.Itoa(used[best])
		}
		out[c] = best
	}

	return out, nil
}

// ApplyRelabel renders each cluster through overrides first, then mapping,
// falling back to the cluster number.
func ApplyRelabel(clusters []int, mapping, overrides map[int]string) []string {
	out := make([]string, len(clusters))
	for i, c := range clusters {
		if v, ok := overrides[c]; ok {
			out[i] = v
		} else if v, ok := mapping[c]; ok {
			out[i] = v
		} else {
			out[i] = strconv.Itoa(c)
		}
	}

	return out
}

// dropMissing removes pairs where the reference label is missing.
func dropMissing(a, b []string) ([]string, []string) {
	outA := make([]string, 0, len(a))
	outB := make([]string, 0, len(b))
	for i := range a {
		if b[i] == missing || b[i] == "" {
			continue
		}
		outA = append(outA, a[i])
		outB = append(outB, b[i])
	}

	return outA, outB
}

func choose2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}

// AdjustedRandIndex compares two partitions of the same items. Items whose
// reference label (b) is missing are ignored.
func AdjustedRandIndex(a, b []string) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("Got %d and %d labels", len(a), len(b))
	}
	a, b = dropMissing(a, b)

	t, err := CrossTab(a, b)
	if err != nil {
		return 0, err
	}

	index := 0.0
	for _, row := range t.Counts {
		for _, v := range row {
			index += choose2(v)
		}
	}

	sumA, sumB := 0.0, 0.0
	for _, v := range t.RowTotals() {
		sumA += choose2(v)
	}
	for _, v := range t.ColTotals() {
		sumB += choose2(v)
	}

	total := choose2(t.Total())
	if total == 0 {
		return 1, nil
	}

	expected := sumA * sumB / total
	max := (sumA + sumB) / 2
	if max == expected {
		return 1, nil
	}

	return (index - expected) / (max - expected), nil
}

func entropy(totals []int, n int) float64 {
	h := 0.0
	for _, v := range totals {
		if v == 0 {
			continue
		}
		p := float64(v) / float64(n)
		h -= p * math.Log(p)
	}

	return h
}

// NormalizedMutualInformation is I(a;b) / sqrt(H(a) H(b)). Items whose
// reference label (b) is missing are ignored.
func NormalizedMutualInformation(a, b []string) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("Got %d and %d labels", len(a), len(b))
	}
	a, b = dropMissing(a, b)

	t, err := CrossTab(a, b)
	if err != nil {
		return 0, err
	}

	n := t.Total()
	if n == 0 {
		return 0, fmt.Errorf("No labeled items to compare")
	}

	rows, cols := t.RowTotals(), t.ColTotals()
	hA, hB := entropy(rows, n), entropy(cols, n)
	if hA == 0 && hB == 0 {
		return 1, nil
	}
	if hA == 0 || hB == 0 {
		return 0, nil
	}

	mi := 0.0
	for i, row := range t.Counts {
		for j, v := range row {
			if v == 0 {
				continue
			}
			pij := float64(v) / float64(n)
			mi += pij * math.Log(pij*float64(n)*float64(n)/(float64(rows[i])*float64(cols[j])))
		}
	}

	return mi / math.Sqrt(hA*hB), nil
}

// Purity is the fraction of items that carry the majority reference label of
// their cluster.
func Purity(clusters, truth []string) (float64, error) {
	if len(clusters) != len(truth) {
		return 0, fmt.Errorf("Got %d and %d labels", len(clusters), len(truth))
	}
	clusters, truth = dropMissing(clusters, truth)

	t, err := CrossTab(clusters, truth)
	if err != nil {
		return 0, err
	}
	n := t.Total()
	if n == 0 {
		return 0, fmt.Errorf("No labeled items to compare")
	}

	sum := 0
	for _, row := range t.Counts {
		max := 0
		for _, v := range row {
			if v > max {
				max = v
			}
		}
		sum += max
	}

	return float64(sum) / float64(n), nil
}

type Evaluation struct {
	ARI    float64
	NMI    float64
	Purity float64
	N      int
}

// Evaluate scores clusters against ground-truth labels.
func Evaluate(clusters []int, truth []string) (Evaluation, error) {
	a := IntStrings(clusters)

	ari, err := AdjustedRandIndex(a, truth)
	if err != nil {
		return Evaluation{}, err
	}
	nmi, err := NormalizedMutualInformation(a, truth)
	if err != nil {
		return Evaluation{}, err
	}
	purity, err := Purity(a, truth)
	if err != nil {
		return Evaluation{}, err
	}

	_, labeled := dropMissing(a, truth)

	return Evaluation{ARI: ari, NMI: nmi, Purity: purity, N: len(labeled)}, nil
}
