package cluster

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

type Result struct {
	// 0-based cluster per cell; cluster 0 is the largest
	Labels []int
	K      int

	Similarity    *mat.SymDense
	Embedding     *mat.Dense
	KernelWeights []float64

	// Normalized Laplacian eigenvalues, ascending
	Eigenvalues []float64
}

// Fit clusters the rows of x (cells x features) into cfg.K groups.
func Fit(x *mat.Dense, cfg Config) (*Result, error) {
	n, _ := x.Dims()
	if err := validateK(cfg.K, n); err != nil {
		return nil, err
	}

	S, weights, err := Similarity(x, cfg)
	if err != nil {
		return nil, err
	}

	spec, err := Decompose(S)
	if err != nil {
		return nil, err
	}

	emb := spec.Embedding(cfg.K)
	km := KMeans(emb, cfg.K, cfg.Restarts, cfg.Seed)

	return &Result{
		Labels:        OrderBySize(km.Labels),
		K:             cfg.K,
		Similarity:    S,
		Embedding:     emb,
		KernelWeights: weights,
		Eigenvalues:   spec.Laplacian,
	}, nil
}

// OrderBySize renumbers clusters so that 0 is the largest, 1 the next largest
// and so on. Ties keep the lower original label first.
func OrderBySize(labels []int) []int {
	sizes := Sizes(labels)

	ids := make([]int, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if sizes[ids[i]] != sizes[ids[j]] {
			return sizes[ids[i]] > sizes[ids[j]]
		}
		return ids[i] < ids[j]
	})

	mapping := make(map[int]int, len(ids))
	for newID, oldID := range ids {
		mapping[oldID] = newID
	}

	out := make([]int, len(labels))
	for i, v := range labels {
		out[i] = mapping[v]
	}

	return out
}

type KScore struct {
	K          int
	Eigengap   float64
	Silhouette float64
	Best       bool
}

// EstimateK scores each candidate k by the eigengap of the learned similarity
// and by the silhouette of a spectral clustering into k groups. The similarity
// and its eigendecomposition are computed once. The k with the largest
// eigengap is marked Best; silhouette breaks ties.
func EstimateK(x *mat.Dense, ks []int, cfg Config) ([]KScore, error) {
	n, _ := x.Dims()
	if len(ks) == 0 {
		return nil, fmt.Errorf("No candidate values of k were given")
	}
	for _, k := range ks {
		if err := validateK(k, n); err != nil {
			return nil, err
		}
	}

	S, _, err := Similarity(x, cfg)
	if err != nil {
		return nil, err
	}

	spec, err := Decompose(S)
	if err != nil {
		return nil, err
	}

	out := make([]KScore, 0, len(ks))
	for _, k := range ks {
		emb := spec.Embedding(k)
		km := KMeans(emb, k, cfg.Restarts, cfg.Seed)
		sil, _ := Silhouette(emb, km.Labels)

		out = append(out, KScore{
			K:          k,
			Eigengap:   spec.Eigengap(k),
			Silhouette: sil,
		})
	}
	markBest(out)

	return out, nil
}

// markBest flags the score with the largest eigengap. Equal eigengaps go to
// the higher silhouette, then to the earlier entry.
func markBest(scores []KScore) {
	if len(scores) == 0 {
		return
	}

	best := 0
	for i := range scores {
		scores[i].Best = false
		if scores[i].Eigengap > scores[best].Eigengap ||
			(scores[i].Eigengap == scores[best].Eigengap && scores[i].Silhouette > scores[best].Silhouette) {
			best = i
		}
	}
	scores[best].Best = true
}

// BestK returns the k marked Best, or 0 if none is.
func BestK(scores []KScore) int {
	for _, v := range scores {
		if v.Best {
			return v.K
		}
	}

	return 0
}

// KRange returns the integers from min to max inclusive.
func KRange(min, max int) []int {
	out := make([]int, 0)
	for k := min; k <= max; k++ {
		out = append(out, k)
	}

	return out
}
