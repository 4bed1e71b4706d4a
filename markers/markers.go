// Package markers finds genes whose expression distinguishes one cluster of
// cells from all the others.
package markers

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/carbocation/scrnaseq/exprmatrix"
	"github.com/exascience/pargo/parallel"
	"github.com/gocarina/gocsv"
	"github.com/willf/bitset"
)

type Config struct {
	// A gene is tested only if at least this fraction of cells express it in
	// the cluster or in the rest
	MinPct float64

	// Minimum absolute log2 fold change to report
	MinLog2FC float64

	OnlyPositive bool

	// Keep at most this many markers per cluster; 0 keeps all
	TopN int

	// Whether values are log1p-transformed; fold changes are then computed on
	// the back-transformed scale
	LogData bool

	// A cell expresses a gene if its value is above this threshold
	DetectionThreshold float64
}

func DefaultConfig() Config {
	return Config{
		MinPct:       0.1,
		MinLog2FC:    0.25,
		OnlyPositive: true,
		LogData:      true,
	}
}

type Marker struct {
	Cluster   int     `csv:"cluster"`
	Gene      string  `csv:"gene"`
	MeanIn    float64 `csv:"mean_in"`
	MeanOut   float64 `csv:"mean_out"`
	Log2FC    float64 `csv:"log2fc"`
	PctIn     float64 `csv:"pct_in"`
	PctOut    float64 `csv:"pct_out"`
	PWilcoxon float64 `csv:"p_wilcoxon"`
	PFisher   float64 `csv:"p_fisher"`
	PAdjusted float64 `csv:"p_adj"`
}

// geneTest holds the one-vs-rest results of one gene for every cluster.
type geneTest struct {
	Markers       []Marker
	Detected      []int // expressing cells per cluster
	TotalDetected int
}

// Find tests every gene in m for every cluster in labels (one label per cell,
// in matrix column order).
func Find(m *exprmatrix.Matrix, labels []int, cfg Config) ([]Marker, error) {
	nGenes, nCells := m.Data.Dims()
	if len(labels) != nCells {
		return nil, fmt.Errorf("Got %d cluster labels for %d cells", len(labels), nCells)
	}

	clusters, sizes := clusterIDs(labels)
	if len(clusters) < 2 {
		return nil, fmt.Errorf("Marker detection needs at least 2 clusters; every cell is in cluster %d", labels[0])
	}
	pos := make(map[int]int, len(clusters))
	for i, c := range clusters {
		pos[c] = i
	}

	members := membership(labels, pos, len(clusters))

	tests := make([]geneTest, nGenes)
	parallel.Range(0, nGenes, 0, func(low, high int) {
		for g := low; g < high; g++ {
			tests[g] = testGene(m.Genes[g], m.Data.RawRowView(g), labels, clusters, sizes, pos, members, cfg)
		}
	})

	out := make([]Marker, 0)
	for ci := range clusters {
		candidates := make([]Marker, 0, nGenes)
		pvals := make([]float64, 0, nGenes)
		for g := range tests {
			mk := tests[g].Markers[ci]

			// Fisher's test is run serially; its memo table is not
			// goroutine safe.
			nIn := sizes[ci]
			nOut := nCells - nIn
			inExp := tests[g].Detected[ci]
			mk.PFisher = FisherDetection(inExp, nIn, tests[g].TotalDetected-inExp, nOut)

			candidates = append(candidates, mk)
			pvals = append(pvals, mk.PWilcoxon)
		}

		adjusted := BenjaminiHochberg(pvals)
		kept := make([]Marker, 0)
		for i, mk := range candidates {
			mk.PAdjusted = adjusted[i]
			if !passes(mk, cfg) {
				continue
			}
			kept = append(kept, mk)
		}

		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].PAdjusted != kept[j].PAdjusted {
				return kept[i].PAdjusted < kept[j].PAdjusted
			}
			if kept[i].Log2FC != kept[j].Log2FC {
				return kept[i].Log2FC > kept[j].Log2FC
			}
			return kept[i].Gene < kept[j].Gene
		})

		if cfg.TopN > 0 && len(kept) > cfg.TopN {
			kept = kept[:cfg.TopN]
		}

		out = append(out, kept...)
	}

	return out, nil
}

func passes(mk Marker, cfg Config) bool {
	if mk.PctIn < cfg.MinPct && mk.PctOut < cfg.MinPct {
		return false
	}
	if cfg.OnlyPositive && mk.Log2FC <= 0 {
		return false
	}
	if math.Abs(mk.Log2FC) < cfg.MinLog2FC {
		return false
	}

	return true
}

// clusterIDs returns the sorted distinct cluster IDs and their sizes.
func clusterIDs(labels []int) ([]int, []int) {
	counts := make(map[int]int)
	for _, v := range labels {
		counts[v]++
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	sizes := make([]int, len(ids))
	for i, id := range ids {
		sizes[i] = counts[id]
	}

	return ids, sizes
}

// membership returns one bitset of cell indices per cluster position.
func membership(labels []int, pos map[int]int, k int) []*bitset.BitSet {
	out := make([]*bitset.BitSet, k)
	for i := range out {
		out[i] = bitset.New(uint(len(labels)))
	}
	for i, c := range labels {
		out[pos[c]].Set(uint(i))
	}

	return out
}

func testGene(gene string, values []float64, labels, clusters, sizes []int, pos map[int]int, members []*bitset.BitSet, cfg Config) geneTest {
	k := len(clusters)
	n := len(values)
	expressing := bitset.New(uint(n))

	rt := averageRanks(values)

	rankSums := make([]float64, k)
	sums := make([]float64, k)
	backSums := make([]float64, k)
	totalSum, totalBack := 0.0, 0.0

	for i, v := range values {
		ci := pos[labels[i]]
		rankSums[ci] += rt.Ranks[i]
		sums[ci] += v
		totalSum += v

		back := v
		if cfg.LogData {
			back = math.Expm1(v)
		}
		backSums[ci] += back
		totalBack += back

		if v > cfg.DetectionThreshold {
			expressing.Set(uint(i))
		}
	}

	detected := make([]int, k)
	for ci := range detected {
		detected[ci] = int(expressing.IntersectionCardinality(members[ci]))
	}
	totalDetected := int(expressing.Count())

	out := geneTest{
		Markers:       make([]Marker, k),
		Detected:      detected,
		TotalDetected: totalDetected,
	}
	for ci, c := range clusters {
		nIn := sizes[ci]
		nOut := n - nIn

		_, p := rankSumFromRanks(rankSums[ci], nIn, nOut, rt.Ties)

		meanIn := sums[ci] / float64(nIn)
		meanOut := (totalSum - sums[ci]) / float64(nOut)
		backIn := backSums[ci] / float64(nIn)
		backOut := (totalBack - backSums[ci]) / float64(nOut)

		out.Markers[ci] = Marker{
			Cluster:   c,
			Gene:      gene,
			MeanIn:    meanIn,
			MeanOut:   meanOut,
			Log2FC:    math.Log2((backIn + 1) / (backOut + 1)),
			PctIn:     float64(detected[ci]) / float64(nIn),
			PctOut:    float64(totalDetected-detected[ci]) / float64(nOut),
			PWilcoxon: p,
		}
	}

	return out
}

// WriteCSV writes markers with a header row.
func WriteCSV(w io.Writer, ms []Marker) error {
	return gocsv.Marshal(&ms, w)
}

// TopGenes returns up to perCluster distinct genes from each cluster, in
// marker order, without repeats across clusters.
func TopGenes(ms []Marker, perCluster int) []string {
	seen := make(map[string]struct{})
	taken := make(map[int]int)
	out := make([]string, 0)

	for _, mk := range ms {
		if taken[mk.Cluster] >= perCluster {
			continue
		}
		if _, exists := seen[mk.Gene]; exists {
			continue
		}
		seen[mk.Gene] = struct{}{}
		taken[mk.Cluster]++
		out = append(out, mk.Gene)
	}

	return out
}
