package trajectory

import (
	"math"
	"testing"

	"github.com/carbocation/scrnaseq/cellmeta"
	"gonum.org/v1/gonum/mat"
)

// Three clusters strung along the x axis, centered on x = 0, 10, 20.
func lineFixture() (*mat.Dense, []int) {
	xOffsets := []float64{-0.5, 0, 0.5}
	yOffsets := []float64{0.1, -0.1, 0}

	var data []float64
	var labels []int
	for c := 0; c < 3; c++ {
		for i := range xOffsets {
			data = append(data, 10*float64(c)+xOffsets[i], yOffsets[i])
			labels = append(labels, c)
		}
	}

	return mat.NewDense(len(labels), 2, data), labels
}

func TestInferLine(t *testing.T) {
	x, labels := lineFixture()

	res, err := Infer(x, labels, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Edges) != 2 {
		t.Fatalf("Expected 2 edges, got %d", len(res.Edges))
	}
	for _, e := range res.Edges {
		if math.Abs(e.Length-10) > 1e-9 {
			t.Fatalf("Expected edge length 10, got %v", e)
		}
		if e.From == 0 && e.To == 2 || e.From == 2 && e.To == 0 {
			t.Fatalf("Outer clusters should not be joined directly: %v", e)
		}
	}

	for i, pt := range res.Pseudotime {
		want := math.Min(20, math.Max(0, x.At(i, 0)))
		if math.Abs(pt-want) > 1e-9 {
			t.Fatalf("Cell %d: expected pseudotime %v, got %v", i, want, pt)
		}
	}

	for i := 1; i < len(res.Order); i++ {
		if res.Pseudotime[res.Order[i-1]] > res.Pseudotime[res.Order[i]] {
			t.Fatalf("Order is not sorted by pseudotime: %v", res.Order)
		}
	}

	for i, b := range res.Branch {
		if b < 0 || b >= len(res.Edges) {
			t.Fatalf("Cell %d was not assigned to an edge: %d", i, b)
		}
	}
}

func TestInferReversedRoot(t *testing.T) {
	x, labels := lineFixture()

	res, err := Infer(x, labels, 2)
	if err != nil {
		t.Fatal(err)
	}

	first := res.Order[0]
	last := res.Order[len(res.Order)-1]
	if labels[first] != 2 || labels[last] != 0 {
		t.Fatalf("Expected cluster 2 first and cluster 0 last, got %d and %d", labels[first], labels[last])
	}
}

func TestInferSingleCluster(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{0, 0, 3, 4, -3, -4})
	res, err := Infer(x, []int{5, 5, 5}, 5)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Edges) != 0 {
		t.Fatalf("Expected no edges, got %v", res.Edges)
	}
	if res.Pseudotime[1] != 5 || res.Branch[1] != -1 {
		t.Fatalf("Expected distance to centroid, got %v (branch %d)", res.Pseudotime[1], res.Branch[1])
	}
}

func TestInferErrors(t *testing.T) {
	x, labels := lineFixture()

	if _, err := Infer(x, labels[:3], 0); err == nil {
		t.Fatalf("Expected an error for mismatched labels")
	}
	if _, err := Infer(x, labels, 7); err == nil {
		t.Fatalf("Expected an error for a root cluster with no cells")
	}
}

func TestRootCluster(t *testing.T) {
	cases := []struct {
		name   string
		labels []int
		stages []string
		order  []string
		want   int
	}{
		{"share", []int{0, 0, 1, 1, 2}, []string{"E6.5", "E7.5", "E6.5", "E6.5", "E7.5"}, []string{"E6.5", "E7.5"}, 1},
		{"skips absent stages", []int{0, 1, 1}, []string{"P1", "E9.5", "P1"}, []string{"E8.5", "E9.5", "P1"}, 1},
		{"tie prefers more cells", []int{0, 1, 1}, []string{"E1", "E1", "E1"}, []string{"E1"}, 1},
	}

	for _, c := range cases {
		got, err := RootCluster(c.labels, c.stages, c.order)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: expected root %d, got %d", c.name, c.want, got)
		}
	}

	failures := []struct {
		name   string
		labels []int
		stages []string
		order  []string
	}{
		{"unordered stage", []int{0}, []string{"X"}, []string{"E1"}},
		{"every stage missing", []int{0, 0, 1, 1}, []string{"NA", "NA", "NA", "NA"}, cellmeta.StageOrder([]string{"NA", "NA", "NA", "NA"})},
		{"empty stages", []int{0, 1}, []string{"", ""}, []string{""}},
		{"length mismatch", []int{0, 1}, []string{"E1"}, []string{"E1"}},
	}
	for _, c := range failures {
		if root, err := RootCluster(c.labels, c.stages, c.order); err == nil {
			t.Fatalf("%s: expected an error, got root %d", c.name, root)
		}
	}

	// Missing stages ordered first must not displace an observed stage.
	got, err := RootCluster([]int{0, 0, 1, 1}, []string{"NA", "NA", "E8.5", "E9.5"}, []string{"NA", "E8.5", "E9.5"})
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("Expected root 1, got %d", got)
	}
}
