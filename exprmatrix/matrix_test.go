package exprmatrix

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const smallTSV = "gene\tE9.5_b1_c1\tE9.5_b1_c2\tE10.5_b2_c3\n" +
	"Sox2\t1.5\t0\t0.25\n" +
	"Pax6\t0\t0\t0\n" +
	"Gata4\t3\t2.5\t0\n"

func TestRead(t *testing.T) {
	m, err := Read(strings.NewReader(smallTSV), '\t')
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Genes) != 3 || len(m.Cells) != 3 {
		t.Fatalf("Expected 3 genes x 3 cells, got %d x %d", len(m.Genes), len(m.Cells))
	}

	if i, ok := m.CellIndex("E10.5_b2_c3"); !ok || i != 2 {
		t.Errorf("CellIndex returned %d %v", i, ok)
	}

	expr, err := m.Expression("Gata4")
	if err != nil {
		t.Fatal(err)
	}
	for i, expected := range []float64{3, 2.5, 0} {
		if expr[i] != expected {
			t.Errorf("Gata4[%d]: expected %f, got %f", i, expected, expr[i])
		}
	}

	if _, err := m.Expression("Nope"); err == nil {
		t.Error("Expected an error for a missing gene")
	}
}

func TestReadErrors(t *testing.T) {
	for name, input := range map[string]string{
		"empty":          "",
		"no cells":       "gene\n",
		"no genes":       "gene\tc1\n",
		"ragged":         "gene\tc1\tc2\nA\t1\n",
		"non-numeric":    "gene\tc1\nA\tNA\n",
		"duplicate gene": "gene\tc1\nA\t1\nA\t2\n",
		"duplicate cell": "gene\tc1\tc1\nA\t1\t2\n",
	} {
		if _, err := Read(strings.NewReader(input), '\t'); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestWriteRoundTrip(t *testing.T) {
	m, err := Read(strings.NewReader(smallTSV), '\t')
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := m.Write(&buf, ','); err != nil {
		t.Fatal(err)
	}

	m2, err := Read(&buf, ',')
	if err != nil {
		t.Fatal(err)
	}

	if m2.Data.At(0, 2) != 0.25 || m2.Cells[1] != "E9.5_b1_c2" || m2.Genes[2] != "Gata4" {
		t.Errorf("Round trip mismatch")
	}
}

func TestTopVariableGenes(t *testing.T) {
	m, err := Read(strings.NewReader(smallTSV), '\t')
	if err != nil {
		t.Fatal(err)
	}

	// Gata4 varies most, then Sox2; Pax6 is constant
	top := m.TopVariableGenes(2)
	if len(top) != 2 || top[0] != 0 || top[1] != 2 {
		t.Errorf("Expected [0 2], got %v", top)
	}

	if all := m.TopVariableGenes(0); len(all) != 3 {
		t.Errorf("Expected all genes when n=0, got %v", all)
	}

	x := m.CellsByFeatures(top)
	if r, c := x.Dims(); r != 3 || c != 2 {
		t.Fatalf("Expected 3x2, got %dx%d", r, c)
	}
	if x.At(1, 1) != 2.5 {
		t.Errorf("Expected Gata4 in cell 2 to be 2.5, got %f", x.At(1, 1))
	}
}

func TestSubset(t *testing.T) {
	m, err := Read(strings.NewReader(smallTSV), '\t')
	if err != nil {
		t.Fatal(err)
	}

	sub, err := m.SubsetCells([]int{2, 0})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Cells[0] != "E10.5_b2_c3" || sub.Data.At(0, 1) != 1.5 {
		t.Errorf("SubsetCells mismatch: %v", sub.Cells)
	}

	subG, err := m.SubsetGenes([]int{2})
	if err != nil {
		t.Fatal(err)
	}
	if subG.Genes[0] != "Gata4" || subG.Data.At(0, 0) != 3 {
		t.Errorf("SubsetGenes mismatch")
	}

	if _, err := m.SubsetCells([]int{5}); err == nil {
		t.Error("Expected out of range error")
	}
	if _, err := m.SubsetCells(nil); err == nil {
		t.Error("Expected an error for an empty selection")
	}
}

func TestLogNormalize(t *testing.T) {
	m, err := Read(strings.NewReader("gene\tc1\tc2\nA\t1\t0\nB\t3\t0\n"), '\t')
	if err != nil {
		t.Fatal(err)
	}

	if err := m.LogNormalize(100); err != nil {
		t.Fatal(err)
	}

	if v, expected := m.Data.At(0, 0), math.Log1p(25); math.Abs(v-expected) > 1e-12 {
		t.Errorf("Expected %f, got %f", expected, v)
	}

	// All-zero cells are left alone
	if m.Data.At(1, 1) != 0 {
		t.Errorf("Expected 0, got %f", m.Data.At(1, 1))
	}
}

func TestIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.tsv")
	if err := os.WriteFile(path, []byte(smallTSV), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	idx, err := NewIndex(f, '\t')
	if err != nil {
		t.Fatal(err)
	}

	if idx.Len() != 3 || len(idx.Cells()) != 3 {
		t.Fatalf("Expected 3 genes and 3 cells, got %d and %d", idx.Len(), len(idx.Cells()))
	}

	expr, err := idx.Expression("Sox2")
	if err != nil {
		t.Fatal(err)
	}
	if expr[0] != 1.5 || expr[2] != 0.25 {
		t.Errorf("Unexpected Sox2 values %v", expr)
	}

	if idx.Has("Nope") {
		t.Error("Index claims to have a gene it does not")
	}
}
