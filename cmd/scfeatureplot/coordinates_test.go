package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAndAlignCoordinates(t *testing.T) {
	input := "cell\tcluster\ttsne_1\ttsne_2\n" +
		"a\t0\t1.5\t-2\n" +
		"b\t1\t3\t4\n" +
		"c\t1\t0\t0\n"

	coords, err := parseCoordinates(strings.NewReader(input), '\t')
	if err != nil {
		t.Fatal(err)
	}
	if len(coords) != 3 || coords[0].TSNE1 != 1.5 || coords[0].TSNE2 != -2 {
		t.Fatalf("Unexpected coordinates %+v", coords)
	}

	emb, cols := align(coords, []string{"c", "x", "a"})
	if r, _ := emb.Dims(); r != 2 {
		t.Fatalf("Expected 2 aligned cells, got %d", r)
	}
	if cols[0] != 2 || cols[1] != 0 {
		t.Errorf("Unexpected matrix columns %v", cols)
	}
	if emb.At(0, 0) != 1.5 || emb.At(1, 1) != 0 {
		t.Errorf("Unexpected embedding %v", emb)
	}

	if emb, _ := align(coords, []string{"z"}); emb != nil {
		t.Errorf("Expected no embedding without shared cells")
	}
}

func TestFeaturePath(t *testing.T) {
	out := filepath.Join("results", "plots")
	for _, gene := range []string{"Sox10", "HLA-A/B", "../../etc", `C\D`} {
		path := featurePath(out, gene)
		if filepath.Dir(path) != out {
			t.Errorf("%q: expected %s to be inside %s", gene, path, out)
		}
	}

	if got := featurePath(out, "Sox10"); got != filepath.Join(out, "feature_Sox10.png") {
		t.Errorf("Unexpected path %s", got)
	}
}
