package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carbocation/scrnaseq"
	"github.com/google/uuid"
)

var fixtureTypes = []struct {
	Label, Stage, Batch string
}{
	{"A", "E7.5", "b1"},
	{"B", "E8.5", "b2"},
	{"C", "E9.5", "b1"},
}

const (
	cellsPerType = 20
	genesPerType = 10
)

// writeFixture writes a log-scale matrix where each cell type strongly
// expresses its own block of genes, plus a matching labels file.
func writeFixture(t *testing.T, dir string) (matrixPath, labelsPath string) {
	rng := rand.New(rand.NewSource(7))

	var cells []string
	var types []int
	for ti, ft := range fixtureTypes {
		for i := 0; i < cellsPerType; i++ {
			cells = append(cells, fmt.Sprintf("%s_%s_cell%02d", ft.Stage, ft.Batch, ti*cellsPerType+i))
			types = append(types, ti)
		}
	}

	var sb strings.Builder
	sb.WriteString("gene\t" + strings.Join(cells, "\t") + "\n")
	for g := 0; g < genesPerType*len(fixtureTypes); g++ {
		sb.WriteString(fmt.Sprintf("g%d", g))
		for j := range cells {
			v := 0.2 * rng.Float64()
			if g/genesPerType == types[j] {
				v = 4 + rng.Float64()
			}
			sb.WriteString(fmt.Sprintf("\t%.4f", v))
		}
		sb.WriteString("\n")
	}

	matrixPath = filepath.Join(dir, "matrix.tsv")
	if err := os.WriteFile(matrixPath, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}

	var lb strings.Builder
	lb.WriteString("cell\tlabel\n")
	for j, c := range cells {
		lb.WriteString(c + "\t" + fixtureTypes[types[j]].Label + "\n")
	}
	labelsPath = filepath.Join(dir, "labels.tsv")
	if err := os.WriteFile(labelsPath, []byte(lb.String()), 0644); err != nil {
		t.Fatal(err)
	}

	return matrixPath, labelsPath
}

func fixtureConfig(t *testing.T) Config {
	dir := t.TempDir()
	matrixPath, labelsPath := writeFixture(t, dir)

	cfg := DefaultConfig()
	cfg.MatrixPath = matrixPath
	cfg.LabelsPath = labelsPath
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.LabelRemap = map[string]string{"C": "Gamma"}
	cfg.PCAComponents = 5
	cfg.KMin = 2
	cfg.KMax = 5
	cfg.Neighbors = []int{5, 10}
	cfg.Scales = []float64{1, 1.5, 2}
	cfg.Perplexity = 5
	cfg.TSNEIterations = 300
	cfg.PlotGenes = []string{"g0", "g10", "g20", "not_a_gene"}
	cfg.MontageColumns = 2
	cfg.Trajectory = true

	return cfg
}

func TestRun(t *testing.T) {
	cfg := fixtureConfig(t)

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := uuid.Parse(report.RunID); err != nil {
		t.Fatalf("Run ID %q is not a UUID: %v", report.RunID, err)
	}

	if report.K != 3 {
		t.Fatalf("Expected k=3 to be chosen, got %d (%+v)", report.K, report.Scores)
	}
	if len(report.Scores) != 4 {
		t.Fatalf("Expected 4 k scores, got %d", len(report.Scores))
	}

	if report.Evaluation == nil || report.Evaluation.ARI < 0.99 || report.Evaluation.N != 60 {
		t.Fatalf("Expected near-perfect agreement with the labels, got %+v", report.Evaluation)
	}

	names := make(map[string]struct{})
	for _, v := range report.Relabelled {
		names[v] = struct{}{}
	}
	for _, want := range []string{"A", "B", "Gamma"} {
		if _, ok := names[want]; !ok {
			t.Fatalf("Expected a cluster relabelled %s, got %v", want, names)
		}
	}

	if len(report.Markers) == 0 {
		t.Fatalf("Expected markers")
	}

	for _, name := range []string{
		"kselection.tsv", "kselection.png", "evaluation.tsv", "markers.csv",
		"composition_label.tsv", "composition_stage.tsv", "composition_batch.tsv", "composition.png",
		"tsne_clusters.png", "tsne_label.png", "tsne_stage.png", "tsne_batch.png", "tsne_pseudotime.png",
		"feature_g0.png", "feature_g10.png", "feature_g20.png", "feature_montage.png",
		"clusters.tsv",
	} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, name)); err != nil {
			t.Errorf("Expected output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "feature_not_a_gene.png")); err == nil {
		t.Errorf("Did not expect a feature plot for a missing gene")
	}

	// The E7.5 cluster is the root, so its cells come first in pseudo-time.
	tr := report.Trajectory
	if tr == nil {
		t.Fatalf("Expected a trajectory")
	}
	rootMax, otherMin := math.Inf(-1), math.Inf(1)
	for i, c := range report.Cells.Cells {
		if c.Stage.String == "E7.5" {
			rootMax = math.Max(rootMax, tr.Pseudotime[i])
		} else {
			otherMin = math.Min(otherMin, tr.Pseudotime[i])
		}
	}
	if rootMax >= otherMin {
		t.Errorf("Expected E7.5 cells before the rest in pseudo-time (%f >= %f)", rootMax, otherMin)
	}

	f, err := os.Open(filepath.Join(cfg.OutputDir, "clusters.tsv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) != 9 {
			t.Fatalf("Expected 9 columns, got %d: %q", len(fields), scanner.Text())
		}
		if lines == 0 && fields[0] != "cell" {
			t.Fatalf("Unexpected header %q", scanner.Text())
		}
		lines++
	}
	if lines != 61 {
		t.Errorf("Expected a header plus 60 cells, got %d lines", lines)
	}
}

func TestRunFixedK(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.K = 2
	cfg.LabelsPath = ""
	cfg.Trajectory = false
	cfg.PlotGenes = nil

	report, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if report.K != 2 {
		t.Fatalf("Expected the configured k, got %d", report.K)
	}
	if report.Evaluation != nil || report.Trajectory != nil {
		t.Fatalf("Expected no evaluation or trajectory")
	}

	for _, name := range []string{"evaluation.tsv", "composition_label.tsv", "tsne_label.png"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, name)); err == nil {
			t.Errorf("Did not expect %s without labels", name)
		}
	}

	// Feature plots fall back to the top marker of each cluster.
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "feature_montage.png")); err != nil {
		t.Errorf("Expected a montage of marker genes: %v", err)
	}
}

func TestParseJSONConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"matrix": "~/data/matrix.tsv.gz",
		"output": "results",
		"k": 4,
		"stage_pattern": "E\\d+\\.5",
		"relabel": {"0": "Epiblast"}
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseJSONConfigFromPath(path)
	if err != nil {
		t.Fatal(err)
	}

	if want := scrnaseq.ExpandHome("~/data/matrix.tsv.gz"); cfg.MatrixPath != want {
		t.Errorf("Expected %s, got %s", want, cfg.MatrixPath)
	}
	if cfg.K != 4 || cfg.PCAComponents != DefaultConfig().PCAComponents || cfg.TrajectoryRoot != -1 {
		t.Errorf("Expected file values over defaults, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	overrides, err := cfg.RelabelOverrides()
	if err != nil || overrides[0] != "Epiblast" {
		t.Errorf("Unexpected overrides %v (%v)", overrides, err)
	}

	layout, err := cfg.IDLayout()
	if err != nil || layout.StagePattern == nil {
		t.Errorf("Expected a stage pattern, got %v (%v)", layout.StagePattern, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"k": `), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJSONConfigFromPath(bad); err == nil {
		t.Errorf("Expected a syntax error")
	}

	mistyped := filepath.Join(dir, "mistyped.json")
	if err := os.WriteFile(mistyped, []byte(`{"k": "four"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJSONConfigFromPath(mistyped); err == nil {
		t.Errorf("Expected a type error")
	}
}

func TestParseConfigFromPathYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `matrix: data/matrix.tsv
output: results
k_max: 8
neighbors: [10, 20]
plot_genes:
  - T
  - Sox17
label_remap:
  Neural crest: Neural Crest
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseConfigFromPath(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.MatrixPath != "data/matrix.tsv" || cfg.OutputDir != "results" {
		t.Errorf("Unexpected paths %q %q", cfg.MatrixPath, cfg.OutputDir)
	}
	if cfg.KMax != 8 || cfg.KMin != DefaultConfig().KMin {
		t.Errorf("Expected k_max from the file and k_min from defaults, got %d..%d", cfg.KMin, cfg.KMax)
	}
	if len(cfg.Neighbors) != 2 || cfg.Neighbors[1] != 20 {
		t.Errorf("Unexpected neighbors %v", cfg.Neighbors)
	}
	if len(cfg.PlotGenes) != 2 || cfg.LabelRemap["Neural crest"] != "Neural Crest" {
		t.Errorf("Unexpected genes %v or remap %v", cfg.PlotGenes, cfg.LabelRemap)
	}

	empty := filepath.Join(dir, "empty.yml")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = ParseConfigFromPath(empty)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TrajectoryRoot != -1 {
		t.Errorf("Expected defaults from an empty file, got %+v", cfg)
	}

	typo := filepath.Join(dir, "typo.yaml")
	if err := os.WriteFile(typo, []byte("kmax: 8\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseConfigFromPath(typo); err == nil {
		t.Errorf("Expected an error for an unknown key")
	}
}

func TestSafePerplexity(t *testing.T) {
	for _, n := range []int{2, 16, 60, 1000} {
		p := safePerplexity(n)
		if p <= 0 || 3*p >= float64(n-1) {
			t.Errorf("%d cells: perplexity %f is outside (0, (n-1)/3)", n, p)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.MatrixPath = "m.tsv"
	valid.OutputDir = "out"
	if err := valid.Validate(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no matrix", func(c *Config) { c.MatrixPath = "" }},
		{"no output", func(c *Config) { c.OutputDir = "" }},
		{"two label sources", func(c *Config) { c.LabelsPath = "l.tsv"; c.LabelsQuery = "SELECT 1" }},
		{"query without project", func(c *Config) { c.LabelsQuery = "SELECT cell, label FROM t" }},
		{"negative k", func(c *Config) { c.K = -1 }},
		{"bad k range", func(c *Config) { c.KMin = 5; c.KMax = 3 }},
		{"one component", func(c *Config) { c.PCAComponents = 1 }},
		{"bad pattern", func(c *Config) { c.StagePattern = "E(" }},
		{"bad relabel", func(c *Config) { c.Relabel = map[string]string{"x": "y"} }},
		{"bad table", func(c *Config) { c.ExportTable = "justatable" }},
		{"table without project", func(c *Config) { c.ExportTable = "ds.cells" }},
	}

	for _, c := range cases {
		cfg := valid
		c.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}
