// Package pipeline runs the whole analysis: load the matrix and cell
// metadata, choose k, cluster, find markers, embed with t-SNE, summarize
// composition, optionally order cells in pseudo-time, and write every table
// and figure into one output directory.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/scrnaseq/bqexport"
	"github.com/carbocation/scrnaseq/cellmeta"
	"github.com/carbocation/scrnaseq/cluster"
	"github.com/carbocation/scrnaseq/composition"
	"github.com/carbocation/scrnaseq/exprmatrix"
	"github.com/carbocation/scrnaseq/markers"
	"github.com/carbocation/scrnaseq/plot"
	"github.com/carbocation/scrnaseq/reduce"
	"github.com/carbocation/scrnaseq/trajectory"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

type Report struct {
	// Identifies this run in exported rows
	RunID string

	K      int
	Scores []cluster.KScore

	Clusters   *cluster.Result
	Relabelled []string
	Cells      *cellmeta.Table

	Markers   []markers.Marker
	Embedding *mat.Dense

	// Nil without ground-truth labels
	Evaluation *composition.Evaluation

	// Nil unless requested
	Trajectory *trajectory.Result

	// Files written, relative to the output directory
	Outputs []string
}

// Run executes the workflow described by cfg.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, pfx.Err(err)
	}

	r := &runner{cfg: cfg, report: &Report{RunID: uuid.New().String()}}
	defer r.close()
	log.Printf("Starting run %s\n", r.report.RunID)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"load", r.load},
		{"reduce", r.reduce},
		{"choose k", r.chooseK},
		{"cluster", r.cluster},
		{"markers", r.markers},
		{"t-SNE", r.embed},
		{"composition", r.composition},
		{"trajectory", r.trajectory},
		{"plots", r.plots},
		{"cell table", r.cellTable},
		{"export", r.export},
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return r.report, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	return r.report, nil
}

// runner carries intermediate results between steps.
type runner struct {
	cfg    Config
	report *Report

	gcs *storage.Client
	bq  *bigquery.Client

	matrix *exprmatrix.Matrix
	meta   *cellmeta.Table
	pcs    *mat.Dense
}

func (r *runner) close() {
	if r.gcs != nil {
		r.gcs.Close()
	}
	if r.bq != nil {
		r.bq.Close()
	}
}

func (r *runner) bigQuery(ctx context.Context) (*bigquery.Client, error) {
	if r.bq != nil {
		return r.bq, nil
	}

	client, err := bigquery.NewClient(ctx, r.cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("connecting to BigQuery: %w", err)
	}
	r.bq = client

	return client, nil
}

func (r *runner) load(ctx context.Context) error {
	var err error

	if strings.HasPrefix(r.cfg.MatrixPath, "gs://") {
		if r.gcs, err = storage.NewClient(ctx); err != nil {
			return pfx.Err(err)
		}
	}

	log.Printf("Loading expression matrix from %s\n", r.cfg.MatrixPath)
	r.matrix, err = exprmatrix.ReadFile(ctx, r.cfg.MatrixPath, r.gcs)
	if err != nil {
		return err
	}
	nGenes, nCells := r.matrix.Data.Dims()
	log.Printf("Loaded %d genes x %d cells\n", nGenes, nCells)

	if r.cfg.LogNormalize {
		log.Printf("Log-normalizing to %.0f counts per cell\n", r.cfg.ScaleFactor)
		if err := r.matrix.LogNormalize(r.cfg.ScaleFactor); err != nil {
			return err
		}
	}

	layout, err := r.cfg.IDLayout()
	if err != nil {
		return err
	}
	r.meta = cellmeta.FromIdentifiers(r.matrix.Cells, layout)
	r.report.Cells = r.meta

	var labels map[string]string
	switch {
	case r.cfg.LabelsPath != "":
		labels, err = cellmeta.ReadLabels(r.cfg.LabelsPath)
	case r.cfg.LabelsQuery != "":
		var client *bigquery.Client
		if client, err = r.bigQuery(ctx); err == nil {
			labels, err = cellmeta.ReadLabelsBigQuery(ctx, client, r.cfg.LabelsQuery)
		}
	}
	if err != nil {
		return err
	}

	if labels != nil {
		matched := r.meta.AttachLabels(labels)
		log.Printf("Attached ground-truth labels to %d of %d cells\n", matched, nCells)
		if err := r.meta.Remap("label", r.cfg.LabelRemap); err != nil {
			return err
		}
	}

	stages, _ := r.meta.Column("stage")
	log.Printf("Stages: %s\n", strings.Join(cellmeta.StageOrder(stages), ", "))

	return nil
}

func (r *runner) reduce(ctx context.Context) error {
	hv := r.matrix.TopVariableGenes(r.cfg.VariableGenes)
	x := r.matrix.CellsByFeatures(hv)

	n, g := x.Dims()
	components := r.cfg.PCAComponents
	if components > g {
		components = g
	}
	if components > n-1 {
		components = n - 1
	}

	log.Printf("Projecting %d cells on %d variable genes onto %d principal components\n", n, g, components)
	pcs, explained, err := reduce.PCA(x, components)
	if err != nil {
		return err
	}
	r.pcs = pcs

	total := 0.0
	for _, v := range explained {
		total += v
	}
	log.Printf("%d components explain %.1f%% of the variance\n", len(explained), 100*total)

	return nil
}

func (r *runner) chooseK(ctx context.Context) error {
	n, _ := r.pcs.Dims()

	kMax := r.cfg.KMax
	if kMax > n-1 {
		kMax = n - 1
	}
	ks := cluster.KRange(r.cfg.KMin, kMax)
	if len(ks) == 0 || r.cfg.KMin < 2 {
		if r.cfg.K == 0 {
			return fmt.Errorf("No candidate k between %d and %d for %d cells", r.cfg.KMin, kMax, n)
		}
		r.report.K = r.cfg.K
		return nil
	}

	log.Printf("Evaluating k from %d to %d\n", ks[0], ks[len(ks)-1])
	scores, err := cluster.EstimateK(r.pcs, ks, r.cfg.ClusterConfig(0))
	if err != nil {
		return err
	}
	r.report.Scores = scores

	r.report.K = r.cfg.K
	if r.report.K == 0 {
		r.report.K = cluster.BestK(scores)
		log.Printf("Chose k=%d\n", r.report.K)
	}

	if err := r.write("kselection.tsv", func(f *os.File) error { return writeKScores(f, scores) }); err != nil {
		return err
	}
	if len(scores) > 1 {
		return r.write("kselection.png", func(f *os.File) error { return plot.KSelection(f, scores) })
	}

	return nil
}

func (r *runner) cluster(ctx context.Context) error {
	log.Printf("Clustering into %d groups\n", r.report.K)
	res, err := cluster.Fit(r.pcs, r.cfg.ClusterConfig(r.report.K))
	if err != nil {
		return err
	}
	r.report.Clusters = res

	sizes := cluster.Sizes(res.Labels)
	for c := 0; c < res.K; c++ {
		log.Printf("Cluster %d: %d cells\n", c, sizes[c])
	}

	overrides, err := r.cfg.RelabelOverrides()
	if err != nil {
		return err
	}

	var mapping map[int]string
	if r.meta.HasLabels() {
		truth, _ := r.meta.Column("label")
		if mapping, err = composition.MajorityRelabel(res.Labels, truth); err != nil {
			return err
		}

		ev, err := composition.Evaluate(res.Labels, truth)
		if err != nil {
			return err
		}
		r.report.Evaluation = &ev
		log.Printf("Against %d labeled cells: ARI %.3f, NMI %.3f, purity %.3f\n", ev.N, ev.ARI, ev.NMI, ev.Purity)

		if err := r.write("evaluation.tsv", func(f *os.File) error { return writeEvaluation(f, ev) }); err != nil {
			return err
		}
	}
	r.report.Relabelled = composition.ApplyRelabel(res.Labels, mapping, overrides)

	return nil
}

func (r *runner) markers(ctx context.Context) error {
	log.Println("Testing genes for cluster markers")
	ms, err := markers.Find(r.matrix, r.report.Clusters.Labels, r.cfg.MarkerConfig())
	if err != nil {
		return err
	}
	r.report.Markers = ms
	log.Printf("Found %d markers\n", len(ms))

	return r.write("markers.csv", func(f *os.File) error { return markers.WriteCSV(f, ms) })
}

// safePerplexity is the perplexity used when the configured one is too large
// for n cells. It stays strictly below (n-1)/3.
func safePerplexity(n int) float64 {
	return 0.9 * float64(n-1) / 3
}

func (r *runner) embed(ctx context.Context) error {
	n, _ := r.pcs.Dims()

	tcfg := r.cfg.TSNEConfig()
	if limit := float64(n-1) / 3; tcfg.Perplexity >= limit {
		lowered := safePerplexity(n)
		log.Printf("Lowering perplexity from %.1f to %.2f for %d cells\n", tcfg.Perplexity, lowered, n)
		tcfg.Perplexity = lowered
	}

	log.Printf("Running t-SNE with perplexity %.1f for %d iterations\n", tcfg.Perplexity, tcfg.Iterations)
	tsne := reduce.NewTSNE(tcfg)
	emb, err := tsne.Embed(r.pcs)
	if err != nil {
		return err
	}
	r.report.Embedding = emb
	log.Printf("t-SNE finished with KL divergence %.4f\n", tsne.KL)

	return nil
}

func (r *runner) composition(ctx context.Context) error {
	clusters := composition.IntStrings(r.report.Clusters.Labels)

	for _, column := range []string{"label", "stage", "batch"} {
		if column == "label" && !r.meta.HasLabels() {
			continue
		}

		values, err := r.meta.Column(column)
		if err != nil {
			return err
		}

		tab, err := composition.CrossTab(clusters, values)
		if err != nil {
			return err
		}
		if column == "stage" {
			tab.SortCols(cellmeta.StageLess)
		}

		summaries, err := composition.Summarize(tab)
		if err != nil {
			return err
		}
		for _, s := range summaries {
			log.Printf("Cluster %s (%d cells): mostly %s %s (%.0f%%) across %d values\n", s.Row, s.Total, column, s.Dominant, 100*s.DominantPct, s.NonEmptyColumns)
		}

		name := "composition_" + column + ".tsv"
		if err := r.write(name, func(f *os.File) error { return tab.Write(f, "cluster", column) }); err != nil {
			return err
		}

		// The stacked chart shows cell types when known, else stages.
		if column == "label" || (column == "stage" && !r.meta.HasLabels()) {
			title := fmt.Sprintf("Cluster composition by %s", column)
			if err := r.write("composition.png", func(f *os.File) error { return plot.StackedProportions(f, tab, title) }); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *runner) trajectory(ctx context.Context) error {
	if !r.cfg.Trajectory {
		return nil
	}

	labels := r.report.Clusters.Labels
	root := r.cfg.TrajectoryRoot
	if root < 0 {
		stages, err := r.meta.Column("stage")
		if err != nil {
			return err
		}
		if root, err = trajectory.RootCluster(labels, stages, cellmeta.StageOrder(stages)); err != nil {
			return err
		}
	}

	log.Printf("Inferring pseudo-time from root cluster %d\n", root)
	res, err := trajectory.Infer(r.pcs, labels, root)
	if err != nil {
		return err
	}
	r.report.Trajectory = res

	for _, e := range res.Edges {
		log.Printf("Trajectory edge %d - %d (length %.3f)\n", e.From, e.To, e.Length)
	}

	return nil
}

func (r *runner) export(ctx context.Context) error {
	if r.cfg.ExportTable == "" {
		return nil
	}

	project, dataset, table, err := bqexport.ParseTable(r.cfg.ExportTable)
	if err != nil {
		return err
	}

	client, err := r.bigQuery(ctx)
	if err != nil {
		return err
	}

	return bqexport.ExportToProject(ctx, client, project, dataset, table, r.exportRows())
}

// write creates name in the output directory and records it in the report.
func (r *runner) write(name string, fn func(f *os.File) error) error {
	path := filepath.Join(r.cfg.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}

	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return pfx.Err(err)
	}

	r.report.Outputs = append(r.report.Outputs, name)

	return nil
}
