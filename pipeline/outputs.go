package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/carbocation/scrnaseq"
	"github.com/carbocation/scrnaseq/bqexport"
	"github.com/carbocation/scrnaseq/cellmeta"
	"github.com/carbocation/scrnaseq/cluster"
	"github.com/carbocation/scrnaseq/composition"
	"github.com/carbocation/scrnaseq/markers"
	"github.com/carbocation/scrnaseq/plot"
)

var BufferSize = 4096 * 8

func writeKScores(w io.Writer, scores []cluster.KScore) error {
	bw := bufio.NewWriterSize(w, BufferSize)
	fmt.Fprintf(bw, "k\teigengap\tsilhouette\tchosen\n")
	for _, s := range scores {
		fmt.Fprintf(bw, "%d\t%.6g\t%.6g\t%t\n", s.K, s.Eigengap, s.Silhouette, s.Best)
	}

	return bw.Flush()
}

func writeEvaluation(w io.Writer, ev composition.Evaluation) error {
	bw := bufio.NewWriterSize(w, BufferSize)
	fmt.Fprintf(bw, "metric\tvalue\n")
	fmt.Fprintf(bw, "ari\t%.6f\n", ev.ARI)
	fmt.Fprintf(bw, "nmi\t%.6f\n", ev.NMI)
	fmt.Fprintf(bw, "purity\t%.6f\n", ev.Purity)
	fmt.Fprintf(bw, "labeled_cells\t%d\n", ev.N)

	return bw.Flush()
}

func (r *runner) plots(ctx context.Context) error {
	emb := r.report.Embedding

	groupings := []struct {
		file, title string
		values      []string
	}{
		{"tsne_clusters.png", "Clusters", r.report.Relabelled},
	}
	titles := map[string]string{"label": "Cell type", "stage": "Stage", "batch": "Batch"}
	for _, column := range []string{"label", "stage", "batch"} {
		if column == "label" && !r.meta.HasLabels() {
			continue
		}
		values, err := r.meta.Column(column)
		if err != nil {
			return err
		}
		groupings = append(groupings, struct {
			file, title string
			values      []string
		}{"tsne_" + column + ".png", titles[column], values})
	}

	for _, g := range groupings {
		g := g
		if err := r.write(g.file, func(f *os.File) error { return plot.Scatter(f, emb, g.values, g.title) }); err != nil {
			return err
		}
	}

	if tr := r.report.Trajectory; tr != nil {
		name := "tsne_pseudotime.png"
		if err := plot.FeaturePlot(filepath.Join(r.cfg.OutputDir, name), emb, tr.Pseudotime, "Pseudo-time"); err != nil {
			return err
		}
		r.report.Outputs = append(r.report.Outputs, name)
	}

	genes := r.cfg.PlotGenes
	if len(genes) == 0 {
		genes = markers.TopGenes(r.report.Markers, r.cfg.MarkersPerCluster)
	}

	var paths []string
	for _, gene := range genes {
		values, err := r.matrix.Expression(gene)
		if err != nil {
			log.Printf("Skipping feature plot: %v\n", err)
			continue
		}

		name := "feature_" + scrnaseq.FileSafe(gene) + ".png"
		path := filepath.Join(r.cfg.OutputDir, name)
		if err := plot.FeaturePlot(path, emb, values, gene); err != nil {
			return err
		}
		r.report.Outputs = append(r.report.Outputs, name)
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return nil
	}

	if err := plot.Montage(paths, r.cfg.MontageColumns, filepath.Join(r.cfg.OutputDir, "feature_montage.png")); err != nil {
		return err
	}
	r.report.Outputs = append(r.report.Outputs, "feature_montage.png")

	return nil
}

func (r *runner) cellTable(ctx context.Context) error {
	return r.write("clusters.tsv", func(f *os.File) error { return r.writeCells(f) })
}

func (r *runner) writeCells(w io.Writer) error {
	bw := bufio.NewWriterSize(w, BufferSize)
	fmt.Fprintf(bw, "cell\tcluster\trelabelled\tbatch\tstage\tlabel\ttsne_1\ttsne_2\tpseudotime\n")

	labels := r.report.Clusters.Labels
	for i, c := range r.meta.Cells {
		batch := c.Batch
		if batch == "" {
			batch = cellmeta.Missing
		}

		pseudotime := cellmeta.Missing
		if r.report.Trajectory != nil {
			pseudotime = fmt.Sprintf("%.6g", r.report.Trajectory.Pseudotime[i])
		}

		fmt.Fprintf(bw, "%s\t%d\t%s\t%s\t%s\t%s\t%.6g\t%.6g\t%s\n",
			c.ID,
			labels[i],
			r.report.Relabelled[i],
			batch,
			cellmeta.NullStringFormatter(c.Stage),
			cellmeta.NullStringFormatter(c.Label),
			r.report.Embedding.At(i, 0),
			r.report.Embedding.At(i, 1),
			pseudotime,
		)
	}

	return bw.Flush()
}

func (r *runner) exportRows() []bqexport.Row {
	out := make([]bqexport.Row, 0, len(r.meta.Cells))
	for i, c := range r.meta.Cells {
		row := bqexport.Row{
			RunID:      r.report.RunID,
			Cell:       c.ID,
			Cluster:    int64(r.report.Clusters.Labels[i]),
			Relabelled: r.report.Relabelled[i],
			Batch:      bqexport.NullString(c.Batch),
			Stage:      bqexport.NullString(c.Stage.String),
			Label:      bqexport.NullString(c.Label.String),
			TSNE1:      bqexport.NullFloat(r.report.Embedding.At(i, 0), true),
			TSNE2:      bqexport.NullFloat(r.report.Embedding.At(i, 1), true),
		}
		if tr := r.report.Trajectory; tr != nil {
			row.Pseudotime = bqexport.NullFloat(tr.Pseudotime[i], true)
		}
		out = append(out, row)
	}

	return out
}
