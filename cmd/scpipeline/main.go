package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/carbocation/scrnaseq/compileinfoprint"
	"github.com/carbocation/scrnaseq/pipeline"
)

func main() {
	var configPath string
	var matrix, labels, out, export, project string
	var k int
	var seed int64
	var trajectory bool

	flag.StringVar(&configPath, "config", "", "JSON or YAML (.yaml, .yml) config file. Flags given on the command line override its values.")
	flag.StringVar(&matrix, "matrix", "", "genes x cells expression matrix (delimited text; may be gzip/bzip2/xz/zip compressed; may be a gs:// path)")
	flag.StringVar(&labels, "labels", "", "Optional file with 'cell' and 'label' columns holding ground-truth cell types")
	flag.StringVar(&out, "out", "", "Directory where tables and figures will be written")
	flag.IntVar(&k, "k", 0, "Number of clusters. If 0, k is chosen from the configured range by the eigengap.")
	flag.Int64Var(&seed, "seed", 1, "Random seed for clustering and t-SNE")
	flag.BoolVar(&trajectory, "trajectory", false, "Also order cells in pseudo-time?")
	flag.StringVar(&export, "export", "", "Optional BigQuery table (project.dataset.table) to receive per-cell results")
	flag.StringVar(&project, "project", "", "Google Cloud project used for BigQuery")
	flag.Parse()

	cfg := pipeline.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = pipeline.ParseConfigFromPath(configPath)
		if err != nil {
			log.Fatalln(err)
		}
	}

	// Only flags that were actually passed override the config.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "matrix":
			cfg.MatrixPath = matrix
		case "labels":
			cfg.LabelsPath = labels
		case "out":
			cfg.OutputDir = out
		case "k":
			cfg.K = k
		case "seed":
			cfg.Seed = seed
		case "trajectory":
			cfg.Trajectory = trajectory
		case "export":
			cfg.ExportTable = export
		case "project":
			cfg.Project = project
		}
	})
	cfg.ExpandPaths()

	if cfg.MatrixPath == "" || cfg.OutputDir == "" {
		fmt.Fprintln(os.Stderr, "Please provide --matrix and --out, either as flags or in --config")
		flag.PrintDefaults()
		os.Exit(1)
	}

	report, err := pipeline.Run(context.Background(), cfg)
	if err != nil {
		log.Fatalln(err)
	}

	log.Printf("Clustered into k=%d with %d markers. Wrote %d files to %s\n", report.K, len(report.Markers), len(report.Outputs), cfg.OutputDir)
	if ev := report.Evaluation; ev != nil {
		log.Printf("ARI %.3f, NMI %.3f, purity %.3f over %d labeled cells\n", ev.ARI, ev.NMI, ev.Purity, ev.N)
	}
}
