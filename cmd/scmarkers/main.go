package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	_ "github.com/carbocation/scrnaseq/compileinfoprint"
	"github.com/carbocation/scrnaseq/exprmatrix"
	"github.com/carbocation/scrnaseq/markers"
)

func main() {
	var matrixPath, clustersPath, outFile string
	var logNormalize bool

	cfg := markers.DefaultConfig()

	flag.StringVar(&matrixPath, "matrix", "", "genes x cells expression matrix (may be compressed; may be a gs:// path)")
	flag.StringVar(&clustersPath, "clusters", "", "File with 'cell' and 'cluster' columns, e.g. clusters.tsv from scpipeline. Cells not listed are ignored.")
	flag.StringVar(&outFile, "out", "", "Output CSV. If not specified, writes to stdout")
	flag.Float64Var(&cfg.MinPct, "min-pct", cfg.MinPct, "Only test genes expressed in at least this fraction of cells inside or outside the cluster")
	flag.Float64Var(&cfg.MinLog2FC, "min-log2fc", cfg.MinLog2FC, "Minimum absolute log2 fold change")
	flag.BoolVar(&cfg.OnlyPositive, "only-positive", cfg.OnlyPositive, "Report only genes higher in the cluster than outside it?")
	flag.IntVar(&cfg.TopN, "top", 0, "Keep at most this many markers per cluster (0 keeps all)")
	flag.BoolVar(&cfg.LogData, "log-data", cfg.LogData, "Are the values log1p-transformed?")
	flag.BoolVar(&logNormalize, "log-normalize", false, "Is the matrix raw counts that should be log-normalized first?")
	flag.Parse()

	if matrixPath == "" || clustersPath == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	assigned, err := readAssignments(clustersPath)
	if err != nil {
		log.Fatalln(err)
	}

	ctx := context.Background()
	var client *storage.Client
	if strings.HasPrefix(matrixPath, "gs://") {
		client, err = storage.NewClient(ctx)
		if err != nil {
			log.Fatalln(err)
		}
		defer client.Close()
	}

	m, err := exprmatrix.ReadFile(ctx, matrixPath, client)
	if err != nil {
		log.Fatalln(err)
	}
	if logNormalize {
		if err := m.LogNormalize(10000); err != nil {
			log.Fatalln(err)
		}
		cfg.LogData = true
	}

	keep := make([]int, 0, len(m.Cells))
	labels := make([]int, 0, len(m.Cells))
	for j, cell := range m.Cells {
		if c, ok := assigned[cell]; ok {
			keep = append(keep, j)
			labels = append(labels, c)
		}
	}
	log.Printf("%d of %d matrix cells have a cluster assignment\n", len(keep), len(m.Cells))

	if m, err = m.SubsetCells(keep); err != nil {
		log.Fatalln(err)
	}

	ms, err := markers.Find(m, labels, cfg)
	if err != nil {
		log.Fatalln(err)
	}
	log.Printf("Found %d markers\n", len(ms))

	var w io.WriteCloser = os.Stdout
	if outFile != "" {
		if w, err = os.Create(outFile); err != nil {
			log.Fatalln(err)
		}
	}
	defer w.Close()

	if err := markers.WriteCSV(w, ms); err != nil {
		log.Fatalln(err)
	}
}
