package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/scrnaseq/cluster"
	_ "github.com/carbocation/scrnaseq/compileinfoprint"
	"github.com/carbocation/scrnaseq/exprmatrix"
	"github.com/carbocation/scrnaseq/plot"
	"github.com/carbocation/scrnaseq/reduce"
)

var (
	BufferSize = 4096 * 8
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

func main() {
	defer STDOUT.Flush()

	var matrixPath, pngPath string
	var kMin, kMax, components, variableGenes int
	var seed int64
	var logNormalize bool

	flag.StringVar(&matrixPath, "matrix", "", "genes x cells expression matrix (may be compressed; may be a gs:// path)")
	flag.IntVar(&kMin, "kmin", 2, "Smallest k to evaluate")
	flag.IntVar(&kMax, "kmax", 12, "Largest k to evaluate")
	flag.IntVar(&components, "pcs", 20, "Number of principal components to cluster on")
	flag.IntVar(&variableGenes, "genes", 2000, "Number of most variable genes used for PCA")
	flag.Int64Var(&seed, "seed", 1, "Random seed")
	flag.BoolVar(&logNormalize, "log-normalize", false, "Is the matrix raw counts that should be log-normalized first?")
	flag.StringVar(&pngPath, "png", "", "Optional path for a chart of eigengap and silhouette by k")
	flag.Parse()

	if matrixPath == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx := context.Background()
	var client *storage.Client
	if strings.HasPrefix(matrixPath, "gs://") {
		var err error
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
	}

	x := m.CellsByFeatures(m.TopVariableGenes(variableGenes))
	n, g := x.Dims()
	if components > g {
		components = g
	}
	pcs, _, err := reduce.PCA(x, components)
	if err != nil {
		log.Fatalln(err)
	}

	if kMax > n-1 {
		kMax = n - 1
	}
	log.Printf("Evaluating k from %d to %d on %d cells\n", kMin, kMax, n)

	cfg := cluster.DefaultConfig(0)
	cfg.Seed = seed
	scores, err := cluster.EstimateK(pcs, cluster.KRange(kMin, kMax), cfg)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Fprintf(STDOUT, "k\teigengap\tsilhouette\tchosen\n")
	for _, s := range scores {
		fmt.Fprintf(STDOUT, "%d\t%.6g\t%.6g\t%t\n", s.K, s.Eigengap, s.Silhouette, s.Best)
	}

	if pngPath == "" {
		return
	}

	f, err := os.Create(pngPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer f.Close()

	if err := plot.KSelection(f, scores); err != nil {
		log.Fatalln(err)
	}
}
