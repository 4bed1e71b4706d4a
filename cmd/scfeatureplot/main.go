package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/carbocation/scrnaseq"
	_ "github.com/carbocation/scrnaseq/compileinfoprint"
	"github.com/carbocation/scrnaseq/exprmatrix"
	"github.com/carbocation/scrnaseq/plot"
	"gonum.org/v1/gonum/mat"
)

func main() {
	var matrixPath, clustersPath, genes, outDir string
	var columns, bins int

	flag.StringVar(&matrixPath, "matrix", "", "Uncompressed genes x cells expression matrix. Only the requested gene rows are read.")
	flag.StringVar(&clustersPath, "clusters", "", "clusters.tsv from scpipeline, with 'cell', 'tsne_1' and 'tsne_2' columns")
	flag.StringVar(&genes, "genes", "", "Comma-separated genes to plot")
	flag.StringVar(&outDir, "out", ".", "Directory for feature_<gene>.png and feature_montage.png")
	flag.IntVar(&columns, "columns", 4, "Number of columns in the montage")
	flag.IntVar(&bins, "bins", 20, "Number of bins in the terminal histogram for each gene")
	flag.Parse()

	if matrixPath == "" || clustersPath == "" || genes == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	coords, err := readCoordinates(clustersPath)
	if err != nil {
		log.Fatalln(err)
	}

	f, err := os.Open(scrnaseq.ExpandHome(matrixPath))
	if err != nil {
		log.Fatalln(err)
	}
	defer f.Close()

	delim := scrnaseq.DetermineDelimiter(f)
	idx, err := exprmatrix.NewIndex(f, delim)
	if err != nil {
		log.Fatalln(err)
	}
	log.Printf("Indexed %d genes across %d cells\n", idx.Len(), len(idx.Cells()))

	emb, cols := align(coords, idx.Cells())
	if emb == nil {
		log.Fatalln("None of the cells in", clustersPath, "are in", matrixPath)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatalln(err)
	}

	var paths []string
	for _, gene := range strings.Split(genes, ",") {
		gene = strings.TrimSpace(gene)
		if gene == "" {
			continue
		}

		path, err := featurePlot(os.Stdout, idx, emb, cols, gene, outDir, bins)
		if err != nil {
			log.Println(err)
			continue
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		log.Fatalln("No genes could be plotted")
	}

	if err := plot.Montage(paths, columns, filepath.Join(outDir, "feature_montage.png")); err != nil {
		log.Fatalln(err)
	}
}

// featurePlot reads one gene, prints its distribution and draws it over the
// embedding. It returns the path of the PNG.
func featurePlot(w io.Writer, idx *exprmatrix.Index, emb *mat.Dense, cols []int, gene, outDir string, bins int) (string, error) {
	all, err := idx.Expression(gene)
	if err != nil {
		return "", err
	}

	values := make([]float64, len(cols))
	for i, j := range cols {
		values[i] = all[j]
	}

	fmt.Fprintf(w, "%s\n", gene)
	if err := plot.TerminalHistogram(w, values, bins); err != nil {
		return "", err
	}

	path := featurePath(outDir, gene)
	if err := plot.FeaturePlot(path, emb, values, gene); err != nil {
		return "", err
	}

	return path, nil
}

// featurePath keeps the plot for gene inside outDir whatever the symbol
// contains.
func featurePath(outDir, gene string) string {
	return filepath.Join(outDir, "feature_"+scrnaseq.FileSafe(gene)+".png")
}
