package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/carbocation/pfx"
	"github.com/carbocation/scrnaseq"
	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/mat"
)

type coordinate struct {
	Cell  string  `csv:"cell"`
	TSNE1 float64 `csv:"tsne_1"`
	TSNE2 float64 `csv:"tsne_2"`
}

// readCoordinates loads the t-SNE columns of a clusters.tsv file.
func readCoordinates(path string) ([]coordinate, error) {
	f, err := os.Open(scrnaseq.ExpandHome(path))
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	delim := scrnaseq.DetermineDelimiter(f)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, pfx.Err(err)
	}

	return parseCoordinates(f, delim)
}

func parseCoordinates(r io.Reader, delim rune) ([]coordinate, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim

	var out []coordinate
	if err := gocsv.UnmarshalCSV(cr, &out); err != nil {
		return nil, pfx.Err(err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("No coordinates were found")
	}

	return out, nil
}

// align returns the embedding of the cells that are present in both the
// coordinates and the matrix, and for each such cell its matrix column.
func align(coords []coordinate, matrixCells []string) (*mat.Dense, []int) {
	column := make(map[string]int, len(matrixCells))
	for j, c := range matrixCells {
		column[c] = j
	}

	data := make([]float64, 0, 2*len(coords))
	cols := make([]int, 0, len(coords))
	for _, c := range coords {
		j, ok := column[c.Cell]
		if !ok {
			continue
		}
		data = append(data, c.TSNE1, c.TSNE2)
		cols = append(cols, j)
	}

	if len(cols) == 0 {
		return nil, nil
	}

	return mat.NewDense(len(cols), 2, data), cols
}
