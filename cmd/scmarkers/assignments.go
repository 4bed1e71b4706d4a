package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/carbocation/pfx"
	"github.com/carbocation/scrnaseq"
	"github.com/gocarina/gocsv"
)

type assignment struct {
	Cell    string `csv:"cell"`
	Cluster int    `csv:"cluster"`
}

// readAssignments reads a delimited file with 'cell' and 'cluster' columns,
// such as the clusters.tsv written by scpipeline. Other columns are ignored.
func readAssignments(path string) (map[string]int, error) {
	f, err := os.Open(scrnaseq.ExpandHome(path))
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	delim := scrnaseq.DetermineDelimiter(f)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, pfx.Err(err)
	}

	return parseAssignments(f, delim)
}

func parseAssignments(r io.Reader, delim rune) (map[string]int, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim

	var rows []assignment
	if err := gocsv.UnmarshalCSV(cr, &rows); err != nil {
		return nil, pfx.Err(err)
	}

	out := make(map[string]int, len(rows))
	for _, row := range rows {
		if _, exists := out[row.Cell]; exists {
			return nil, fmt.Errorf("Cell %q is assigned more than once", row.Cell)
		}
		out[row.Cell] = row.Cluster
	}

	return out, nil
}
