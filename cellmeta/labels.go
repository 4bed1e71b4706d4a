package cellmeta

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/carbocation/pfx"
	"github.com/carbocation/scrnaseq"
	"github.com/gocarina/gocsv"
	"google.golang.org/api/iterator"
)

type labelRow struct {
	Cell  string `csv:"cell"`
	Label string `csv:"label"`
}

// ReadLabels reads a file with a header containing "cell" and "label" columns.
// The delimiter is detected.
func ReadLabels(path string) (map[string]string, error) {
	f, err := os.Open(scrnaseq.ExpandHome(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	delim := scrnaseq.DetermineDelimiter(f)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, pfx.Err(err)
	}

	return readLabels(bufio.NewReader(f), delim)
}

func readLabels(r io.Reader, delim rune) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.Comment = '#'

	var rows []labelRow
	if err := gocsv.UnmarshalCSV(cr, &rows); err != nil {
		return nil, pfx.Err(err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		cell := strings.TrimSpace(row.Cell)
		if cell == "" {
			continue
		}
		if _, exists := out[cell]; exists {
			return nil, fmt.Errorf("Cell %q has more than one label", cell)
		}
		out[cell] = strings.TrimSpace(row.Label)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("No labels were found; the file needs a header with cell and label columns")
	}

	return out, nil
}

type bqLabelRow struct {
	Cell  string              `bigquery:"cell"`
	Label bigquery.NullString `bigquery:"label"`
}

// ReadLabelsBigQuery runs a query that yields "cell" and "label" columns.
func ReadLabelsBigQuery(ctx context.Context, client *bigquery.Client, query string) (map[string]string, error) {
	itr, err := client.Query(query).Read(ctx)
	if err != nil {
		return nil, pfx.Err(err)
	}

	out := make(map[string]string)
	for {
		var r bqLabelRow
		err := itr.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}

		if !r.Label.Valid {
			continue
		}
		out[r.Cell] = r.Label.StringVal
	}

	return out, nil
}
