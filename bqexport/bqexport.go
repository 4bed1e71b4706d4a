// Package bqexport writes per-cell results into a BigQuery table.
package bqexport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/carbocation/pfx"
	"google.golang.org/api/googleapi"
)

// BatchSize is the number of rows sent per streaming insert.
const BatchSize = 500

// Row is one cell's results. Missing metadata is NULL rather than "NA".
type Row struct {
	RunID      string               `bigquery:"run_id"`
	Cell       string               `bigquery:"cell"`
	Cluster    int64                `bigquery:"cluster"`
	Relabelled string               `bigquery:"relabelled"`
	Batch      bigquery.NullString  `bigquery:"batch"`
	Stage      bigquery.NullString  `bigquery:"stage"`
	Label      bigquery.NullString  `bigquery:"label"`
	TSNE1      bigquery.NullFloat64 `bigquery:"tsne_1"`
	TSNE2      bigquery.NullFloat64 `bigquery:"tsne_2"`
	Pseudotime bigquery.NullFloat64 `bigquery:"pseudotime"`
}

// NullString treats the empty string and "NA" as NULL.
func NullString(s string) bigquery.NullString {
	if s == "" || s == "NA" {
		return bigquery.NullString{}
	}

	return bigquery.NullString{StringVal: s, Valid: true}
}

func NullFloat(f float64, valid bool) bigquery.NullFloat64 {
	return bigquery.NullFloat64{Float64: f, Valid: valid}
}

// Schema is the table schema inferred from Row.
func Schema() (bigquery.Schema, error) {
	return bigquery.InferSchema(Row{})
}

// ParseTable splits a "project.dataset.table" or "dataset.table" reference.
// The project is empty in the second form.
func ParseTable(ref string) (project, dataset, table string, err error) {
	parts := strings.Split(ref, ".")
	for _, p := range parts {
		if p == "" {
			return "", "", "", fmt.Errorf("Table reference %q has an empty component", ref)
		}
	}

	switch len(parts) {
	case 2:
		return "", parts[0], parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	}

	return "", "", "", fmt.Errorf("Expected project.dataset.table or dataset.table, got %q", ref)
}

func batches(n, size int) [][2]int {
	out := make([][2]int, 0)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}

	return out
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// Export creates dataset.table in the client's project if it does not exist,
// then streams rows into it.
func Export(ctx context.Context, client *bigquery.Client, dataset, table string, rows []Row) error {
	return export(ctx, client.Dataset(dataset).Table(table), rows)
}

// ExportToProject is Export for a table that may live outside the client's
// project. An empty project means the client's own.
func ExportToProject(ctx context.Context, client *bigquery.Client, project, dataset, table string, rows []Row) error {
	if project == "" {
		return Export(ctx, client, dataset, table, rows)
	}

	return export(ctx, client.DatasetInProject(project, dataset).Table(table), rows)
}

func export(ctx context.Context, tbl *bigquery.Table, rows []Row) error {
	name := tbl.FullyQualifiedName()

	if _, err := tbl.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return pfx.Err(err)
		}

		schema, err := Schema()
		if err != nil {
			return pfx.Err(err)
		}

		log.Printf("Creating BigQuery table %s\n", name)
		if err := tbl.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return pfx.Err(err)
		}
	}

	inserter := tbl.Inserter()
	for _, b := range batches(len(rows), BatchSize) {
		if err := inserter.Put(ctx, rows[b[0]:b[1]]); err != nil {
			return pfx.Err(fmt.Errorf("inserting rows %d-%d: %w", b[0], b[1], err))
		}
	}

	log.Printf("Exported %d rows to %s\n", len(rows), name)

	return nil
}
