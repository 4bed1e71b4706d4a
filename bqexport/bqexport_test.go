package bqexport

import (
	"fmt"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

func TestParseTable(t *testing.T) {
	cases := []struct {
		in                      string
		project, dataset, table string
		err                     bool
	}{
		{"proj.ds.cells", "proj", "ds", "cells", false},
		{"ds.cells", "", "ds", "cells", false},
		{"cells", "", "", "", true},
		{"a.b.c.d", "", "", "", true},
		{"proj..cells", "", "", "", true},
	}

	for _, c := range cases {
		p, d, tb, err := ParseTable(c.in)
		if (err != nil) != c.err {
			t.Fatalf("%q: unexpected error state %v", c.in, err)
		}
		if p != c.project || d != c.dataset || tb != c.table {
			t.Fatalf("%q: got %q %q %q", c.in, p, d, tb)
		}
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	if err != nil {
		t.Fatal(err)
	}

	types := make(map[string]bigquery.FieldType)
	required := make(map[string]bool)
	for _, f := range schema {
		types[f.Name] = f.Type
		required[f.Name] = f.Required
	}

	expected := map[string]bigquery.FieldType{
		"run_id":     bigquery.StringFieldType,
		"cell":       bigquery.StringFieldType,
		"cluster":    bigquery.IntegerFieldType,
		"relabelled": bigquery.StringFieldType,
		"batch":      bigquery.StringFieldType,
		"stage":      bigquery.StringFieldType,
		"label":      bigquery.StringFieldType,
		"tsne_1":     bigquery.FloatFieldType,
		"tsne_2":     bigquery.FloatFieldType,
		"pseudotime": bigquery.FloatFieldType,
	}
	for name, ft := range expected {
		if types[name] != ft {
			t.Errorf("Field %s: expected %v, got %v", name, ft, types[name])
		}
	}

	if !required["cell"] || required["stage"] {
		t.Errorf("Expected cell to be required and stage to be nullable")
	}
}

func TestNullString(t *testing.T) {
	if NullString("NA").Valid || NullString("").Valid {
		t.Fatalf("Expected NA and empty to be NULL")
	}
	if v := NullString("E7.5"); !v.Valid || v.StringVal != "E7.5" {
		t.Fatalf("Unexpected %v", v)
	}
}

func TestBatches(t *testing.T) {
	got := batches(1001, 500)
	want := [][2]int{{0, 500}, {500, 1000}, {1000, 1001}}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}

	if len(batches(0, 500)) != 0 {
		t.Fatalf("Expected no batches for no rows")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 404})) {
		t.Fatalf("Expected a 404 to be recognized")
	}
	if isNotFound(&googleapi.Error{Code: 403}) {
		t.Fatalf("Did not expect a 403 to be treated as not found")
	}
}
