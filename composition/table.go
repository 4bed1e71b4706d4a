// Package composition summarizes how cells are distributed across clusters,
// cell types, stages and batches, and scores clusters against ground truth.
package composition

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
)

// Table is a contingency table of counts.
type Table struct {
	Rows   []string
	Cols   []string
	Counts [][]int
}

// CrossTab counts co-occurrences of row and column values. Rows and columns
// are sorted with integer labels in numeric order; use SortRows or SortCols
// to impose another order.
func CrossTab(rows, cols []string) (*Table, error) {
	if len(rows) != len(cols) {
		return nil, fmt.Errorf("Got %d row values but %d column values", len(rows), len(cols))
	}

	rowIdx := distinct(rows)
	colIdx := distinct(cols)

	t := &Table{
		Rows:   keys(rowIdx),
		Cols:   keys(colIdx),
		Counts: make([][]int, len(rowIdx)),
	}
	for i := range t.Counts {
		t.Counts[i] = make([]int, len(colIdx))
	}

	rPos := positions(t.Rows)
	cPos := positions(t.Cols)
	for i := range rows {
		t.Counts[rPos[rows[i]]][cPos[cols[i]]]++
	}

	return t, nil
}

// IntStrings renders integer labels as strings, e.g. cluster assignments.
func IntStrings(v []int) []string {
	out := make([]string, len(v))
	for i, x := range v {
		out[i] = strconv.Itoa(x)
	}

	return out
}

func distinct(v []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, x := range v {
		out[x] = struct{}{}
	}

	return out
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return naturalLess(out[i], out[j]) })

	return out
}

// naturalLess sorts integer-looking strings numerically so that cluster "10"
// follows cluster "9".
func naturalLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	if (aErr == nil) != (bErr == nil) {
		return aErr == nil
	}

	return a < b
}

func positions(v []string) map[string]int {
	out := make(map[string]int, len(v))
	for i, x := range v {
		out[x] = i
	}

	return out
}

// SortRows reorders the rows with the given comparison.
func (t *Table) SortRows(less func(a, b string) bool) {
	idx := make([]int, len(t.Rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return less(t.Rows[idx[i]], t.Rows[idx[j]]) })

	rows := make([]string, len(idx))
	counts := make([][]int, len(idx))
	for i, k := range idx {
		rows[i] = t.Rows[k]
		counts[i] = t.Counts[k]
	}
	t.Rows, t.Counts = rows, counts
}

// SortCols reorders the columns with the given comparison.
func (t *Table) SortCols(less func(a, b string) bool) {
	idx := make([]int, len(t.Cols))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return less(t.Cols[idx[i]], t.Cols[idx[j]]) })

	cols := make([]string, len(idx))
	for i, k := range idx {
		cols[i] = t.Cols[k]
	}
	for r, row := range t.Counts {
		newRow := make([]int, len(idx))
		for i, k := range idx {
			newRow[i] = row[k]
		}
		t.Counts[r] = newRow
	}
	t.Cols = cols
}

func (t *Table) RowTotals() []int {
	out := make([]int, len(t.Rows))
	for i, row := range t.Counts {
		for _, v := range row {
			out[i] += v
		}
	}

	return out
}

func (t *Table) ColTotals() []int {
	out := make([]int, len(t.Cols))
	for _, row := range t.Counts {
		for j, v := range row {
			out[j] += v
		}
	}

	return out
}

func (t *Table) Total() int {
	n := 0
	for _, v := range t.RowTotals() {
		n += v
	}

	return n
}

// RowProportions divides each row by its total, so each row sums to 1.
func (t *Table) RowProportions() [][]float64 {
	totals := t.RowTotals()
	out := make([][]float64, len(t.Rows))
	for i, row := range t.Counts {
		out[i] = make([]float64, len(row))
		if totals[i] == 0 {
			continue
		}
		for j, v := range row {
			out[i][j] = float64(v) / float64(totals[i])
		}
	}

	return out
}

// ColProportions divides each column by its total, so each column sums to 1.
func (t *Table) ColProportions() [][]float64 {
	totals := t.ColTotals()
	out := make([][]float64, len(t.Rows))
	for i, row := range t.Counts {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			if totals[j] > 0 {
				out[i][j] = float64(v) / float64(totals[j])
			}
		}
	}

	return out
}

// Write emits a tab-delimited table with counts, followed by the row
// proportions, one line per (row, column) pair.
func (t *Table) Write(w io.Writer, rowName, colName string) error {
	bw := bufio.NewWriter(w)

	props := t.RowProportions()
	fmt.Fprintf(bw, "%s\t%s\tcount\tfraction_of_%s\n", rowName, colName, rowName)
	for i, r := range t.Rows {
		for j, c := range t.Cols {
			fmt.Fprintf(bw, "%s\t%s\t%d\t%.6f\n", r, c, t.Counts[i][j], props[i][j])
		}
	}

	return bw.Flush()
}

// String renders the counts as a wide table, for logging.
func (t *Table) String() string {
	var sb strings.Builder
	sb.WriteString("\t" + strings.Join(t.Cols, "\t") + "\n")
	for i, r := range t.Rows {
		sb.WriteString(r)
		for _, v := range t.Counts[i] {
			sb.WriteString("\t" + strconv.Itoa(v))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

type RowSummary struct {
	Row             string
	Total           int
	Dominant        string
	DominantPct     float64
	MedianColCount  float64
	MeanColCount    float64
	NonEmptyColumns int
}

// Summarize describes each row: its size, its most common column value and
// how spread out it is.
func Summarize(t *Table) ([]RowSummary, error) {
	totals := t.RowTotals()
	props := t.RowProportions()

	out := make([]RowSummary, 0, len(t.Rows))
	for i, r := range t.Rows {
		s := RowSummary{Row: r, Total: totals[i]}

		counts := make(stats.Float64Data, 0, len(t.Cols))
		for j, v := range t.Counts[i] {
			counts = append(counts, float64(v))
			if v > 0 {
				s.NonEmptyColumns++
			}
			if props[i][j] > s.DominantPct {
				s.Dominant = t.Cols[j]
				s.DominantPct = props[i][j]
			}
		}

		median, err := stats.Median(counts)
		if err != nil {
			return nil, err
		}
		s.MedianColCount = median

		mean, err := stats.Mean(counts)
		if err != nil {
			return nil, err
		}
		s.MeanColCount = mean

		out = append(out, s)
	}

	return out, nil
}
