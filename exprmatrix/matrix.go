// Package exprmatrix holds a genes x cells expression matrix, typically
// log-normalized or batch-corrected counts from a pre-merged experiment.
package exprmatrix

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/scrnaseq"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const BufferSize = 4096 * 8

// Matrix rows are genes and columns are cells.
type Matrix struct {
	Genes []string
	Cells []string
	Data  *mat.Dense

	geneIdx map[string]int
	cellIdx map[string]int
}

// New builds a matrix from gene names, cell identifiers and a genes x cells
// dense matrix.
func New(genes, cells []string, data *mat.Dense) (*Matrix, error) {
	r, c := data.Dims()
	if r != len(genes) || c != len(cells) {
		return nil, fmt.Errorf("Data is %dx%d, but got %d genes and %d cells", r, c, len(genes), len(cells))
	}

	m := &Matrix{Genes: genes, Cells: cells, Data: data}
	if err := m.reindex(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Matrix) reindex() error {
	m.geneIdx = make(map[string]int, len(m.Genes))
	for i, g := range m.Genes {
		if _, exists := m.geneIdx[g]; exists {
			return fmt.Errorf("Gene %q is present more than once", g)
		}
		m.geneIdx[g] = i
	}

	m.cellIdx = make(map[string]int, len(m.Cells))
	for i, c := range m.Cells {
		if _, exists := m.cellIdx[c]; exists {
			return fmt.Errorf("Cell %q is present more than once", c)
		}
		m.cellIdx[c] = i
	}

	return nil
}

// Read parses a delimited matrix. The first row holds a corner label followed
// by cell identifiers; each following row holds a gene name followed by one
// value per cell.
func Read(r io.Reader, delim rune) (*Matrix, error) {
	cr := csv.NewReader(bufio.NewReaderSize(r, BufferSize))
	cr.Comma = delim
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("Matrix has no header")
	} else if err != nil {
		return nil, pfx.Err(err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("Matrix header has %d columns; expected a gene column and at least one cell", len(header))
	}

	cells := make([]string, len(header)-1)
	for i, v := range header[1:] {
		cells[i] = strings.TrimSpace(v)
	}

	genes := make([]string, 0)
	values := make([]float64, 0)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		genes = append(genes, strings.TrimSpace(rec[0]))
		for j, v := range rec[1:] {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("Line %d, cell %s: %v", line, cells[j], err)
			}
			values = append(values, f)
		}
	}

	if len(genes) == 0 {
		return nil, fmt.Errorf("Matrix has no genes")
	}

	return New(genes, cells, mat.NewDense(len(genes), len(cells), values))
}

// ReadFile reads a matrix from a local or gs:// path, decompressing and
// detecting the delimiter as needed. The client may be nil for local files.
func ReadFile(ctx context.Context, path string, client *storage.Client) (*Matrix, error) {
	rdr, delim, err := scrnaseq.OpenDecompressed(ctx, path, client)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()

	m, err := Read(rdr, delim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return m, nil
}

// Write emits the matrix in the same layout that Read expects.
func (m *Matrix) Write(w io.Writer, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim

	if err := cw.Write(append([]string{"gene"}, m.Cells...)); err != nil {
		return err
	}

	row := make([]string, len(m.Cells)+1)
	for i, g := range m.Genes {
		row[0] = g
		for j := range m.Cells {
			row[j+1] = strconv.FormatFloat(m.Data.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func (m *Matrix) GeneIndex(gene string) (int, bool) {
	i, ok := m.geneIdx[gene]
	return i, ok
}

func (m *Matrix) CellIndex(cell string) (int, bool) {
	i, ok := m.cellIdx[cell]
	return i, ok
}

// Expression returns a copy of one gene's values, one per cell.
func (m *Matrix) Expression(gene string) ([]float64, error) {
	i, ok := m.geneIdx[gene]
	if !ok {
		return nil, fmt.Errorf("Gene %q is not in the matrix", gene)
	}

	return mat.Row(nil, i, m.Data), nil
}

// SubsetCells returns a new matrix with only the cells at the given column
// indexes, in that order.
func (m *Matrix) SubsetCells(idx []int) (*Matrix, error) {
	if len(idx) == 0 {
		return nil, fmt.Errorf("No cells were selected")
	}

	nGenes := len(m.Genes)
	data := mat.NewDense(nGenes, len(idx), nil)
	cells := make([]string, len(idx))
	for j, c := range idx {
		if c < 0 || c >= len(m.Cells) {
			return nil, fmt.Errorf("Cell index %d out of range", c)
		}
		cells[j] = m.Cells[c]
		for i := 0; i < nGenes; i++ {
			data.Set(i, j, m.Data.At(i, c))
		}
	}

	return New(append([]string(nil), m.Genes...), cells, data)
}

// SubsetGenes returns a new matrix with only the genes at the given row
// indexes, in that order.
func (m *Matrix) SubsetGenes(idx []int) (*Matrix, error) {
	if len(idx) == 0 {
		return nil, fmt.Errorf("No genes were selected")
	}

	data := mat.NewDense(len(idx), len(m.Cells), nil)
	genes := make([]string, len(idx))
	for i, g := range idx {
		if g < 0 || g >= len(m.Genes) {
			return nil, fmt.Errorf("Gene index %d out of range", g)
		}
		genes[i] = m.Genes[g]
		data.SetRow(i, m.Data.RawRowView(g))
	}

	return New(genes, append([]string(nil), m.Cells...), data)
}

// LogNormalize scales each cell to a total of scale and applies log1p. Use it
// only on raw counts.
func (m *Matrix) LogNormalize(scale float64) error {
	nGenes, nCells := m.Data.Dims()
	for j := 0; j < nCells; j++ {
		total := 0.0
		for i := 0; i < nGenes; i++ {
			v := m.Data.At(i, j)
			if v < 0 {
				return fmt.Errorf("Cell %s has a negative count for gene %s; is it already normalized?", m.Cells[j], m.Genes[i])
			}
			total += v
		}
		if total == 0 {
			continue
		}
		for i := 0; i < nGenes; i++ {
			m.Data.Set(i, j, math.Log1p(m.Data.At(i, j)*scale/total))
		}
	}

	return nil
}

// TopVariableGenes returns the row indexes of the n genes with the greatest
// variance across cells. Ties keep matrix order.
func (m *Matrix) TopVariableGenes(n int) []int {
	nGenes, _ := m.Data.Dims()
	if n <= 0 || n > nGenes {
		n = nGenes
	}

	variances := make([]float64, nGenes)
	for i := 0; i < nGenes; i++ {
		_, variances[i] = stat.MeanVariance(m.Data.RawRowView(i), nil)
	}

	idx := make([]int, nGenes)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return variances[idx[a]] > variances[idx[b]] })

	out := append([]int(nil), idx[:n]...)
	sort.Ints(out)

	return out
}

// CellsByFeatures returns a cells x genes observation matrix restricted to the
// given gene rows. This is the orientation the clustering and reduction code
// expects.
func (m *Matrix) CellsByFeatures(genes []int) *mat.Dense {
	_, nCells := m.Data.Dims()
	out := mat.NewDense(nCells, len(genes), nil)
	for k, g := range genes {
		out.SetCol(k, m.Data.RawRowView(g))
	}

	return out
}
