package exprmatrix

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type locator struct {
	Offset int64
	Length int
}

// Index provides random access to individual gene rows of an uncompressed
// matrix file without loading the whole matrix. This is handy when plotting a
// handful of genes from a matrix with tens of thousands of rows.
type Index struct {
	file  *os.File
	delim rune
	cells []string
	genes map[string]locator
}

// NewIndex scans file once, recording the byte offset of every gene row.
func NewIndex(file *os.File, delim rune) (*Index, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	idx := &Index{
		file:  file,
		delim: delim,
		genes: make(map[string]locator),
	}

	var offset int64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, BufferSize), 1<<30)
	scanner.Split(scanLinesNondestructive)
	for line := 0; scanner.Scan(); line++ {
		b := scanner.Bytes()

		if line == 0 {
			header, err := idx.parse(b)
			if err != nil {
				return nil, fmt.Errorf("Header: %v", err)
			}
			if len(header) < 2 {
				return nil, fmt.Errorf("Matrix header has %d columns; expected a gene column and at least one cell", len(header))
			}
			idx.cells = header[1:]
		} else if gene := idx.firstField(b); gene != "" {
			if _, exists := idx.genes[gene]; exists {
				return nil, fmt.Errorf("Gene %q is present more than once", gene)
			}
			idx.genes[gene] = locator{Offset: offset, Length: len(b)}
		}

		offset += int64(len(b))
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return idx, nil
}

func (idx *Index) Cells() []string {
	return idx.cells
}

func (idx *Index) Len() int {
	return len(idx.genes)
}

func (idx *Index) Has(gene string) bool {
	_, ok := idx.genes[gene]
	return ok
}

// Expression reads one gene's row from disk.
func (idx *Index) Expression(gene string) ([]float64, error) {
	loc, ok := idx.genes[gene]
	if !ok {
		return nil, fmt.Errorf("Gene %q is not in the matrix", gene)
	}

	val := make([]byte, loc.Length)
	if _, err := idx.file.ReadAt(val, loc.Offset); err != nil {
		return nil, err
	}

	rec, err := idx.parse(val)
	if err != nil {
		return nil, err
	}
	if len(rec) != len(idx.cells)+1 {
		return nil, fmt.Errorf("Gene %q has %d values, expected %d", gene, len(rec)-1, len(idx.cells))
	}

	out := make([]float64, len(idx.cells))
	for i, v := range rec[1:] {
		out[i], err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("Gene %q, cell %s: %v", gene, idx.cells[i], err)
		}
	}

	return out, nil
}

func (idx *Index) parse(line []byte) ([]string, error) {
	csvr := csv.NewReader(bytes.NewReader(line))
	csvr.Comma = idx.delim

	rec, err := csvr.Read()
	if err != nil {
		return nil, err
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	return rec, nil
}

func (idx *Index) firstField(line []byte) string {
	line = bytes.TrimRight(line, "\r\n")
	if i := bytes.IndexRune(line, idx.delim); i >= 0 {
		line = line[:i]
	}

	return strings.Trim(strings.TrimSpace(string(line)), `"`)
}

// scanLinesNondestructive does not destroy the \n or the possible \r\n from a
// line. Otherwise it is like
// https://golang.org/src/bufio/scan.go?s=11522:11600#L330
func scanLinesNondestructive(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		// We have a full newline-terminated line.
		return i + 1, data[0 : i+1], nil
	}
	// If we're at EOF, we have a final, non-terminated line. Return it.
	if atEOF {
		return len(data), data, nil
	}
	// Request more data.
	return 0, nil, nil
}
