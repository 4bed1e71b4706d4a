// Package cellmeta holds per-cell metadata: the batch a cell came from, its
// developmental stage (parsed from the cell identifier) and an optional
// ground-truth cell type label used only for evaluation.
package cellmeta

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/guregu/null.v3"
)

const Missing = "NA"

type Cell struct {
	ID    string
	Batch string
	Stage null.String
	Label null.String
}

// IDLayout describes how to pull metadata out of a cell identifier such as
// "E10.5_batch2_AACGTT". Field indexes below zero disable that column. If
// StagePattern is set, it is matched against the whole identifier and wins over
// StageField; its first submatch is used if it has one.
type IDLayout struct {
	Separator    string
	BatchField   int
	StageField   int
	StagePattern *regexp.Regexp
}

func DefaultIDLayout() IDLayout {
	return IDLayout{
		Separator:  "_",
		BatchField: 1,
		StageField: 0,
	}
}

func ParseIdentifier(id string, layout IDLayout) Cell {
	out := Cell{ID: id}

	var parts []string
	if layout.Separator != "" {
		parts = strings.Split(id, layout.Separator)
	} else {
		parts = []string{id}
	}

	if layout.BatchField >= 0 && layout.BatchField < len(parts) {
		out.Batch = parts[layout.BatchField]
	}

	if layout.StagePattern != nil {
		if match := layout.StagePattern.FindStringSubmatch(id); match != nil {
			stage := match[0]
			if len(match) > 1 {
				stage = match[1]
			}
			out.Stage = null.StringFrom(stage)
		}
	} else if layout.StageField >= 0 && layout.StageField < len(parts) && parts[layout.StageField] != "" {
		out.Stage = null.StringFrom(parts[layout.StageField])
	}

	return out
}

type Table struct {
	Cells []Cell

	idx map[string]int
}

func FromIdentifiers(ids []string, layout IDLayout) *Table {
	t := &Table{
		Cells: make([]Cell, 0, len(ids)),
		idx:   make(map[string]int, len(ids)),
	}

	for i, id := range ids {
		t.Cells = append(t.Cells, ParseIdentifier(id, layout))
		t.idx[id] = i
	}

	return t
}

func (t *Table) Len() int {
	return len(t.Cells)
}

func (t *Table) Lookup(id string) (Cell, bool) {
	i, ok := t.idx[id]
	if !ok {
		return Cell{}, false
	}

	return t.Cells[i], true
}

// AttachLabels sets the ground-truth label on every cell found in labels and
// returns how many cells matched.
func (t *Table) AttachLabels(labels map[string]string) int {
	matched := 0
	for i, c := range t.Cells {
		if label, exists := labels[c.ID]; exists && label != "" && label != Missing {
			t.Cells[i].Label = null.StringFrom(label)
			matched++
		}
	}

	return matched
}

// HasLabels reports whether any cell carries a ground-truth label.
func (t *Table) HasLabels() bool {
	for _, c := range t.Cells {
		if c.Label.Valid {
			return true
		}
	}

	return false
}

// Remap rewrites values of the named column. Values absent from mapping are
// left unchanged. This is how labels that were spelled differently across
// batches get reconciled.
func (t *Table) Remap(column string, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}

	for i, c := range t.Cells {
		switch column {
		case "batch":
			if v, ok := mapping[c.Batch]; ok {
				t.Cells[i].Batch = v
			}
		case "stage":
			if v, ok := mapping[c.Stage.String]; ok && c.Stage.Valid {
				t.Cells[i].Stage = null.StringFrom(v)
			}
		case "label":
			if v, ok := mapping[c.Label.String]; ok && c.Label.Valid {
				t.Cells[i].Label = null.StringFrom(v)
			}
		default:
			return fmt.Errorf("Unknown column %q; expected batch, stage or label", column)
		}
	}

	return nil
}

// Column returns one value per cell. Missing values are rendered as NA.
func (t *Table) Column(name string) ([]string, error) {
	out := make([]string, 0, len(t.Cells))
	for _, c := range t.Cells {
		switch name {
		case "batch":
			if c.Batch == "" {
				out = append(out, Missing)
			} else {
				out = append(out, c.Batch)
			}
		case "stage":
			out = append(out, NullStringFormatter(c.Stage))
		case "label":
			out = append(out, NullStringFormatter(c.Label))
		default:
			return nil, fmt.Errorf("Unknown column %q; expected batch, stage or label", name)
		}
	}

	return out, nil
}

func NullStringFormatter(n null.String) string {
	if !n.Valid {
		return Missing
	}

	return n.String
}
