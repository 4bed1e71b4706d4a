package plot

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/carbocation/scrnaseq/cellmeta"
	"github.com/carbocation/scrnaseq/cluster"
	"github.com/carbocation/scrnaseq/composition"
	"github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/mat"
)

const (
	Width  = 900
	Height = 700
)

// paddedRange returns a range covering v with 5% headroom on each side, and
// never zero width.
func paddedRange(v []float64) *chart.ContinuousRange {
	min, max := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		min = math.Min(min, x)
		max = math.Max(max, x)
	}
	if math.IsInf(min, 0) {
		min, max = 0, 1
	}

	pad := 0.05 * (max - min)
	if pad == 0 {
		pad = 0.5
	}

	return &chart.ContinuousRange{Min: min - pad, Max: max + pad}
}

// render writes a chart PNG through a buffer so that a failed render leaves w
// untouched.
func render(w io.Writer, r interface {
	Render(chart.RendererProvider, io.Writer) error
}) error {
	buffer := bytes.NewBuffer([]byte{})
	if err := r.Render(chart.PNG, buffer); err != nil {
		return err
	}

	_, err := buffer.WriteTo(w)
	return err
}

// Scatter draws the first two columns of emb, one colored series per group,
// with a legend.
func Scatter(w io.Writer, emb *mat.Dense, groups []string, title string) error {
	n, d := emb.Dims()
	if d < 2 {
		return fmt.Errorf("Need at least 2 embedding dimensions, got %d", d)
	}
	if len(groups) != n {
		return fmt.Errorf("Got %d groups for %d points", len(groups), n)
	}

	members := make(map[string][]int)
	for i, g := range groups {
		members[g] = append(members[g], i)
	}
	names := make([]string, 0, len(members))
	for g := range members {
		names = append(names, g)
	}
	sort.Slice(names, func(i, j int) bool { return cellmeta.StageLess(names[i], names[j]) })

	colors := Palette(len(names))
	series := make([]chart.Series, 0, len(names))
	for i, g := range names {
		xs := make([]float64, 0, len(members[g]))
		ys := make([]float64, 0, len(members[g]))
		for _, row := range members[g] {
			xs = append(xs, emb.At(row, 0))
			ys = append(ys, emb.At(row, 1))
		}

		series = append(series, chart.ContinuousSeries{
			Name: fmt.Sprintf("%s (%d)", g, len(xs)),
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    3,
				DotColor:    colors[i],
			},
			XValues: xs,
			YValues: ys,
		})
	}

	graph := chart.Chart{
		Title:  title,
		Width:  Width,
		Height: Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "tSNE_1",
			Range: paddedRange(mat.Col(nil, 0, emb)),
		},
		YAxis: chart.YAxis{
			Name:  "tSNE_2",
			Range: paddedRange(mat.Col(nil, 1, emb)),
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return render(w, graph)
}

// StackedProportions draws one bar per table row, split by the row's column
// proportions.
func StackedProportions(w io.Writer, t *composition.Table, title string) error {
	if len(t.Rows) == 0 || len(t.Cols) == 0 {
		return fmt.Errorf("Cannot plot an empty table")
	}

	props := t.RowProportions()
	colors := Palette(len(t.Cols))

	bars := make([]chart.StackedBar, 0, len(t.Rows))
	for i, row := range t.Rows {
		values := make([]chart.Value, 0, len(t.Cols))
		for j, col := range t.Cols {
			if props[i][j] == 0 {
				continue
			}
			values = append(values, chart.Value{
				Label: col,
				Value: props[i][j],
				Style: chart.Style{
					FillColor:   colors[j],
					StrokeColor: colors[j],
					StrokeWidth: 1,
				},
			})
		}
		if len(values) == 0 {
			continue
		}
		bars = append(bars, chart.StackedBar{
			Name:   row,
			Values: values,
		})
	}

	graph := chart.StackedBarChart{
		Title:  title,
		Width:  Width,
		Height: Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		BarSpacing: 20,
		Bars:       bars,
	}

	return render(w, graph)
}

// KSelection plots the eigengap (left axis) and silhouette (right axis) of
// each candidate k.
func KSelection(w io.Writer, scores []cluster.KScore) error {
	if len(scores) < 2 {
		return fmt.Errorf("Need at least 2 candidate k values to plot, got %d", len(scores))
	}

	ks := make([]float64, len(scores))
	gaps := make([]float64, len(scores))
	sils := make([]float64, len(scores))
	for i, s := range scores {
		ks[i] = float64(s.K)
		gaps[i] = s.Eigengap
		sils[i] = s.Silhouette
	}

	graph := chart.Chart{
		Title:  "Choice of k",
		Width:  Width,
		Height: Height / 2,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "k",
			Range: paddedRange(ks),
		},
		YAxis: chart.YAxis{
			Name:  "Eigengap",
			Range: paddedRange(gaps),
		},
		YAxisSecondary: chart.YAxis{
			Name:  "Silhouette",
			Range: paddedRange(sils),
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name: "Eigengap",
				Style: chart.Style{
					StrokeColor: basePalette[0],
					DotColor:    basePalette[0],
					DotWidth:    4,
				},
				XValues: ks,
				YValues: gaps,
			},
			chart.ContinuousSeries{
				Name:  "Silhouette",
				YAxis: chart.YAxisSecondary,
				Style: chart.Style{
					StrokeColor: basePalette[1],
					DotColor:    basePalette[1],
					DotWidth:    4,
				},
				XValues: ks,
				YValues: sils,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return render(w, graph)
}
