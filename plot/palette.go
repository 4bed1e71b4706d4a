// Package plot renders embeddings, expression, composition and k selection
// charts as PNG files, plus text histograms for the terminal.
package plot

import (
	"math"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

var basePalette = []drawing.Color{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
	{R: 227, G: 119, B: 194, A: 255},
	{R: 127, G: 127, B: 127, A: 255},
	{R: 188, G: 189, B: 34, A: 255},
	{R: 23, G: 190, B: 207, A: 255},
}

// Palette returns n categorical colors. The first ten are fixed; beyond that,
// hues are spaced around the color wheel.
func Palette(n int) []drawing.Color {
	out := make([]drawing.Color, 0, n)
	for i := 0; i < n && i < len(basePalette); i++ {
		out = append(out, basePalette[i])
	}

	extra := n - len(out)
	for i := 0; i < extra; i++ {
		hue := 360 * float64(i) / float64(extra)
		out = append(out, hsv(hue, 0.55, 0.8))
	}

	return out
}

func hsv(h, s, v float64) drawing.Color {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return drawing.Color{
		R: uint8(math.Round(255 * (r + m))),
		G: uint8(math.Round(255 * (g + m))),
		B: uint8(math.Round(255 * (b + m))),
		A: 255,
	}
}

// gradient maps f in [0,1] from light grey to dark red.
func gradient(f float64) (r, g, b float64) {
	f = math.Max(0, math.Min(1, f))
	return 0.85 - 0.05*f, 0.85 * (1 - f), 0.85 * (1 - f)
}
