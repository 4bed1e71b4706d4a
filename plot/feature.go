package plot

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/carbocation/pfx"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/mat"
)

const (
	FeatureSize   = 500
	featureMargin = 30
	featureDot    = 2.5
)

// FeaturePlot colors each embedded cell on a grey to red gradient by its
// value. Higher values are drawn last so they are not hidden under
// non-expressing cells.
func FeaturePlot(path string, emb *mat.Dense, values []float64, title string) error {
	n, d := emb.Dims()
	if d < 2 {
		return fmt.Errorf("Need at least 2 embedding dimensions, got %d", d)
	}
	if len(values) != n {
		return fmt.Errorf("Got %d values for %d points", len(values), n)
	}

	xr := paddedRange(mat.Col(nil, 0, emb))
	yr := paddedRange(mat.Col(nil, 1, emb))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	span := float64(FeatureSize - 2*featureMargin)
	dc := gg.NewContext(FeatureSize, FeatureSize)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for _, i := range order {
		f := 0.0
		if hi > lo {
			f = (values[i] - lo) / (hi - lo)
		}
		px := featureMargin + span*(emb.At(i, 0)-xr.Min)/(xr.Max-xr.Min)
		// Image y grows downward.
		py := featureMargin + span*(yr.Max-emb.At(i, 1))/(yr.Max-yr.Min)

		dc.DrawCircle(px, py, featureDot)
		dc.SetRGB(gradient(f))
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, FeatureSize/2, featureMargin/2, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3g - %.3g", lo, hi), FeatureSize-featureMargin, FeatureSize-featureMargin/2, 1, 0.5)

	if err := dc.SavePNG(path); err != nil {
		return pfx.Err(err)
	}

	return nil
}

// Montage tiles the images at paths into a grid with the given number of
// columns. Tiles are fitted to the size of the largest input.
func Montage(paths []string, columns int, out string) error {
	if len(paths) == 0 {
		return fmt.Errorf("No images to tile")
	}
	if columns < 1 {
		return fmt.Errorf("Columns must be positive, got %d", columns)
	}
	if columns > len(paths) {
		columns = len(paths)
	}

	imgs := make([]image.Image, 0, len(paths))
	tileW, tileH := 0, 0
	for _, path := range paths {
		img, err := imaging.Open(path)
		if err != nil {
			return pfx.Err(fmt.Errorf("%s: %w", path, err))
		}
		imgs = append(imgs, img)
		if b := img.Bounds(); b.Dx() > tileW {
			tileW = b.Dx()
		}
		if b := img.Bounds(); b.Dy() > tileH {
			tileH = b.Dy()
		}
	}

	rows := (len(imgs) + columns - 1) / columns
	canvas := imaging.New(columns*tileW, rows*tileH, color.White)
	for i, img := range imgs {
		if b := img.Bounds(); b.Dx() != tileW || b.Dy() != tileH {
			img = imaging.Fit(img, tileW, tileH, imaging.Lanczos)
		}
		canvas = imaging.Paste(canvas, img, image.Pt((i%columns)*tileW, (i/columns)*tileH))
	}

	if err := imaging.Save(canvas, out); err != nil {
		return pfx.Err(err)
	}

	return nil
}
