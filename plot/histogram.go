package plot

import (
	"fmt"
	"io"

	"github.com/aybabtme/uniplot/histogram"
)

// TerminalHistogram prints a text histogram of values, scaled to a bar width
// of 40 characters.
func TerminalHistogram(w io.Writer, values []float64, bins int) error {
	if len(values) == 0 {
		return fmt.Errorf("No values to summarize")
	}
	if bins < 1 {
		return fmt.Errorf("Bins must be positive, got %d", bins)
	}

	hist := histogram.Hist(bins, values)

	return histogram.Fprint(w, hist, histogram.Linear(40))
}
