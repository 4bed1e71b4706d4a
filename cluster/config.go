// Package cluster partitions cells into k groups. It follows the SIMLR recipe:
// learn a cell-cell similarity as a weighted combination of Gaussian kernels
// at several neighborhood sizes and scales, then run spectral clustering on
// that similarity. The eigenvalues of the same similarity drive the choice of
// k.
package cluster

import "fmt"

type Config struct {
	K int

	// Neighborhood sizes used to set each cell's kernel bandwidth
	Neighbors []int

	// Bandwidth multipliers
	Scales []float64

	// Kernel weight learning iterations
	Iterations int

	// Sharpness of the kernel weight update; smaller values concentrate the
	// weight on fewer kernels
	Rho float64

	Seed     int64
	Restarts int
}

func DefaultConfig(k int) Config {
	return Config{
		K:          k,
		Neighbors:  []int{10, 20, 30},
		Scales:     []float64{1, 1.25, 1.5, 1.75, 2},
		Iterations: 5,
		Rho:        0.1,
		Seed:       1,
		Restarts:   10,
	}
}

func (c Config) validate(n int) error {
	if len(c.Neighbors) == 0 || len(c.Scales) == 0 {
		return fmt.Errorf("At least one neighborhood size and one scale are required")
	}
	for _, v := range c.Neighbors {
		if v < 1 {
			return fmt.Errorf("Neighborhood sizes must be positive, got %d", v)
		}
	}
	for _, v := range c.Scales {
		if v <= 0 {
			return fmt.Errorf("Scales must be positive, got %f", v)
		}
	}
	if n < 3 {
		return fmt.Errorf("Clustering needs at least 3 cells, got %d", n)
	}

	return nil
}

func validateK(k, n int) error {
	if k < 2 {
		return fmt.Errorf("k must be at least 2, got %d", k)
	}
	if k >= n {
		return fmt.Errorf("k (%d) must be smaller than the number of cells (%d)", k, n)
	}

	return nil
}
