package reduce

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// blobs returns nPer points around each center with a small amount of noise.
func blobs(centers [][]float64, nPer int, sd float64, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	d := len(centers[0])
	x := mat.NewDense(len(centers)*nPer, d, nil)
	labels := make([]int, 0, len(centers)*nPer)
	for c, center := range centers {
		for k := 0; k < nPer; k++ {
			row := c*nPer + k
			for j := 0; j < d; j++ {
				x.Set(row, j, center[j]+rng.NormFloat64()*sd)
			}
			labels = append(labels, c)
		}
	}

	return x, labels
}

func TestPairwiseSquaredDistances(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		0, 0,
		3, 4,
		1, 1,
	})

	D := PairwiseSquaredDistances(x)
	for _, v := range []struct {
		I, J     int
		Expected float64
	}{
		{0, 1, 25},
		{1, 0, 25},
		{0, 2, 2},
		{1, 2, 13},
		{2, 2, 0},
	} {
		if got := D.At(v.I, v.J); got != v.Expected {
			t.Errorf("D[%d,%d]: expected %f, got %f", v.I, v.J, v.Expected, got)
		}
	}
}

func TestPCA(t *testing.T) {
	// Points along a line with a little orthogonal jitter: the first
	// component should carry nearly all of the variance.
	rng := rand.New(rand.NewSource(7))
	x := mat.NewDense(50, 3, nil)
	for i := 0; i < 50; i++ {
		s := float64(i)
		x.Set(i, 0, s+rng.NormFloat64()*0.01)
		x.Set(i, 1, 2*s+rng.NormFloat64()*0.01)
		x.Set(i, 2, rng.NormFloat64()*0.01)
	}

	scores, explained, err := PCA(x, 2)
	if err != nil {
		t.Fatal(err)
	}

	if r, c := scores.Dims(); r != 50 || c != 2 {
		t.Fatalf("Expected 50x2 scores, got %dx%d", r, c)
	}
	if explained[0] < 0.99 {
		t.Errorf("Expected the first component to explain >99%% of variance, got %f", explained[0])
	}

	// Scores are centered
	sum := 0.0
	for i := 0; i < 50; i++ {
		sum += scores.At(i, 0)
	}
	if math.Abs(sum) > 1e-8 {
		t.Errorf("Expected centered scores, got sum %f", sum)
	}

	if _, _, err := PCA(mat.NewDense(1, 3, nil), 2); err == nil {
		t.Error("Expected an error for a single observation")
	}
}

func TestTSNESeparatesBlobs(t *testing.T) {
	x, labels := blobs([][]float64{
		{0, 0, 0, 0},
		{10, 10, 0, 0},
		{0, 0, 10, 10},
	}, 15, 0.5, 3)

	cfg := DefaultTSNEConfig()
	cfg.Perplexity = 5
	cfg.Iterations = 300
	cfg.ExaggerationIters = 100

	emb, err := NewTSNE(cfg).Embed(x)
	if err != nil {
		t.Fatal(err)
	}

	D := PairwiseSquaredDistances(emb)
	var within, between float64
	var nWithin, nBetween int
	for i := range labels {
		for j := i + 1; j < len(labels); j++ {
			if labels[i] == labels[j] {
				within += math.Sqrt(D.At(i, j))
				nWithin++
			} else {
				between += math.Sqrt(D.At(i, j))
				nBetween++
			}
		}
	}
	within /= float64(nWithin)
	between /= float64(nBetween)

	if within*2 > between {
		t.Errorf("Expected blobs to separate: mean within %f, mean between %f", within, between)
	}
}

func TestTSNEDeterministic(t *testing.T) {
	x, _ := blobs([][]float64{{0, 0}, {5, 5}}, 10, 1, 11)

	cfg := DefaultTSNEConfig()
	cfg.Perplexity = 3
	cfg.Iterations = 50

	a, err := NewTSNE(cfg).Embed(x)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewTSNE(cfg).Embed(x)
	if err != nil {
		t.Fatal(err)
	}

	if !mat.Equal(a, b) {
		t.Error("Expected identical embeddings for the same seed")
	}
}

func TestTSNEPerplexityTooLarge(t *testing.T) {
	x, _ := blobs([][]float64{{0, 0}}, 16, 1, 1)

	cases := []struct {
		perplexity float64
		wantErr    bool
	}{
		{30, true},
		{5, true}, // exactly (16-1)/3
		{0, true},
		{4.9, false},
	}

	for _, c := range cases {
		cfg := DefaultTSNEConfig()
		cfg.Perplexity = c.perplexity
		cfg.Iterations = 20
		_, err := NewTSNE(cfg).Embed(x)
		if (err != nil) != c.wantErr {
			t.Errorf("Perplexity %.1f with 16 points: expected error %v, got %v", c.perplexity, c.wantErr, err)
		}
	}
}
