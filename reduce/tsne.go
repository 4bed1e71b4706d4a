package reduce

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/mat"
)

type TSNEConfig struct {
	Dims              int
	Perplexity        float64
	LearningRate      float64
	Iterations        int
	EarlyExaggeration float64
	ExaggerationIters int
	Seed              int64

	// If non-zero, progress is logged every LogEvery iterations
	LogEvery int
}

func DefaultTSNEConfig() TSNEConfig {
	return TSNEConfig{
		Dims:              2,
		Perplexity:        30,
		LearningRate:      200,
		Iterations:        1000,
		EarlyExaggeration: 12,
		ExaggerationIters: 250,
		Seed:              1,
	}
}

// TSNE is an exact (O(n^2)) t-distributed stochastic neighbor embedding. It
// is deterministic for a fixed seed.
type TSNE struct {
	Config TSNEConfig

	// Kullback-Leibler divergence of the final embedding
	KL float64
}

func NewTSNE(cfg TSNEConfig) *TSNE {
	return &TSNE{Config: cfg}
}

const (
	tsneMinGain     = 0.01
	tsneMinProb     = 1e-12
	tsneMomentum    = 0.5
	tsneEndMomentum = 0.8
	tsneBetaTol     = 1e-5
	tsneBetaSteps   = 200
)

// Embed returns an n x Dims embedding of the rows of x.
func (t *TSNE) Embed(x *mat.Dense) (*mat.Dense, error) {
	cfg := t.Config
	n, _ := x.Dims()

	if cfg.Dims < 1 {
		return nil, fmt.Errorf("t-SNE needs at least 1 output dimension, got %d", cfg.Dims)
	}
	if n < 2 {
		return nil, fmt.Errorf("t-SNE needs at least 2 observations, got %d", n)
	}
	if cfg.Perplexity <= 0 {
		return nil, fmt.Errorf("Perplexity must be positive, got %.1f", cfg.Perplexity)
	}
	if 3*cfg.Perplexity >= float64(n-1) {
		return nil, fmt.Errorf("Perplexity %.1f is too large for %d observations (must be < (n-1)/3)", cfg.Perplexity, n)
	}
	if cfg.Iterations < 1 {
		return nil, fmt.Errorf("t-SNE needs at least 1 iteration")
	}

	P := jointProbabilities(PairwiseSquaredDistances(x), cfg.Perplexity)

	rng := rand.New(rand.NewSource(cfg.Seed))
	dims := cfg.Dims
	Y := make([]float64, n*dims)
	for i := range Y {
		Y[i] = rng.NormFloat64() * 1e-4
	}

	update := make([]float64, n*dims)
	gains := make([]float64, n*dims)
	for i := range gains {
		gains[i] = 1
	}
	grad := make([]float64, n*dims)
	num := make([]float64, n*n)

	for iter := 0; iter < cfg.Iterations; iter++ {
		exaggeration := 1.0
		momentum := tsneEndMomentum
		if iter < cfg.ExaggerationIters {
			exaggeration = cfg.EarlyExaggeration
			momentum = tsneMomentum
		}

		sumQ := studentT(Y, n, dims, num)

		parallel.Range(0, n, 0, func(low, high int) {
			for i := low; i < high; i++ {
				gi := grad[i*dims : (i+1)*dims]
				for d := range gi {
					gi[d] = 0
				}
				yi := Y[i*dims : (i+1)*dims]
				for j := 0; j < n; j++ {
					if i == j {
						continue
					}
					q := num[i*n+j]
					mult := (exaggeration*P[i*n+j] - q/sumQ) * q
					yj := Y[j*dims : (j+1)*dims]
					for d := 0; d < dims; d++ {
						gi[d] += 4 * mult * (yi[d] - yj[d])
					}
				}
			}
		})

		for k := range Y {
			if (grad[k] > 0) != (update[k] > 0) {
				gains[k] += 0.2
			} else {
				gains[k] *= 0.8
			}
			if gains[k] < tsneMinGain {
				gains[k] = tsneMinGain
			}

			update[k] = momentum*update[k] - cfg.LearningRate*gains[k]*grad[k]
			Y[k] += update[k]
		}

		center(Y, n, dims)

		if cfg.LogEvery > 0 && (iter+1)%cfg.LogEvery == 0 {
			log.Printf("t-SNE iteration %d/%d: KL divergence %.4f\n", iter+1, cfg.Iterations, klDivergence(P, num, sumQ, n))
		}
	}

	t.KL = klDivergence(P, num, studentT(Y, n, dims, num), n)

	return mat.NewDense(n, dims, Y), nil
}

// studentT fills num with the unnormalized Student-t kernel between every
// pair of points and returns its sum.
func studentT(Y []float64, n, dims int, num []float64) float64 {
	parallel.Range(0, n, 0, func(low, high int) {
		for i := low; i < high; i++ {
			yi := Y[i*dims : (i+1)*dims]
			for j := 0; j < n; j++ {
				if i == j {
					num[i*n+j] = 0
					continue
				}
				yj := Y[j*dims : (j+1)*dims]
				dist := 0.0
				for d := 0; d < dims; d++ {
					diff := yi[d] - yj[d]
					dist += diff * diff
				}
				num[i*n+j] = 1 / (1 + dist)
			}
		}
	})

	sum := 0.0
	for _, v := range num {
		sum += v
	}

	return sum
}

func klDivergence(P, num []float64, sumQ float64, n int) float64 {
	kl := 0.0
	for k, p := range P {
		if k/n == k%n || p <= tsneMinProb {
			continue
		}
		q := math.Max(num[k]/sumQ, tsneMinProb)
		kl += p * math.Log(p/q)
	}

	return kl
}

func center(Y []float64, n, dims int) {
	for d := 0; d < dims; d++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += Y[i*dims+d]
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			Y[i*dims+d] -= mean
		}
	}
}

// jointProbabilities calibrates a Gaussian per point so that its conditional
// distribution has the requested perplexity, then symmetrizes. The result is
// a row-major n x n slice.
func jointProbabilities(D *mat.SymDense, perplexity float64) []float64 {
	n, _ := D.Dims()
	P := make([]float64, n*n)
	target := math.Log(perplexity)

	parallel.Range(0, n, 0, func(low, high int) {
		row := make([]float64, n)
		for i := low; i < high; i++ {
			for j := 0; j < n; j++ {
				row[j] = D.At(i, j)
			}
			copy(P[i*n:(i+1)*n], conditionalRow(row, i, target))
		}
	})

	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = math.Max((P[i*n+j]+P[j*n+i])/(2*float64(n)), tsneMinProb)
		}
		out[i*n+i] = 0
	}

	return out
}

// conditionalRow finds the precision beta by bisection such that the entropy
// of p_{j|i} matches log(perplexity).
func conditionalRow(dist []float64, self int, target float64) []float64 {
	n := len(dist)
	p := make([]float64, n)

	// Shift by the nearest neighbor's distance so exp() does not underflow
	dmin := math.Inf(1)
	for j, d := range dist {
		if j != self && d < dmin {
			dmin = d
		}
	}
	shifted := make([]float64, n)
	for j, d := range dist {
		shifted[j] = d - dmin
	}
	dist = shifted

	beta := 1.0
	betaMin, betaMax := math.Inf(-1), math.Inf(1)

	for step := 0; step < tsneBetaSteps; step++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			if j == self {
				p[j] = 0
				continue
			}
			p[j] = math.Exp(-dist[j] * beta)
			sum += p[j]
		}
		if sum == 0 {
			sum = tsneMinProb
		}

		// H = log(sum) + beta * sum(d * p) / sum
		weighted := 0.0
		for j := 0; j < n; j++ {
			weighted += dist[j] * p[j]
		}
		H := math.Log(sum) + beta*weighted/sum

		for j := range p {
			p[j] /= sum
		}

		diff := H - target
		if math.Abs(diff) < tsneBetaTol {
			break
		}

		if diff > 0 {
			betaMin = beta
			if math.IsInf(betaMax, 1) {
				beta *= 2
			} else {
				beta = (beta + betaMax) / 2
			}
		} else {
			betaMax = beta
			if math.IsInf(betaMin, -1) {
				beta /= 2
			} else {
				beta = (beta + betaMin) / 2
			}
		}
	}

	return p
}
