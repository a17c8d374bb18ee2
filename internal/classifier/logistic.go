// Package classifier implements L2-regularised binary logistic regression
// over sparse feature vectors.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/kalambet/revsent/internal/features"
)

// Options controls fitting. Zero fields take the defaults below.
type Options struct {
	C       float64 // inverse regularisation strength
	MaxIter int
	Tol     float64 // stop when the largest gradient component is below Tol
}

const (
	DefaultC       = 1.0
	DefaultMaxIter = 1000
	DefaultTol     = 1e-4
)

func (o Options) withDefaults() Options {
	if o.C <= 0 {
		o.C = DefaultC
	}
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Tol <= 0 {
		o.Tol = DefaultTol
	}
	return o
}

// FitInfo describes how optimisation ended.
type FitInfo struct {
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Loss       float64 `json:"loss"`
}

// Model is a fitted linear decision function.
type Model struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Decision returns w·x + b.
func (m *Model) Decision(x features.Vector) float64 {
	return x.Dot(m.Weights) + m.Intercept
}

// Probability returns the positive-class probability for x.
func (m *Model) Probability(x features.Vector) float64 {
	return sigmoid(m.Decision(x))
}

// Fit trains a model on X with labels y in {0,1} by gradient descent with a
// Barzilai-Borwein step and Armijo backtracking. Hitting MaxIter is not an
// error; the returned FitInfo reports Converged = false.
func Fit(X []features.Vector, y []int, dim int, opts Options) (*Model, FitInfo, error) {
	if len(X) == 0 {
		return nil, FitInfo{}, errors.New("fitting classifier: no samples")
	}
	if len(X) != len(y) {
		return nil, FitInfo{}, fmt.Errorf("fitting classifier: %d samples but %d labels", len(X), len(y))
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, FitInfo{}, fmt.Errorf("fitting classifier: label %d at row %d is not 0 or 1", label, i)
		}
	}
	opts = opts.withDefaults()

	p := &problem{X: X, y: y, dim: dim, lambda: 1 / (opts.C * float64(len(X)))}
	theta := make([]float64, dim+1)
	grad := make([]float64, dim+1)
	loss := p.lossGrad(theta, grad)

	var info FitInfo
	step := 1.0
	prevTheta := make([]float64, dim+1)
	prevGrad := make([]float64, dim+1)
	next := make([]float64, dim+1)
	nextGrad := make([]float64, dim+1)

	for info.Iterations < opts.MaxIter {
		if maxAbs(grad) < opts.Tol {
			info.Converged = true
			break
		}
		info.Iterations++

		gg := dot(grad, grad)
		var nextLoss float64
		accepted := false
		for t := step; t > 1e-12; t /= 2 {
			for i := range theta {
				next[i] = theta[i] - t*grad[i]
			}
			nextLoss = p.lossGrad(next, nextGrad)
			if nextLoss <= loss-0.5*t*gg {
				step = t
				accepted = true
				break
			}
		}
		if !accepted {
			break
		}

		copy(prevTheta, theta)
		copy(prevGrad, grad)
		copy(theta, next)
		copy(grad, nextGrad)
		loss = nextLoss

		// Barzilai-Borwein estimate for the next trial step.
		var sy, ss float64
		for i := range theta {
			s := theta[i] - prevTheta[i]
			ss += s * s
			sy += s * (grad[i] - prevGrad[i])
		}
		if sy > 0 && !math.IsInf(ss/sy, 0) {
			step = ss / sy
		} else {
			step *= 2
		}
	}
	if !info.Converged && maxAbs(grad) < opts.Tol {
		info.Converged = true
	}
	info.Loss = loss

	weights := make([]float64, dim)
	copy(weights, theta[:dim])
	return &Model{Weights: weights, Intercept: theta[dim]}, info, nil
}

// problem holds the scaled objective
// (1/n) Σ log(1+exp(-s·z)) + (λ/2)||w||², with λ = 1/(C·n).
type problem struct {
	X      []features.Vector
	y      []int
	dim    int
	lambda float64
}

// lossGrad evaluates the objective at theta (weights then intercept) and
// writes the gradient into grad.
func (p *problem) lossGrad(theta, grad []float64) float64 {
	w, b := theta[:p.dim], theta[p.dim]
	for i := range grad {
		grad[i] = 0
	}

	n := float64(len(p.X))
	var loss float64
	for i, x := range p.X {
		z := x.Dot(w) + b
		yi := float64(p.y[i])
		loss += softplus(z) - yi*z
		r := (sigmoid(z) - yi) / n
		for k, j := range x.Indices {
			grad[j] += r * x.Values[k]
		}
		grad[p.dim] += r
	}
	loss /= n

	var reg float64
	for j := 0; j < p.dim; j++ {
		reg += w[j] * w[j]
		grad[j] += p.lambda * w[j]
	}
	return loss + 0.5*p.lambda*reg
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus returns log(1+exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
