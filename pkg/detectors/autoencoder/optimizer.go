package autoencoder

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// adamOptimizer implements the Adam optimization algorithm with L2
// weight decay folded into the gradient.
type adamOptimizer struct {
	learningRate float64
	weightDecay  float64
	beta1        float64
	beta2        float64
	epsilon      float64
	t            int          // time step
	m            []*mat.Dense // first moment estimate
	v            []*mat.Dense // second moment estimate
}

func newAdamOptimizer(learningRate, weightDecay float64) *adamOptimizer {
	return &adamOptimizer{
		learningRate: learningRate,
		weightDecay:  weightDecay,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
	}
}

// Step updates the parameters in place from their gradients. Parameter
// and gradient slices must stay aligned across calls.
func (opt *adamOptimizer) Step(params, grads []*mat.Dense) {
	opt.t++

	if len(opt.m) != len(params) {
		opt.initializeMoments(params)
	}

	beta1Correction := 1 - math.Pow(opt.beta1, float64(opt.t))
	beta2Correction := 1 - math.Pow(opt.beta2, float64(opt.t))

	for i, param := range params {
		gradient := grads[i]
		rows, cols := param.Dims()

		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g := gradient.At(r, c) + opt.weightDecay*param.At(r, c)

				m := opt.beta1*opt.m[i].At(r, c) + (1-opt.beta1)*g
				v := opt.beta2*opt.v[i].At(r, c) + (1-opt.beta2)*g*g
				opt.m[i].Set(r, c, m)
				opt.v[i].Set(r, c, v)

				mHat := m / beta1Correction
				vHat := v / beta2Correction

				update := opt.learningRate * mHat / (math.Sqrt(vHat) + opt.epsilon)
				param.Set(r, c, param.At(r, c)-update)
			}
		}
	}
}

func (opt *adamOptimizer) initializeMoments(params []*mat.Dense) {
	opt.m = make([]*mat.Dense, len(params))
	opt.v = make([]*mat.Dense, len(params))

	for i, param := range params {
		rows, cols := param.Dims()
		opt.m[i] = mat.NewDense(rows, cols, nil) // initialize to zero
		opt.v[i] = mat.NewDense(rows, cols, nil)
	}
}
