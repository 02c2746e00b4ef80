package autoencoder

import (
	"math"

	"github.com/hed1ad/goanomaly/pkg/detectors"
)

// Activation selects the elementwise nonlinearity applied after each
// linear transform. The set is closed: unknown names fail at build time.
type Activation string

const (
	ActivationIdentity  Activation = "identity"
	ActivationReLU      Activation = "relu"
	ActivationSigmoid   Activation = "sigmoid"
	ActivationTanh      Activation = "tanh"
	ActivationLeakyReLU Activation = "leaky_relu"
)

const leakySlope = 0.01

// activationFunc pairs a nonlinearity with its derivative. Both take the
// pre-activation value.
type activationFunc struct {
	name Activation
	fn   func(float64) float64
	grad func(float64) float64
}

func resolveActivation(name Activation) (activationFunc, error) {
	switch name {
	case ActivationIdentity:
		return activationFunc{
			name: name,
			fn:   func(z float64) float64 { return z },
			grad: func(z float64) float64 { return 1 },
		}, nil
	case ActivationReLU:
		return activationFunc{
			name: name,
			fn:   func(z float64) float64 { return math.Max(0, z) },
			grad: func(z float64) float64 {
				if z > 0 {
					return 1
				}
				return 0
			},
		}, nil
	case ActivationSigmoid:
		return activationFunc{
			name: name,
			fn:   sigmoid,
			grad: func(z float64) float64 {
				s := sigmoid(z)
				return s * (1 - s)
			},
		}, nil
	case ActivationTanh:
		return activationFunc{
			name: name,
			fn:   math.Tanh,
			grad: func(z float64) float64 {
				t := math.Tanh(z)
				return 1 - t*t
			},
		}, nil
	case ActivationLeakyReLU:
		return activationFunc{
			name: name,
			fn: func(z float64) float64 {
				if z > 0 {
					return z
				}
				return leakySlope * z
			},
			grad: func(z float64) float64 {
				if z > 0 {
					return 1
				}
				return leakySlope
			},
		}, nil
	default:
		return activationFunc{}, &detectors.ConfigurationError{
			Field:  "hidden_activation",
			Reason: "unknown activation " + string(name),
		}
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
