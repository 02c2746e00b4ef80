package autoencoder

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// LossFunc computes a scalar reconstruction loss and its gradient with
// respect to the reconstruction.
type LossFunc func(target, reconstruction *mat.Dense) (float64, *mat.Dense)

// MSELoss is the default reconstruction loss: the mean squared error over
// every element of the batch.
func MSELoss(target, reconstruction *mat.Dense) (float64, *mat.Dense) {
	rows, cols := target.Dims()
	n := float64(rows * cols)

	grad := mat.NewDense(rows, cols, nil)
	var sum float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := reconstruction.At(r, c) - target.At(r, c)
			sum += d * d
			grad.Set(r, c, 2*d/n)
		}
	}
	return sum / n, grad
}

// trainResult carries what the facade needs after training: the best
// parameter snapshot seen across epochs and its mean loss.
type trainResult struct {
	best        *snapshot
	bestLoss    float64
	lossHistory []float64
}

// train runs epoch-wise mini-batch optimization over the dataset. The
// network's current parameters are left at their final state; the best
// snapshot must be restored by the caller before scoring.
func (d *Detector) train(net *network, data *dataset) *trainResult {
	opt := newAdamOptimizer(d.learningRate, d.weightDecay)

	result := &trainResult{
		bestLoss:    math.Inf(1),
		lossHistory: make([]float64, 0, d.epochs),
	}

	for epoch := 0; epoch < d.epochs; epoch++ {
		batches := data.Batches(d.batchSize, true, d.rng)

		var epochLoss float64
		for _, b := range batches {
			recon, caches := net.forward(b.data, true, d.rng)
			loss, dRecon := d.lossFn(b.data, recon)

			layerGrads := net.backward(caches, dRecon)
			opt.Step(net.parameters(), net.gradients(layerGrads))

			epochLoss += loss
		}
		meanLoss := epochLoss / float64(len(batches))
		result.lossHistory = append(result.lossHistory, meanLoss)

		// Ties replace the snapshot, so later epochs win.
		if meanLoss <= result.bestLoss {
			result.bestLoss = meanLoss
			result.best = net.snapshot()
		}

		if (epoch+1)%10 == 0 {
			d.logger.WithFields(logrus.Fields{
				"epoch": epoch + 1,
				"loss":  meanLoss,
				"best":  result.bestLoss,
			}).Info("Autoencoder training progress")
		}
	}

	return result
}

// newShuffleSource returns the deterministic source used for parameter
// initialization, batch shuffling, and dropout masks.
func newShuffleSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
