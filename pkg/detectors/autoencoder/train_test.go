package autoencoder

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMSELoss(t *testing.T) {
	target := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	recon := mat.NewDense(2, 2, []float64{1, 2, 3, 6})

	loss, grad := MSELoss(target, recon)
	assert.InDelta(t, 1.0, loss, 1e-12) // (0+0+0+4)/4

	assert.InDelta(t, 0.0, grad.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, grad.At(1, 1), 1e-12) // 2*(6-4)/4
}

func TestBestLossTracking(t *testing.T) {
	data := generateTestData(60, 4, 11)
	d := smallDetector(WithEpochs(15))
	require.NoError(t, d.Fit(data))

	history := d.LossHistory()
	require.Len(t, history, 15)

	// The running best is non-increasing and ends at the recorded best.
	best := math.Inf(1)
	for _, loss := range history {
		if loss <= best {
			best = loss
		}
	}
	assert.Equal(t, best, d.BestLoss())

	min := history[0]
	for _, loss := range history[1:] {
		if loss < min {
			min = loss
		}
	}
	assert.Equal(t, min, d.BestLoss())
}

func TestTrainRestoresBestEpochParameters(t *testing.T) {
	data := generateTestData(40, 3, 13)
	ds := newDataset(data, nil)

	d := smallDetector(WithEpochs(8), WithHiddenNeurons(4, 2))
	d.rng = newShuffleSource(d.seed)

	net, err := buildNetwork(3, []int{4, 2}, d.dropoutRate, true, ActivationReLU, d.rng)
	require.NoError(t, err)

	result := d.train(net, ds)
	require.NotNil(t, result.best)
	assert.Equal(t, result.bestLoss, minOf(result.lossHistory))

	// After restore, the network's parameters are exactly the snapshot.
	net.restore(result.best)
	for i, p := range net.parameters() {
		assert.True(t, mat.Equal(p, result.best.params[i]))
	}
}

func TestTrainProgressLogCadence(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := smallDetector(WithEpochs(20), WithLogger(logger))
	require.NoError(t, d.Fit(generateTestData(40, 3, 19)))

	// Progress is reported every 10 epochs, numbered from 1.
	var epochs []int
	for _, e := range hook.AllEntries() {
		if e.Message != "Autoencoder training progress" {
			continue
		}
		epochs = append(epochs, e.Data["epoch"].(int))
	}
	assert.Equal(t, []int{10, 20}, epochs)
}

func TestTrainRunsExactEpochCount(t *testing.T) {
	ds := newDataset(generateTestData(30, 3, 17), nil)
	d := smallDetector(WithEpochs(3), WithHiddenNeurons(2))
	d.rng = newShuffleSource(1)

	net, err := buildNetwork(3, []int{2}, 0, false, ActivationTanh, d.rng)
	require.NoError(t, err)

	result := d.train(net, ds)
	assert.Len(t, result.lossHistory, 3) // no early stopping
}

func minOf(xs []float64) float64 {
	min := xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
	}
	return min
}
