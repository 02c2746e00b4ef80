package autoencoder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/goanomaly/pkg/detectors"
)

func testNetwork(t *testing.T, nFeatures int, hidden []int, batchNorm bool) *network {
	t.Helper()
	net, err := buildNetwork(nFeatures, hidden, 0.2, batchNorm, ActivationReLU, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return net
}

func TestArchitectureMirroring(t *testing.T) {
	net := testNetwork(t, 30, []int{128, 64}, true)

	assert.Equal(t, []int{30, 128, 64}, net.encoderWidths())
	assert.Equal(t, []int{64, 128, 30}, net.decoderWidths())

	require.Len(t, net.encoder, 2)
	require.Len(t, net.decoder, 2)
	assert.Equal(t, 30, net.encoder[0].in)
	assert.Equal(t, 128, net.encoder[0].out)
	assert.Equal(t, 128, net.encoder[1].in)
	assert.Equal(t, 64, net.encoder[1].out)
	assert.Equal(t, 64, net.decoder[0].in)
	assert.Equal(t, 128, net.decoder[0].out)
	assert.Equal(t, 128, net.decoder[1].in)
	assert.Equal(t, 30, net.decoder[1].out)
}

func TestForwardReconstructionWidth(t *testing.T) {
	for _, bn := range []bool{true, false} {
		net := testNetwork(t, 30, []int{128, 64}, bn)

		x := mat.NewDense(8, 30, nil)
		recon, caches := net.forward(x, true, rand.New(rand.NewSource(2)))

		rows, cols := recon.Dims()
		assert.Equal(t, 8, rows)
		assert.Equal(t, 30, cols) // reconstruction width equals input width
		assert.Len(t, caches, 4)

		latent := net.encode(x)
		_, lcols := latent.Dims()
		assert.Equal(t, 64, lcols)
	}
}

func TestBuildNetworkErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name       string
		nFeatures  int
		hidden     []int
		dropout    float64
		activation Activation
	}{
		{"zero features", 0, []int{4}, 0.1, ActivationReLU},
		{"empty hidden", 5, nil, 0.1, ActivationReLU},
		{"negative width", 5, []int{8, -2}, 0.1, ActivationReLU},
		{"dropout too high", 5, []int{4}, 1.0, ActivationReLU},
		{"negative dropout", 5, []int{4}, -0.1, ActivationReLU},
		{"unknown activation", 5, []int{4}, 0.1, "softplus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildNetwork(tt.nFeatures, tt.hidden, tt.dropout, true, tt.activation, rng)
			require.Error(t, err)
			var configErr *detectors.ConfigurationError
			assert.ErrorAs(t, err, &configErr)
		})
	}
}

func TestSnapshotRestore(t *testing.T) {
	net := testNetwork(t, 6, []int{4, 2}, true)
	rng := rand.New(rand.NewSource(3))

	x := mat.NewDense(10, 6, nil)
	for i := 0; i < 10; i++ {
		for j := 0; j < 6; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
	}

	snap := net.snapshot()
	before, _ := net.forward(x, false, nil)

	// A training step mutates both parameters and running statistics.
	recon, caches := net.forward(x, true, rng)
	_, grad := MSELoss(x, recon)
	newAdamOptimizer(0.1, 0).Step(net.parameters(), net.gradients(net.backward(caches, grad)))

	mutated, _ := net.forward(x, false, nil)
	assert.False(t, mat.EqualApprox(before, mutated, 1e-12), "training step should change the output")

	net.restore(snap)
	restored, _ := net.forward(x, false, nil)
	assert.True(t, mat.EqualApprox(before, restored, 1e-12), "restore should bring back the snapshot exactly")
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	net := testNetwork(t, 4, []int{3}, true)
	snap := net.snapshot()

	want := snap.params[0].At(0, 0)
	net.parameters()[0].Set(0, 0, want+100)

	assert.Equal(t, want, snap.params[0].At(0, 0))
}

func TestActivations(t *testing.T) {
	tests := []struct {
		name Activation
		in   float64
		want float64
	}{
		{ActivationIdentity, -2, -2},
		{ActivationReLU, -2, 0},
		{ActivationReLU, 3, 3},
		{ActivationLeakyReLU, -2, -0.02},
		{ActivationTanh, 0, 0},
		{ActivationSigmoid, 0, 0.5},
	}

	for _, tt := range tests {
		act, err := resolveActivation(tt.name)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, act.fn(tt.in), 1e-12)
	}

	_, err := resolveActivation("mish")
	var configErr *detectors.ConfigurationError
	require.Error(t, err)
	assert.ErrorAs(t, err, &configErr)
}

// Numerically verifies the analytic gradients of a batch-norm network
// against central finite differences.
func TestBackwardGradientCheck(t *testing.T) {
	net, err := buildNetwork(3, []int{2}, 0, true, ActivationTanh, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(6))
	x := mat.NewDense(5, 3, nil)
	for i := 0; i < 5; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
	}

	loss := func() float64 {
		recon, _ := net.forward(x, true, nil)
		l, _ := MSELoss(x, recon)
		return l
	}

	recon, caches := net.forward(x, true, nil)
	_, dRecon := MSELoss(x, recon)
	analytic := net.gradients(net.backward(caches, dRecon))

	const h = 1e-6
	for pi, p := range net.parameters() {
		rows, cols := p.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				orig := p.At(r, c)
				p.Set(r, c, orig+h)
				up := loss()
				p.Set(r, c, orig-h)
				down := loss()
				p.Set(r, c, orig)

				numeric := (up - down) / (2 * h)
				assert.InDelta(t, numeric, analytic[pi].At(r, c), 1e-4,
					"parameter %d at (%d,%d)", pi, r, c)
			}
		}
	}
}
