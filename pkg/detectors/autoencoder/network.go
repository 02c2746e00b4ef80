package autoencoder

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/goanomaly/pkg/detectors"
)

const bnEpsilon = 1e-5
const bnMomentum = 0.1

// batchNorm normalizes layer input per feature. Learnable scale/shift are
// stored as 1xN matrices so the optimizer can treat every parameter
// uniformly; running statistics are used in inference mode only.
type batchNorm struct {
	gamma   *mat.Dense // 1 x width
	beta    *mat.Dense // 1 x width
	runMean []float64
	runVar  []float64
}

func newBatchNorm(width int) *batchNorm {
	bn := &batchNorm{
		gamma:   mat.NewDense(1, width, nil),
		beta:    mat.NewDense(1, width, nil),
		runMean: make([]float64, width),
		runVar:  make([]float64, width),
	}
	for j := 0; j < width; j++ {
		bn.gamma.Set(0, j, 1)
		bn.runVar[j] = 1
	}
	return bn
}

// layer applies, in order: optional batch norm on the input width, a
// linear transform in -> out, the activation, and dropout.
type layer struct {
	in, out int
	weight  *mat.Dense // in x out
	bias    *mat.Dense // 1 x out
	bn      *batchNorm
	act     activationFunc
	dropout float64
}

func newLayer(in, out int, batchNorm bool, act activationFunc, dropout float64, rng *rand.Rand) *layer {
	l := &layer{
		in:      in,
		out:     out,
		weight:  mat.NewDense(in, out, nil),
		bias:    mat.NewDense(1, out, nil),
		act:     act,
		dropout: dropout,
	}
	if batchNorm {
		l.bn = newBatchNorm(in)
	}

	// Xavier initialization
	scale := math.Sqrt(2.0 / float64(in))
	for r := 0; r < in; r++ {
		for c := 0; c < out; c++ {
			l.weight.Set(r, c, rng.NormFloat64()*scale)
		}
	}
	return l
}

// layerCache holds the intermediates of one forward pass that the
// backward pass needs.
type layerCache struct {
	xhat  *mat.Dense // normalized input, nil without batch norm
	bnStd []float64  // sqrt(var+eps) per input feature
	linIn *mat.Dense // input to the linear transform
	z     *mat.Dense // pre-activation
	mask  *mat.Dense // dropout mask, nil in inference mode
}

func (l *layer) forward(x *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, *layerCache) {
	cache := &layerCache{}
	rows, _ := x.Dims()

	linIn := x
	if l.bn != nil {
		linIn = l.normalize(x, training, cache)
	}
	cache.linIn = linIn

	// z = linIn * W + b
	z := mat.NewDense(rows, l.out, nil)
	z.Mul(linIn, l.weight)
	for r := 0; r < rows; r++ {
		for c := 0; c < l.out; c++ {
			z.Set(r, c, z.At(r, c)+l.bias.At(0, c))
		}
	}
	cache.z = z

	out := mat.NewDense(rows, l.out, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < l.out; c++ {
			out.Set(r, c, l.act.fn(z.At(r, c)))
		}
	}

	if training && l.dropout > 0 {
		mask := mat.NewDense(rows, l.out, nil)
		keep := 1 - l.dropout
		for r := 0; r < rows; r++ {
			for c := 0; c < l.out; c++ {
				if rng.Float64() >= l.dropout {
					mask.Set(r, c, 1/keep)
				}
			}
		}
		cache.mask = mask
		out.MulElem(out, mask)
	}

	return out, cache
}

// normalize applies batch norm to x. In training mode it uses batch
// statistics and folds them into the running estimates; in inference mode
// it uses the running estimates only.
func (l *layer) normalize(x *mat.Dense, training bool, cache *layerCache) *mat.Dense {
	rows, cols := x.Dims()
	mean := make([]float64, cols)
	std := make([]float64, cols)

	if training {
		for j := 0; j < cols; j++ {
			var sum float64
			for i := 0; i < rows; i++ {
				sum += x.At(i, j)
			}
			mean[j] = sum / float64(rows)

			var sq float64
			for i := 0; i < rows; i++ {
				d := x.At(i, j) - mean[j]
				sq += d * d
			}
			variance := sq / float64(rows)
			std[j] = math.Sqrt(variance + bnEpsilon)

			// Running estimates track the unbiased variance.
			unbiased := variance
			if rows > 1 {
				unbiased = sq / float64(rows-1)
			}
			l.bn.runMean[j] = (1-bnMomentum)*l.bn.runMean[j] + bnMomentum*mean[j]
			l.bn.runVar[j] = (1-bnMomentum)*l.bn.runVar[j] + bnMomentum*unbiased
		}
	} else {
		for j := 0; j < cols; j++ {
			mean[j] = l.bn.runMean[j]
			std[j] = math.Sqrt(l.bn.runVar[j] + bnEpsilon)
		}
	}

	xhat := mat.NewDense(rows, cols, nil)
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			h := (x.At(i, j) - mean[j]) / std[j]
			xhat.Set(i, j, h)
			out.Set(i, j, l.bn.gamma.At(0, j)*h+l.bn.beta.At(0, j))
		}
	}

	cache.xhat = xhat
	cache.bnStd = std
	return out
}

// layerGrads mirrors the layer's learnable parameters.
type layerGrads struct {
	dWeight *mat.Dense
	dBias   *mat.Dense
	dGamma  *mat.Dense
	dBeta   *mat.Dense
}

// backward propagates the loss gradient through this layer, returning the
// gradient with respect to the layer input.
func (l *layer) backward(cache *layerCache, dOut *mat.Dense) (*mat.Dense, *layerGrads) {
	rows, _ := dOut.Dims()

	dAct := dOut
	if cache.mask != nil {
		dAct = mat.NewDense(rows, l.out, nil)
		dAct.MulElem(dOut, cache.mask)
	}

	dZ := mat.NewDense(rows, l.out, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < l.out; c++ {
			dZ.Set(r, c, dAct.At(r, c)*l.act.grad(cache.z.At(r, c)))
		}
	}

	grads := &layerGrads{
		dWeight: mat.NewDense(l.in, l.out, nil),
		dBias:   mat.NewDense(1, l.out, nil),
	}
	grads.dWeight.Mul(cache.linIn.T(), dZ)
	for c := 0; c < l.out; c++ {
		var sum float64
		for r := 0; r < rows; r++ {
			sum += dZ.At(r, c)
		}
		grads.dBias.Set(0, c, sum)
	}

	dLinIn := mat.NewDense(rows, l.in, nil)
	dLinIn.Mul(dZ, l.weight.T())

	if l.bn == nil {
		return dLinIn, grads
	}

	// Batch norm backward, batch-statistics case.
	grads.dGamma = mat.NewDense(1, l.in, nil)
	grads.dBeta = mat.NewDense(1, l.in, nil)
	dX := mat.NewDense(rows, l.in, nil)
	n := float64(rows)

	for j := 0; j < l.in; j++ {
		var sumD, sumDX float64
		for i := 0; i < rows; i++ {
			dh := dLinIn.At(i, j) * l.bn.gamma.At(0, j)
			sumD += dh
			sumDX += dh * cache.xhat.At(i, j)

			grads.dGamma.Set(0, j, grads.dGamma.At(0, j)+dLinIn.At(i, j)*cache.xhat.At(i, j))
			grads.dBeta.Set(0, j, grads.dBeta.At(0, j)+dLinIn.At(i, j))
		}
		for i := 0; i < rows; i++ {
			dh := dLinIn.At(i, j) * l.bn.gamma.At(0, j)
			dX.Set(i, j, (n*dh-sumD-cache.xhat.At(i, j)*sumDX)/(n*cache.bnStd[j]))
		}
	}

	return dX, grads
}

// network is a symmetric encoder/decoder stack. The encoder narrows from
// n_features through the hidden widths; the decoder mirrors the width
// sequence back out to n_features.
type network struct {
	nFeatures int
	widths    []int // [n_features, hidden...]
	encoder   []*layer
	decoder   []*layer
}

func buildNetwork(nFeatures int, hidden []int, dropout float64, useBatchNorm bool, activation Activation, rng *rand.Rand) (*network, error) {
	if nFeatures <= 0 {
		return nil, &detectors.ConfigurationError{Field: "n_features", Reason: "must be positive"}
	}
	if len(hidden) == 0 {
		return nil, &detectors.ConfigurationError{Field: "hidden_neurons", Reason: "must not be empty"}
	}
	for _, h := range hidden {
		if h <= 0 {
			return nil, &detectors.ConfigurationError{Field: "hidden_neurons", Reason: "layer widths must be positive"}
		}
	}
	if dropout < 0 || dropout >= 1 {
		return nil, &detectors.ConfigurationError{Field: "dropout_rate", Reason: "must be in [0, 1)"}
	}

	act, err := resolveActivation(activation)
	if err != nil {
		return nil, err
	}

	widths := append([]int{nFeatures}, hidden...)
	n := &network{
		nFeatures: nFeatures,
		widths:    widths,
	}

	for i := 0; i < len(widths)-1; i++ {
		n.encoder = append(n.encoder, newLayer(widths[i], widths[i+1], useBatchNorm, act, dropout, rng))
	}
	for i := len(widths) - 1; i > 0; i-- {
		n.decoder = append(n.decoder, newLayer(widths[i], widths[i-1], useBatchNorm, act, dropout, rng))
	}

	return n, nil
}

func (n *network) layers() []*layer {
	all := make([]*layer, 0, len(n.encoder)+len(n.decoder))
	all = append(all, n.encoder...)
	all = append(all, n.decoder...)
	return all
}

// forward runs the full reconstruction pass. In training mode it returns
// the per-layer caches required for backward.
func (n *network) forward(x *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, []*layerCache) {
	var caches []*layerCache
	if training {
		caches = make([]*layerCache, 0, len(n.encoder)+len(n.decoder))
	}

	h := x
	for _, l := range n.layers() {
		var cache *layerCache
		h, cache = l.forward(h, training, rng)
		if training {
			caches = append(caches, cache)
		}
	}
	return h, caches
}

// encode returns the bottleneck representation in inference mode.
func (n *network) encode(x *mat.Dense) *mat.Dense {
	h := x
	for _, l := range n.encoder {
		h, _ = l.forward(h, false, nil)
	}
	return h
}

// backward propagates dOut through the whole stack and returns per-layer
// gradients aligned with layers().
func (n *network) backward(caches []*layerCache, dOut *mat.Dense) []*layerGrads {
	all := n.layers()
	grads := make([]*layerGrads, len(all))
	d := dOut
	for i := len(all) - 1; i >= 0; i-- {
		d, grads[i] = all[i].backward(caches[i], d)
	}
	return grads
}

// parameters returns every learnable tensor in a stable order, aligned
// with gradients().
func (n *network) parameters() []*mat.Dense {
	var params []*mat.Dense
	for _, l := range n.layers() {
		params = append(params, l.weight, l.bias)
		if l.bn != nil {
			params = append(params, l.bn.gamma, l.bn.beta)
		}
	}
	return params
}

// gradients flattens per-layer gradients into the parameters() order.
func (n *network) gradients(layerGrads []*layerGrads) []*mat.Dense {
	var grads []*mat.Dense
	for i, l := range n.layers() {
		grads = append(grads, layerGrads[i].dWeight, layerGrads[i].dBias)
		if l.bn != nil {
			grads = append(grads, layerGrads[i].dGamma, layerGrads[i].dBeta)
		}
	}
	return grads
}

// snapshot is a deep copy of every learnable parameter and running
// statistic, taken at an epoch boundary.
type snapshot struct {
	params  []*mat.Dense
	runMean [][]float64
	runVar  [][]float64
}

func (n *network) snapshot() *snapshot {
	s := &snapshot{}
	for _, p := range n.parameters() {
		s.params = append(s.params, mat.DenseCopyOf(p))
	}
	for _, l := range n.layers() {
		if l.bn == nil {
			s.runMean = append(s.runMean, nil)
			s.runVar = append(s.runVar, nil)
			continue
		}
		s.runMean = append(s.runMean, append([]float64(nil), l.bn.runMean...))
		s.runVar = append(s.runVar, append([]float64(nil), l.bn.runVar...))
	}
	return s
}

// restore installs a snapshot back into the network.
func (n *network) restore(s *snapshot) {
	for i, p := range n.parameters() {
		p.Copy(s.params[i])
	}
	for i, l := range n.layers() {
		if l.bn == nil {
			continue
		}
		copy(l.bn.runMean, s.runMean[i])
		copy(l.bn.runVar, s.runVar[i])
	}
}

// encoderWidths and decoderWidths expose the layer width sequences.
func (n *network) encoderWidths() []int {
	return append([]int(nil), n.widths...)
}

func (n *network) decoderWidths() []int {
	rev := make([]int, len(n.widths))
	for i, w := range n.widths {
		rev[len(n.widths)-1-i] = w
	}
	return rev
}
