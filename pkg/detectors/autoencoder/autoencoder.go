// Package autoencoder implements reconstruction-based anomaly detection.
// A symmetric encoder/decoder network is trained to reconstruct normal
// data through a narrow bottleneck; samples with high reconstruction
// error are flagged as outliers.
package autoencoder

import (
	"context"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/goanomaly/pkg/detectors"
)

// Device selects the compute target. The choice is explicit configuration,
// never auto-detected.
type Device string

const (
	// DeviceCPU runs training and inference on the general-purpose processor.
	DeviceCPU Device = "cpu"
)

// Detector is an autoencoder-based anomaly detector. The zero value is
// not usable; construct with New.
type Detector struct {
	mu sync.RWMutex

	// Configuration
	hiddenNeurons []int
	activation    Activation
	batchNorm     bool
	learningRate  float64
	epochs        int
	batchSize     int
	dropoutRate   float64
	weightDecay   float64
	preprocessing bool
	contamination float64
	device        Device
	seed          int64
	lossFn        LossFunc
	logger        *logrus.Logger
	rng           *rand.Rand

	// Trained model
	net         *network
	stats       *normStats
	nFeatures   int
	threshold   float64
	trainScores []float64
	trainLabels []int
	bestLoss    float64
	lossHistory []float64
	trained     bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithHiddenNeurons sets the encoder's hidden-layer widths. The decoder
// mirrors the sequence in reverse.
func WithHiddenNeurons(widths ...int) Option {
	return func(d *Detector) {
		d.hiddenNeurons = widths
	}
}

// WithActivation sets the hidden-layer nonlinearity.
func WithActivation(a Activation) Option {
	return func(d *Detector) {
		d.activation = a
	}
}

// WithBatchNorm toggles batch normalization layers.
func WithBatchNorm(enabled bool) Option {
	return func(d *Detector) {
		d.batchNorm = enabled
	}
}

// WithLearningRate sets the Adam learning rate.
func WithLearningRate(lr float64) Option {
	return func(d *Detector) {
		d.learningRate = lr
	}
}

// WithEpochs sets the number of training epochs.
func WithEpochs(n int) Option {
	return func(d *Detector) {
		d.epochs = n
	}
}

// WithBatchSize sets the mini-batch size.
func WithBatchSize(n int) Option {
	return func(d *Detector) {
		d.batchSize = n
	}
}

// WithDropoutRate sets the dropout probability, in [0, 1).
func WithDropoutRate(rate float64) Option {
	return func(d *Detector) {
		d.dropoutRate = rate
	}
}

// WithWeightDecay sets the L2 weight-decay coefficient.
func WithWeightDecay(wd float64) Option {
	return func(d *Detector) {
		d.weightDecay = wd
	}
}

// WithPreprocessing toggles per-feature standardization of the input.
func WithPreprocessing(enabled bool) Option {
	return func(d *Detector) {
		d.preprocessing = enabled
	}
}

// WithContamination sets the expected proportion of anomalies, in (0, 1).
func WithContamination(c float64) Option {
	return func(d *Detector) {
		d.contamination = c
	}
}

// WithDevice sets the compute target.
func WithDevice(dev Device) Option {
	return func(d *Detector) {
		d.device = dev
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(d *Detector) {
		d.seed = seed
	}
}

// WithLossFunc replaces the default mean-squared-error reconstruction loss.
func WithLossFunc(fn LossFunc) Option {
	return func(d *Detector) {
		d.lossFn = fn
	}
}

// WithLogger sets the logger used for training progress.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// New creates an autoencoder detector with the given options.
func New(opts ...Option) *Detector {
	d := &Detector{
		hiddenNeurons: []int{128, 64},
		activation:    ActivationReLU,
		batchNorm:     true,
		learningRate:  1e-3,
		epochs:        100,
		batchSize:     32,
		dropoutRate:   0.2,
		weightDecay:   1e-5,
		preprocessing: true,
		contamination: 0.1,
		device:        DeviceCPU,
		seed:          42,
		lossFn:        MSELoss,
		logger:        logrus.New(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Fit trains the detector on the given data. Each fit call builds a fresh
// network, trains it, restores the best epoch snapshot, scores the
// training data, and derives the contamination threshold. A failed fit
// leaves any previously fitted state intact.
func (d *Detector) Fit(data [][]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	nSamples, nFeatures, err := d.validateConfig(data)
	if err != nil {
		return err
	}

	rng := newShuffleSource(d.seed)

	var stats *normStats
	if d.preprocessing {
		stats = computeStats(data)
	}

	net, err := buildNetwork(nFeatures, d.hiddenNeurons, d.dropoutRate, d.batchNorm, d.activation, rng)
	if err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"samples":  nSamples,
		"features": nFeatures,
		"encoder":  net.encoderWidths(),
		"epochs":   d.epochs,
	}).Info("Starting autoencoder training")

	d.rng = rng
	ds := newDataset(data, stats)
	result := d.train(net, ds)

	net.restore(result.best)

	scores, err := score(net, ds, d.batchSize)
	if err != nil {
		return err
	}

	threshold, labels, err := detectors.ThresholdByContamination(scores, d.contamination)
	if err != nil {
		return err
	}

	// Commit only after every step succeeded.
	d.net = net
	d.stats = stats
	d.nFeatures = nFeatures
	d.threshold = threshold
	d.trainScores = scores
	d.trainLabels = labels
	d.bestLoss = result.bestLoss
	d.lossHistory = result.lossHistory
	d.trained = true

	d.logger.WithFields(logrus.Fields{
		"best_loss": result.bestLoss,
		"threshold": threshold,
	}).Info("Autoencoder training completed")

	return nil
}

// validateConfig fails fast on invalid configuration or malformed input,
// before any training begins.
func (d *Detector) validateConfig(data [][]float64) (nSamples, nFeatures int, err error) {
	if d.device != DeviceCPU {
		return 0, 0, &detectors.ConfigurationError{Field: "device", Reason: "unsupported device " + string(d.device)}
	}
	if d.contamination <= 0 || d.contamination >= 1 {
		return 0, 0, &detectors.ConfigurationError{Field: "contamination", Reason: "must be in (0, 1)"}
	}
	if d.epochs <= 0 {
		return 0, 0, &detectors.ConfigurationError{Field: "epochs", Reason: "must be positive"}
	}
	if d.learningRate <= 0 {
		return 0, 0, &detectors.ConfigurationError{Field: "learning_rate", Reason: "must be positive"}
	}
	return detectors.ValidateMatrix(data)
}

// Predict returns the raw anomaly score of each sample: the Euclidean
// distance between the standardized input row and its reconstruction.
func (d *Detector) Predict(data [][]float64) ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.decisionFunction(data)
}

func (d *Detector) decisionFunction(data [][]float64) ([]float64, error) {
	if !d.trained {
		return nil, &detectors.NotFittedError{Detector: "autoencoder"}
	}

	_, nFeatures, err := detectors.ValidateMatrix(data)
	if err != nil {
		return nil, err
	}
	if nFeatures != d.nFeatures {
		return nil, &detectors.InputShapeError{Reason: "feature count mismatch", Want: d.nFeatures, Got: nFeatures}
	}

	return score(d.net, newDataset(data, d.stats), d.batchSize)
}

// PredictOne returns the anomaly score for a single sample.
func (d *Detector) PredictOne(sample []float64) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return 0, &detectors.NotFittedError{Detector: "autoencoder"}
	}
	if err := detectors.ValidateVector(sample, d.nFeatures); err != nil {
		return 0, err
	}

	scores, err := d.decisionFunction([][]float64{sample})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// PredictStream processes samples from a channel, labelling each against
// the fitted threshold.
func (d *Detector) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	d.mu.RLock()
	trained := d.trained
	threshold := d.threshold
	d.mu.RUnlock()

	if !trained {
		return &detectors.NotFittedError{Detector: "autoencoder"}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			value, err := d.PredictOne(sample)
			if err != nil {
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     value,
				IsAnomaly: value > threshold,
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Encode returns the bottleneck representation of each sample.
func (d *Detector) Encode(data [][]float64) ([][]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return nil, &detectors.NotFittedError{Detector: "autoencoder"}
	}
	_, nFeatures, err := detectors.ValidateMatrix(data)
	if err != nil {
		return nil, err
	}
	if nFeatures != d.nFeatures {
		return nil, &detectors.InputShapeError{Reason: "feature count mismatch", Want: d.nFeatures, Got: nFeatures}
	}

	ds := newDataset(data, d.stats)
	latentDim := d.hiddenNeurons[len(d.hiddenNeurons)-1]

	out := make([][]float64, ds.Len())
	for _, b := range ds.Batches(d.batchSize, false, nil) {
		latent := d.net.encode(b.data)
		for r, orig := range b.indices {
			row := make([]float64, latentDim)
			mat.Row(row, r, latent)
			out[orig] = row
		}
	}
	return out, nil
}

// Threshold returns the fitted anomaly threshold.
func (d *Detector) Threshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// SetThreshold overrides the fitted anomaly threshold.
func (d *Detector) SetThreshold(t float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = t
}

// TrainingScores returns the anomaly scores of the training data, indexed
// by original sample.
func (d *Detector) TrainingScores() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]float64(nil), d.trainScores...)
}

// TrainingLabels returns the binary outlier labels (1 = outlier) derived
// from the training scores and the contamination fraction.
func (d *Detector) TrainingLabels() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]int(nil), d.trainLabels...)
}

// BestLoss returns the lowest mean epoch loss seen during training.
func (d *Detector) BestLoss() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bestLoss
}

// LossHistory returns the mean loss of each training epoch in order.
func (d *Detector) LossHistory() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]float64(nil), d.lossHistory...)
}

// computeStats derives per-feature mean and standard deviation. Constant
// features get scale 1 so the dataset transform never divides by zero.
func computeStats(data [][]float64) *normStats {
	nFeatures := len(data[0])
	stats := &normStats{
		Mean:  make([]float64, nFeatures),
		Scale: make([]float64, nFeatures),
	}

	col := make([]float64, len(data))
	for j := 0; j < nFeatures; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || len(data) < 2 {
			std = 1
		}
		stats.Mean[j] = mean
		stats.Scale[j] = std
	}
	return stats
}
