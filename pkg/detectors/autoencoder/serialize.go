package autoencoder

import (
	"bytes"
	"encoding/gob"

	"github.com/hed1ad/goanomaly/pkg/detectors"
)

// detectorState is the gob wire form of a fitted detector: enough
// configuration to rebuild the network, plus the installed parameters.
type detectorState struct {
	HiddenNeurons []int
	Activation    string
	BatchNorm     bool
	DropoutRate   float64
	BatchSize     int
	Contamination float64

	NFeatures int
	Threshold float64
	BestLoss  float64

	Mean  []float64
	Scale []float64

	Params  [][]float64
	RunMean [][]float64
	RunVar  [][]float64
}

// Save serializes the trained model.
func (d *Detector) Save() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return nil, &detectors.NotFittedError{Detector: "autoencoder"}
	}

	state := detectorState{
		HiddenNeurons: d.hiddenNeurons,
		Activation:    string(d.activation),
		BatchNorm:     d.batchNorm,
		DropoutRate:   d.dropoutRate,
		BatchSize:     d.batchSize,
		Contamination: d.contamination,
		NFeatures:     d.nFeatures,
		Threshold:     d.threshold,
		BestLoss:      d.bestLoss,
	}
	if d.stats != nil {
		state.Mean = d.stats.Mean
		state.Scale = d.stats.Scale
	}

	for _, p := range d.net.parameters() {
		raw := p.RawMatrix()
		state.Params = append(state.Params, append([]float64(nil), raw.Data...))
	}
	for _, l := range d.net.layers() {
		if l.bn == nil {
			state.RunMean = append(state.RunMean, nil)
			state.RunVar = append(state.RunVar, nil)
			continue
		}
		state.RunMean = append(state.RunMean, append([]float64(nil), l.bn.runMean...))
		state.RunVar = append(state.RunVar, append([]float64(nil), l.bn.runVar...))
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model. The loaded detector scores
// identically to the one that was saved.
func (d *Detector) Load(data []byte) error {
	var state detectorState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rng := newShuffleSource(d.seed)
	net, err := buildNetwork(state.NFeatures, state.HiddenNeurons, state.DropoutRate,
		state.BatchNorm, Activation(state.Activation), rng)
	if err != nil {
		return err
	}

	params := net.parameters()
	if len(params) != len(state.Params) {
		return &detectors.ConfigurationError{Field: "model", Reason: "parameter count mismatch in serialized model"}
	}
	for i, p := range params {
		raw := p.RawMatrix()
		if len(raw.Data) != len(state.Params[i]) {
			return &detectors.ConfigurationError{Field: "model", Reason: "parameter shape mismatch in serialized model"}
		}
		copy(raw.Data, state.Params[i])
	}
	layers := net.layers()
	if len(state.RunMean) != len(layers) || len(state.RunVar) != len(layers) {
		return &detectors.ConfigurationError{Field: "model", Reason: "running statistics count mismatch in serialized model"}
	}
	for i, l := range layers {
		if l.bn == nil {
			continue
		}
		if len(state.RunMean[i]) != len(l.bn.runMean) || len(state.RunVar[i]) != len(l.bn.runVar) {
			return &detectors.ConfigurationError{Field: "model", Reason: "running statistics shape mismatch in serialized model"}
		}
		copy(l.bn.runMean, state.RunMean[i])
		copy(l.bn.runVar, state.RunVar[i])
	}

	d.hiddenNeurons = state.HiddenNeurons
	d.activation = Activation(state.Activation)
	d.batchNorm = state.BatchNorm
	d.dropoutRate = state.DropoutRate
	d.batchSize = state.BatchSize
	d.contamination = state.Contamination
	d.nFeatures = state.NFeatures
	d.threshold = state.Threshold
	d.bestLoss = state.BestLoss
	d.stats = nil
	if state.Mean != nil {
		d.stats = &normStats{Mean: state.Mean, Scale: state.Scale}
	}
	d.net = net
	d.trained = true

	return nil
}
