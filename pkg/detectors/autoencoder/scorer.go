package autoencoder

import (
	"math/rand"

	"github.com/hed1ad/goanomaly/pkg/detectors"
)

// score runs the network in inference mode over the dataset and returns
// one reconstruction-error scalar per sample, indexed by original row.
func score(net *network, data *dataset, batchSize int) ([]float64, error) {
	return scoreBatches(net, data, batchSize, false, nil)
}

// scoreBatches is the iteration-order-agnostic core: each distance lands
// at the sample's original index, so the output vector is identical
// whether the dataset is walked shuffled or in order.
func scoreBatches(net *network, data *dataset, batchSize int, shuffle bool, rng *rand.Rand) ([]float64, error) {
	scores := make([]float64, data.Len())

	for _, b := range data.Batches(batchSize, shuffle, rng) {
		recon, _ := net.forward(b.data, false, nil)

		dist, err := detectors.RowwiseEuclidean(b.data, recon)
		if err != nil {
			return nil, err
		}
		for r, orig := range b.indices {
			scores[orig] = dist[r]
		}
	}

	return scores, nil
}
