package autoencoder

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// normStats holds the per-feature standardization vectors computed once
// at fit time. The same stats are reused verbatim at predict time.
type normStats struct {
	Mean  []float64
	Scale []float64
}

// dataset wraps a feature matrix and yields standardized rows together
// with their original row index. The transform is applied per access; the
// underlying matrix is never modified.
type dataset struct {
	x     [][]float64
	stats *normStats
}

func newDataset(x [][]float64, stats *normStats) *dataset {
	return &dataset{x: x, stats: stats}
}

func (d *dataset) Len() int {
	return len(d.x)
}

// At returns the transformed row at index i and the original index.
func (d *dataset) At(i int) ([]float64, int) {
	row := d.x[i]
	out := make([]float64, len(row))
	if d.stats != nil {
		for j, v := range row {
			out[j] = (v - d.stats.Mean[j]) / d.stats.Scale[j]
		}
	} else {
		copy(out, row)
	}
	return out, i
}

// batch is a contiguous group of transformed samples plus the original
// row index of each sample.
type batch struct {
	data    *mat.Dense
	indices []int
}

// Batches splits the dataset into mini-batches. When shuffle is true the
// sample order is permuted with the supplied source; original indices
// travel with their rows either way.
func (d *dataset) Batches(batchSize int, shuffle bool, rng *rand.Rand) []batch {
	n := d.Len()
	if n == 0 {
		return nil
	}
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle && rng != nil {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	nFeatures := len(d.x[0])
	batches := make([]batch, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}

		b := batch{
			data:    mat.NewDense(end-start, nFeatures, nil),
			indices: make([]int, end-start),
		}
		for r, idx := range order[start:end] {
			row, orig := d.At(idx)
			b.data.SetRow(r, row)
			b.indices[r] = orig
		}
		batches = append(batches, b)
	}
	return batches
}
