package csv

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goanomaly/pkg/detectors/autoencoder"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadWithHeader(t *testing.T) {
	path := writeTempCSV(t, "a,b,c\n1,2,3\n4,5,6\n")

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"a", "b", "c"}, r.Headers())

	data, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, data)
}

func TestReadSkipsMalformedRows(t *testing.T) {
	path := writeTempCSV(t, "1,2\nx,y\n3,4\n")

	r, err := NewReader(path, WithHeader(false))
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, data)
}

func TestReadWithColumns(t *testing.T) {
	path := writeTempCSV(t, "id,x,y,label\n7,1.5,2.5,normal\n8,3.5,4.5,attack\n")

	r, err := NewReader(path, WithColumns(1, 2))
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.5, 2.5}, {3.5, 4.5}}, data)
}

func TestReadFeedsDetectorFit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("f1,f2,f3\n")
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "%f,%f,%f\n", rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64())
	}
	path := writeTempCSV(t, sb.String())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Read()
	require.NoError(t, err)
	require.Len(t, data, 60)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	det := autoencoder.New(
		autoencoder.WithHiddenNeurons(8, 4),
		autoencoder.WithEpochs(5),
		autoencoder.WithLogger(logger),
	)
	require.NoError(t, det.Fit(data))

	scores, err := det.Predict(data)
	require.NoError(t, err)
	assert.Len(t, scores, 60)
	assert.Greater(t, det.Threshold(), 0.0)
}

func TestReadNoNumericRows(t *testing.T) {
	path := writeTempCSV(t, "a,b\nx,y\n")

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Read()
	assert.Error(t, err)
}
