package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

func tensor(shape []int64, data ...float32) blipeval.Tensor {
	return blipeval.Tensor{Data: data, Shape: shape}
}

func TestCoarseSimilarityMaxOverQueries(t *testing.T) {
	// two query vectors per image, three texts in 2-d
	images := []blipeval.Tensor{
		tensor([]int64{1, 2, 2}, 1, 0, 0, 1),
		tensor([]int64{2, 2}, 0.5, 0.5, -1, 0),
	}
	texts := tensor([]int64{3, 2},
		1, 0,
		0, 1,
		-1, -1,
	)

	sims, err := CoarseSimilarity(images, texts)
	require.NoError(t, err)

	rows, cols := sims.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)

	expected := [][]float64{
		{1, 1, -1},
		{0.5, 0.5, 1},
	}
	for i := range expected {
		for j := range expected[i] {
			assert.InDelta(t, expected[i][j], sims.At(i, j), 1e-9, "cell %d,%d", i, j)
		}
	}
}

func TestCoarseSimilarityEmpty(t *testing.T) {
	sims, err := CoarseSimilarity(nil, tensor([]int64{0, 4}))
	require.NoError(t, err)
	assert.Nil(t, sims)
}

func TestCoarseSimilarityShapeMismatch(t *testing.T) {
	_, err := CoarseSimilarity(
		[]blipeval.Tensor{tensor([]int64{1, 3}, 1, 2, 3)},
		tensor([]int64{1, 2}, 1, 0),
	)
	assert.ErrorContains(t, err, "image 0")

	_, err = CoarseSimilarity(nil, tensor([]int64{2}, 1, 0))
	assert.Error(t, err)
}
