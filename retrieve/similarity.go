package retrieve

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// CoarseSimilarity scores every image against every text by embedding dot
// products. Each image embedding is a [Q, E] stack of query vectors; the
// score of a pair is the maximum over the image's query vectors.
// textEmbeds is [T, E]. The result is [len(imageEmbeds), T], or nil when
// either side is empty.
func CoarseSimilarity(imageEmbeds []blipeval.Tensor, textEmbeds blipeval.Tensor) (*mat.Dense, error) {
	if len(textEmbeds.Shape) != 2 {
		return nil, fmt.Errorf("text embeddings must be rank 2, got shape %v", textEmbeds.Shape)
	}
	numTexts, dim := textEmbeds.Dim(0), textEmbeds.Dim(1)
	if len(imageEmbeds) == 0 || numTexts == 0 {
		return nil, nil
	}
	if dim == 0 {
		return nil, fmt.Errorf("text embeddings have zero width")
	}
	if err := textEmbeds.Validate(); err != nil {
		return nil, fmt.Errorf("text embeddings: %w", err)
	}

	texts := mat.NewDense(numTexts, dim, toFloat64(textEmbeds.Data))
	sims := mat.NewDense(len(imageEmbeds), numTexts, nil)

	var perQuery mat.Dense
	row := make([]float64, numTexts)

	for i, embed := range imageEmbeds {
		queries, err := asMatrix(embed, dim)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}

		perQuery.Reset()
		perQuery.Mul(queries, texts.T())

		for j := 0; j < numTexts; j++ {
			row[j] = floats.Max(mat.Col(nil, j, &perQuery))
		}
		sims.SetRow(i, row)
	}

	return sims, nil
}

// asMatrix views a [Q, E] or [1, Q, E] embedding as a Q x E matrix
func asMatrix(t blipeval.Tensor, dim int) (*mat.Dense, error) {
	shape := t.Shape
	if len(shape) == 3 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 2 || int(shape[1]) != dim || shape[0] == 0 {
		return nil, fmt.Errorf("embedding shape %v incompatible with text dim %d", t.Shape, dim)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return mat.NewDense(int(shape[0]), dim, toFloat64(t.Data)), nil
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
