package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRanks(t *testing.T) {
	scores := [][]float64{
		{0.1, 0.9, -100, 0.5},
		{-100, -100, 0.2, 0.3},
		{0.4, 0.4, 0.4, 0.4},
	}
	truth := [][]int{
		{3, 0},
		{7},
		{2},
	}

	ranks := Ranks(scores, truth)

	assert.Equal(t, []int{1, math.MaxInt, 2}, ranks)
}

func TestRecallAt(t *testing.T) {
	ranks := []int{0, 1, 4, 9, 20}

	assert.InDelta(t, 20.0, RecallAt(ranks, 1), 1e-9)
	assert.InDelta(t, 60.0, RecallAt(ranks, 5), 1e-9)
	assert.InDelta(t, 80.0, RecallAt(ranks, 10), 1e-9)
	assert.Zero(t, RecallAt(nil, 1))
}

func TestRecallPerfectScores(t *testing.T) {
	i2t := [][]float64{
		{5, 1, 4, 0},
		{0, 5, 1, 4},
	}
	t2i := [][]float64{
		{5, 0},
		{0, 5},
		{5, 0},
		{0, 5},
	}
	img2txt := [][]int{{0, 2}, {1, 3}}
	txt2img := [][]int{{0}, {1}, {0}, {1}}

	m := Recall(i2t, t2i, img2txt, txt2img)

	assert.InDelta(t, 100.0, m.TxtR1, 1e-9)
	assert.InDelta(t, 100.0, m.ImgR1, 1e-9)
	assert.InDelta(t, 100.0, m.RMean, 1e-9)
}

func TestRecallMixed(t *testing.T) {
	i2t := [][]float64{
		{0.9, 0.1},
		{0.9, 0.1},
	}
	t2i := [][]float64{
		{0.2, 0.8},
		{0.2, 0.8},
	}
	img2txt := [][]int{{0}, {1}}
	txt2img := [][]int{{0}, {1}}

	m := Recall(i2t, t2i, img2txt, txt2img)

	assert.InDelta(t, 50.0, m.TxtR1, 1e-9)
	assert.InDelta(t, 100.0, m.TxtR5, 1e-9)
	assert.InDelta(t, 50.0, m.ImgR1, 1e-9)
	assert.InDelta(t, (50.0+100+100)/3, m.ImgRMean, 1e-9)
}
