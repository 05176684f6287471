package metrics

import (
	"math"

	"github.com/Mineru98/blip2-eval-go/utils"
)

// RetrievalMetrics holds Recall@K percentages for both retrieval directions
type RetrievalMetrics struct {
	TxtR1    float64 `json:"txt_r1"`
	TxtR5    float64 `json:"txt_r5"`
	TxtR10   float64 `json:"txt_r10"`
	TxtRMean float64 `json:"txt_r_mean"`
	ImgR1    float64 `json:"img_r1"`
	ImgR5    float64 `json:"img_r5"`
	ImgR10   float64 `json:"img_r10"`
	ImgRMean float64 `json:"img_r_mean"`
	RMean    float64 `json:"r_mean"`
}

// Recall computes text retrieval (image->text) and image retrieval
// (text->image) recall from score matrices and ground-truth tables.
// Ground-truth indices beyond a row's length are ignored; a row with no
// reachable ground truth counts as a miss.
func Recall(scoresI2T, scoresT2I [][]float64, img2txt, txt2img [][]int) RetrievalMetrics {
	txtRanks := Ranks(scoresI2T, img2txt)
	imgRanks := Ranks(scoresT2I, txt2img)

	m := RetrievalMetrics{
		TxtR1:  RecallAt(txtRanks, 1),
		TxtR5:  RecallAt(txtRanks, 5),
		TxtR10: RecallAt(txtRanks, 10),
		ImgR1:  RecallAt(imgRanks, 1),
		ImgR5:  RecallAt(imgRanks, 5),
		ImgR10: RecallAt(imgRanks, 10),
	}
	m.TxtRMean = (m.TxtR1 + m.TxtR5 + m.TxtR10) / 3
	m.ImgRMean = (m.ImgR1 + m.ImgR5 + m.ImgR10) / 3
	m.RMean = (m.TxtRMean + m.ImgRMean) / 2
	return m
}

// Ranks returns, per row, the best zero-based position of any ground-truth
// column when the row is sorted by descending score. Equal scores keep
// column order. Rows without a reachable ground truth get math.MaxInt.
func Ranks(scores [][]float64, truth [][]int) []int {
	ranks := make([]int, len(scores))
	for i, row := range scores {
		ranks[i] = math.MaxInt

		if i >= len(truth) {
			continue
		}
		position := make([]int, len(row))
		for pos, col := range utils.ArgSort(row, true) {
			position[col] = pos
		}
		for _, col := range truth[i] {
			if col >= 0 && col < len(row) && position[col] < ranks[i] {
				ranks[i] = position[col]
			}
		}
	}
	return ranks
}

// RecallAt returns the percentage of ranks below k
func RecallAt(ranks []int, k int) float64 {
	if len(ranks) == 0 {
		return 0
	}
	var hits int
	for _, r := range ranks {
		if r < k {
			hits++
		}
	}
	return 100 * float64(hits) / float64(len(ranks))
}
