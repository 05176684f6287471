package rank

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	blipeval "github.com/Mineru98/blip2-eval-go"
	"github.com/Mineru98/blip2-eval-go/utils"
)

// SentinelScore marks score matrix cells outside the shortlist
const SentinelScore = -100.0

// positiveClass is the ITM head column holding the "match" logit
const positiveClass = 1

// Matcher scores image feature grids against token sequences
type Matcher interface {
	Match(ctx context.Context, features blipeval.Tensor, inputIDs, attentionMask [][]int64) (blipeval.Tensor, error)
}

// TextTokens holds the padded token ids and masks of every candidate text
type TextTokens struct {
	IDs  [][]int64
	Mask [][]int64
}

// Len returns the number of texts
func (t TextTokens) Len() int {
	return len(t.IDs)
}

// ITMRanker re-ranks coarse similarity shortlists with the image-text
// matching head. The refined score of a shortlisted pair is the ITM logit
// plus the coarse similarity; all other cells hold SentinelScore.
type ITMRanker struct {
	Matcher  Matcher
	Workers  int
	Progress io.Writer
	Logger   *slog.Logger
}

// NewITMRanker creates a new ITM ranker
func NewITMRanker(matcher Matcher, workers int, progress io.Writer, logger *slog.Logger) *ITMRanker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ITMRanker{
		Matcher:  matcher,
		Workers:  workers,
		Progress: progress,
		Logger:   logger,
	}
}

// NewScoreMatrix allocates a rows x cols matrix filled with SentinelScore
func NewScoreMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = SentinelScore
		}
	}
	return m
}

// RankImageToText refines the top-k texts of every image. sims is the
// [images, texts] coarse similarity and features holds one raw feature grid
// per image.
func (r *ITMRanker) RankImageToText(
	ctx context.Context,
	sims *mat.Dense,
	features []blipeval.Tensor,
	texts TextTokens,
	k int,
) ([][]float64, error) {
	numImages, numTexts := sims.Dims()
	if len(features) != numImages || texts.Len() != numTexts {
		return nil, fmt.Errorf("i2t: similarity is %dx%d but got %d images and %d texts",
			numImages, numTexts, len(features), texts.Len())
	}
	k = r.clamp(k, numTexts, "i2t")

	scores := NewScoreMatrix(numImages, numTexts)
	pb := utils.NewProgressBar(r.Progress, numImages, "Calculating i2t score matrix")

	err := utils.ParallelFor(ctx, numImages, r.Workers, func(ctx context.Context, i int) error {
		topIdx, topSims := utils.TopK(mat.Row(nil, i, sims), k)
		if len(topIdx) == 0 {
			pb.Increment()
			return nil
		}

		grid, err := featureGrid(features[i])
		if err != nil {
			return fmt.Errorf("i2t image %d: %w", i, err)
		}
		batch := repeat(grid, len(topIdx))

		ids := make([][]int64, len(topIdx))
		masks := make([][]int64, len(topIdx))
		for j, t := range topIdx {
			ids[j] = texts.IDs[t]
			masks[j] = texts.Mask[t]
		}

		itm, err := r.match(ctx, batch, ids, masks)
		if err != nil {
			return fmt.Errorf("i2t image %d: %w", i, err)
		}

		for j, t := range topIdx {
			scores[i][t] = itm[j] + topSims[j]
		}
		pb.Increment()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return scores, nil
}

// RankTextToImage refines the top-k images of every text. simsT is the
// [texts, images] coarse similarity.
func (r *ITMRanker) RankTextToImage(
	ctx context.Context,
	simsT *mat.Dense,
	features []blipeval.Tensor,
	texts TextTokens,
	k int,
) ([][]float64, error) {
	numTexts, numImages := simsT.Dims()
	if len(features) != numImages || texts.Len() != numTexts {
		return nil, fmt.Errorf("t2i: similarity is %dx%d but got %d texts and %d images",
			numTexts, numImages, texts.Len(), len(features))
	}
	k = r.clamp(k, numImages, "t2i")

	scores := NewScoreMatrix(numTexts, numImages)
	pb := utils.NewProgressBar(r.Progress, numTexts, "Calculating t2i score matrix")

	err := utils.ParallelFor(ctx, numTexts, r.Workers, func(ctx context.Context, i int) error {
		topIdx, topSims := utils.TopK(mat.Row(nil, i, simsT), k)
		if len(topIdx) == 0 {
			pb.Increment()
			return nil
		}

		grids := make([]blipeval.Tensor, len(topIdx))
		for j, img := range topIdx {
			grid, err := featureGrid(features[img])
			if err != nil {
				return fmt.Errorf("t2i text %d: image %d: %w", i, img, err)
			}
			grids[j] = grid
		}
		batch, err := stack(grids)
		if err != nil {
			return fmt.Errorf("t2i text %d: %w", i, err)
		}

		ids := make([][]int64, len(topIdx))
		masks := make([][]int64, len(topIdx))
		for j := range topIdx {
			ids[j] = texts.IDs[i]
			masks[j] = texts.Mask[i]
		}

		itm, err := r.match(ctx, batch, ids, masks)
		if err != nil {
			return fmt.Errorf("t2i text %d: %w", i, err)
		}

		for j, img := range topIdx {
			scores[i][img] = itm[j] + topSims[j]
		}
		pb.Increment()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return scores, nil
}

func (r *ITMRanker) clamp(k, n int, direction string) int {
	if k > n {
		r.Logger.Warn("k_test exceeds candidate count, clamping",
			"direction", direction, "k_test", k, "candidates", n)
		return n
	}
	return k
}

func (r *ITMRanker) match(ctx context.Context, batch blipeval.Tensor, ids, masks [][]int64) ([]float64, error) {
	logits, err := r.Matcher.Match(ctx, batch, ids, masks)
	if err != nil {
		return nil, err
	}
	scores, err := PositiveScore(logits)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(ids) {
		return nil, fmt.Errorf("matcher returned %d scores for %d pairs", len(scores), len(ids))
	}
	return scores, nil
}

// PositiveScore reduces [B, Q, C] ITM logits to one score per pair: the
// positive class logit averaged over the query axis.
func PositiveScore(logits blipeval.Tensor) ([]float64, error) {
	if len(logits.Shape) != 3 {
		return nil, fmt.Errorf("ITM logits must be rank 3, got shape %v", logits.Shape)
	}
	if err := logits.Validate(); err != nil {
		return nil, err
	}
	batch, queries, classes := logits.Dim(0), logits.Dim(1), logits.Dim(2)
	if classes <= positiveClass || queries == 0 {
		return nil, fmt.Errorf("ITM logits shape %v has no positive class", logits.Shape)
	}

	out := make([]float64, batch)
	for b := 0; b < batch; b++ {
		var sum float32
		for q := 0; q < queries; q++ {
			sum += logits.Data[(b*queries+q)*classes+positiveClass]
		}
		out[b] = float64(sum / float32(queries))
	}
	return out, nil
}

// featureGrid views a [1, P, D] or [P, D] feature tensor as [P, D]
func featureGrid(t blipeval.Tensor) (blipeval.Tensor, error) {
	switch {
	case len(t.Shape) == 3 && t.Shape[0] == 1:
		t = t.Index(0)
	case len(t.Shape) == 2:
	default:
		return blipeval.Tensor{}, fmt.Errorf("feature grid must be [1, P, D] or [P, D], got %v", t.Shape)
	}
	return t, t.Validate()
}

// repeat tiles a [P, D] grid n times into [n, P, D]
func repeat(grid blipeval.Tensor, n int) blipeval.Tensor {
	out := blipeval.NewTensor(append([]int64{int64(n)}, grid.Shape...)...)
	stride := len(grid.Data)
	for i := 0; i < n; i++ {
		copy(out.Data[i*stride:], grid.Data)
	}
	return out
}

// stack concatenates equally shaped [P, D] grids into [n, P, D]
func stack(grids []blipeval.Tensor) (blipeval.Tensor, error) {
	if len(grids) == 0 {
		return blipeval.Tensor{}, fmt.Errorf("nothing to stack")
	}
	shape := grids[0].Shape
	out := blipeval.NewTensor(append([]int64{int64(len(grids))}, shape...)...)
	stride := len(grids[0].Data)
	for i, g := range grids {
		if len(g.Data) != stride {
			return blipeval.Tensor{}, fmt.Errorf("grid %d has %d elements, expected %d", i, len(g.Data), stride)
		}
		copy(out.Data[i*stride:], g.Data)
	}
	return out, nil
}
