package evaluate

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	blipeval "github.com/Mineru98/blip2-eval-go"
	"github.com/Mineru98/blip2-eval-go/rank"
	"github.com/Mineru98/blip2-eval-go/retrieve"
	"github.com/Mineru98/blip2-eval-go/utils"
)

// textEntry is one encoded text: its tokens and normalized embedding
type textEntry struct {
	ids   []int64
	mask  []int64
	embed []float32
}

// imageEntry is one encoded image: the raw grid and the normalized fused embedding
type imageEntry struct {
	features blipeval.Tensor
	embed    blipeval.Tensor
}

// RunRetrieval computes image-to-text and text-to-image score matrices with
// coarse embedding similarity followed by ITM re-ranking of the top KTest
// candidates per row.
func (p *Pipeline) RunRetrieval(ctx context.Context, ds blipeval.RetrievalDataset, opts Options) (*RetrievalResults, error) {
	if p.tokenizer == nil {
		return nil, errors.New("retrieval requires a text tokenizer")
	}
	if err := opts.validateRetrieval(); err != nil {
		return nil, err
	}

	logger := p.runLogger(blipeval.TaskRetrieval)

	numImages := opts.sampleCount(ds.Len())
	allTexts := ds.Texts()
	texts := allTexts[:opts.textCount(len(allTexts))]
	logger.Info("retrieval started",
		"images", numImages, "texts", len(texts), "k_test", opts.KTest,
		"text_bs", opts.TextBatchSize, "workers", opts.Workers)

	logger.Info("Getting text embeddings")
	tokens, textEmbeds, err := p.encodeTexts(ctx, texts, opts)
	if err != nil {
		return nil, fmt.Errorf("text embeddings: %w", err)
	}

	logger.Info("Getting image embeddings")
	features, imageEmbeds, err := p.encodeImages(ctx, ds, numImages, opts)
	if err != nil {
		return nil, fmt.Errorf("image embeddings: %w", err)
	}

	sims, err := retrieve.CoarseSimilarity(imageEmbeds, textEmbeds)
	if err != nil {
		return nil, fmt.Errorf("coarse similarity: %w", err)
	}
	imageEmbeds = nil

	results := &RetrievalResults{
		Txt2Img: ds.Txt2Img(),
		Img2Txt: ds.Img2Txt(),
	}

	if sims == nil {
		logger.Warn("nothing to rank", "images", numImages, "texts", len(texts))
		results.ScoresI2T = rank.NewScoreMatrix(numImages, len(texts))
		results.ScoresT2I = rank.NewScoreMatrix(len(texts), numImages)
		return results, nil
	}

	ranker := rank.NewITMRanker(p.model, opts.Workers, p.progress, logger)

	logger.Info("Calculating i2t score matrix")
	results.ScoresI2T, err = ranker.RankImageToText(ctx, sims, features, tokens, opts.KTest)
	if err != nil {
		return nil, fmt.Errorf("image to text ranking: %w", err)
	}

	logger.Info("Calculating t2i score matrix")
	simsT := mat.DenseCopyOf(sims.T())
	results.ScoresT2I, err = ranker.RankTextToImage(ctx, simsT, features, tokens, opts.KTest)
	if err != nil {
		return nil, fmt.Errorf("text to image ranking: %w", err)
	}

	logger.Info("retrieval finished")
	return results, nil
}

// encodeTexts tokenizes and embeds texts in batches. Tokens and embeddings
// are concatenated in text order; embeddings are [T, E].
func (p *Pipeline) encodeTexts(ctx context.Context, texts []string, opts Options) (rank.TextTokens, blipeval.Tensor, error) {
	numBatches := (len(texts) + opts.TextBatchSize - 1) / opts.TextBatchSize
	pb := utils.NewProgressBar(p.progress, numBatches, "Getting text embeddings")

	entries, err := utils.BatchProcessParallel(ctx, texts, opts.TextBatchSize, opts.Workers,
		func(ctx context.Context, batch []string) ([]textEntry, error) {
			defer pb.Increment()
			return p.encodeTextBatch(ctx, batch)
		})
	if err != nil {
		return rank.TextTokens{}, blipeval.Tensor{}, err
	}

	tokens := rank.TextTokens{
		IDs:  make([][]int64, len(entries)),
		Mask: make([][]int64, len(entries)),
	}
	dim := 0
	if len(entries) > 0 {
		dim = len(entries[0].embed)
	}
	embeds := blipeval.NewTensor(int64(len(entries)), int64(dim))
	for i, e := range entries {
		if len(e.embed) != dim {
			return rank.TextTokens{}, blipeval.Tensor{}, fmt.Errorf("text %d has embedding width %d, expected %d", i, len(e.embed), dim)
		}
		tokens.IDs[i] = e.ids
		tokens.Mask[i] = e.mask
		copy(embeds.Data[i*dim:(i+1)*dim], e.embed)
	}

	return tokens, embeds, nil
}

func (p *Pipeline) encodeTextBatch(ctx context.Context, batch []string) ([]textEntry, error) {
	ids, masks, err := p.tokenizer.EncodeBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	hidden, err := p.model.EncodeText(ctx, ids, masks)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if len(hidden.Shape) != 3 || hidden.Dim(0) != len(batch) || hidden.Dim(1) == 0 {
		return nil, fmt.Errorf("text encoder returned shape %v for %d texts", hidden.Shape, len(batch))
	}
	if err := hidden.Validate(); err != nil {
		return nil, fmt.Errorf("text encoder: %w", err)
	}

	// the pooled feature is the first position of every sequence
	dim := hidden.Dim(2)
	pooled := make([]float32, len(batch)*dim)
	for b := 0; b < len(batch); b++ {
		copy(pooled[b*dim:(b+1)*dim], hidden.Index(b).Data[:dim])
	}
	utils.NormalizeRows(pooled, dim)

	entries := make([]textEntry, len(batch))
	for b := range batch {
		entries[b] = textEntry{
			ids:   ids[b],
			mask:  masks[b],
			embed: pooled[b*dim : (b+1)*dim],
		}
	}
	return entries, nil
}

// encodeImages encodes images one at a time. It returns the raw feature
// grids and the normalized fused embeddings in dataset order.
func (p *Pipeline) encodeImages(ctx context.Context, ds blipeval.RetrievalDataset, n int, opts Options) ([]blipeval.Tensor, []blipeval.Tensor, error) {
	entries := make([]imageEntry, n)
	pb := utils.NewProgressBar(p.progress, n, "Getting image embeddings")

	err := utils.ParallelFor(ctx, n, opts.Workers, func(ctx context.Context, i int) error {
		pixels, err := ds.Image(i)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}

		features, err := p.model.EncodeImage(ctx, pixels)
		if err != nil {
			return fmt.Errorf("image %d: encode: %w", i, err)
		}

		fused, err := p.model.Fuse(ctx, features)
		if err != nil {
			return fmt.Errorf("image %d: fuse: %w", i, err)
		}
		if len(fused.Shape) == 0 {
			return fmt.Errorf("image %d: fused embedding has no shape", i)
		}
		if err := fused.Validate(); err != nil {
			return fmt.Errorf("image %d: fused embedding: %w", i, err)
		}
		utils.NormalizeRows(fused.Data, fused.Dim(len(fused.Shape)-1))

		entries[i] = imageEntry{features: features, embed: fused}
		pb.Increment()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	features := make([]blipeval.Tensor, n)
	embeds := make([]blipeval.Tensor, n)
	for i, e := range entries {
		features[i] = e.features
		embeds[i] = e.embed
	}
	return features, embeds, nil
}
