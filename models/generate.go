package models

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// Generate captions an image with greedy decoding. The returned ids start
// with the decoder start token and stop at (and include) EOS.
func (m *BLIP2) Generate(ctx context.Context, pixels blipeval.Tensor) ([]uint32, error) {
	if m.decoder == nil {
		return nil, fmt.Errorf("%s is not loaded", CaptionDecoderFile)
	}

	features, err := m.EncodeImage(ctx, pixels)
	if err != nil {
		return nil, err
	}

	return greedyDecode(ctx, m.decoder, features, m.config)
}

func greedyDecode(ctx context.Context, decoder runner, features blipeval.Tensor, config BLIP2Config) ([]uint32, error) {
	ids := []int64{config.DecoderStartTokenID}
	logits := make([]float64, 0)

	for step := 0; step < config.MaxNewTokens; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := runFirst(decoder, CaptionDecoderFile, map[string]any{
			"image_embeds":   features,
			"input_ids":      [][]int64{ids},
			"attention_mask": [][]int64{ones(len(ids))},
		})
		if err != nil {
			return nil, fmt.Errorf("decoding step %d: %w", step, err)
		}
		if len(out.Shape) != 3 || out.Dim(0) != 1 {
			return nil, fmt.Errorf("decoding step %d: unexpected logits shape %v", step, out.Shape)
		}

		vocab := out.Dim(2)
		if vocab == 0 || out.Dim(1) == 0 {
			return nil, fmt.Errorf("decoding step %d: empty logits shape %v", step, out.Shape)
		}
		if err := out.Validate(); err != nil {
			return nil, fmt.Errorf("decoding step %d: %w", step, err)
		}
		last := out.Data[(out.Dim(1)-1)*vocab : out.Dim(1)*vocab]
		logits = logits[:0]
		for _, v := range last {
			logits = append(logits, float64(v))
		}

		next := int64(floats.MaxIdx(logits))
		ids = append(ids, next)
		if next == config.EOSTokenID {
			break
		}
	}

	tokens := make([]uint32, len(ids))
	for i, id := range ids {
		tokens[i] = uint32(id)
	}
	return tokens, nil
}

func ones(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
