package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	blipeval "github.com/Mineru98/blip2-eval-go"
	"github.com/Mineru98/blip2-eval-go/utils"
)

// RunCaptioning captions the first min(len, MaxSamples) images. Predictions
// and references share indices and keep dataset order.
func (p *Pipeline) RunCaptioning(ctx context.Context, ds blipeval.CaptionDataset, opts Options) (*CaptionResults, error) {
	if p.processor == nil || p.decoder == nil {
		return nil, errors.New("captioning requires an image processor and a decoder")
	}

	logger := p.runLogger(blipeval.TaskCaptioning)
	n := opts.sampleCount(ds.Len())
	logger.Info("captioning started", "samples", n, "workers", opts.Workers)

	results := &CaptionResults{
		Predictions: make([]Prediction, n),
		References:  make([][]string, n),
	}

	pb := utils.NewProgressBar(p.progress, n, "Captioning")
	err := utils.ParallelFor(ctx, n, opts.Workers, func(ctx context.Context, i int) error {
		img, refs, err := ds.CaptionSample(i)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}

		pixels, err := p.processor.Preprocess(img)
		if err != nil {
			return fmt.Errorf("sample %d: preprocess: %w", i, err)
		}

		tokens, err := p.model.Generate(ctx, pixels)
		if err != nil {
			return fmt.Errorf("sample %d: generate: %w", i, err)
		}

		caption, err := p.decoder.Decode(tokens, true)
		if err != nil {
			return fmt.Errorf("sample %d: decode: %w", i, err)
		}

		results.Predictions[i] = Prediction{
			ImageID: ds.ID(i),
			Caption: strings.TrimSpace(caption),
		}
		if refs == nil {
			refs = []string{}
		}
		results.References[i] = refs
		pb.Increment()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("captioning failed: %w", err)
	}

	logger.Info("captioning finished", "predictions", len(results.Predictions))
	return results, nil
}
