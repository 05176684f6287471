package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// PipelineConfig holds the collaborators of an evaluation pipeline.
// Captioning needs Processor and Decoder; retrieval needs Tokenizer.
type PipelineConfig struct {
	Model     blipeval.Model
	Processor blipeval.ImageProcessor
	Decoder   blipeval.Decoder
	Tokenizer blipeval.TextTokenizer
	Logger    *slog.Logger
	Progress  io.Writer
}

// Pipeline drives captioning and retrieval evaluations over a model
type Pipeline struct {
	model     blipeval.Model
	processor blipeval.ImageProcessor
	decoder   blipeval.Decoder
	tokenizer blipeval.TextTokenizer
	logger    *slog.Logger
	progress  io.Writer
}

// NewPipeline creates a new evaluation pipeline
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	if config.Model == nil {
		return nil, errors.New("pipeline requires a model")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Progress == nil {
		config.Progress = io.Discard
	}

	return &Pipeline{
		model:     config.Model,
		processor: config.Processor,
		decoder:   config.Decoder,
		tokenizer: config.Tokenizer,
		logger:    config.Logger,
		progress:  config.Progress,
	}, nil
}

// Run dispatches on task. dataset must implement blipeval.CaptionDataset
// for captioning and blipeval.RetrievalDataset for retrieval.
func (p *Pipeline) Run(ctx context.Context, dataset any, task blipeval.Task, opts Options) (Results, error) {
	switch task {
	case blipeval.TaskCaptioning:
		ds, ok := dataset.(blipeval.CaptionDataset)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a caption dataset, got %T", blipeval.ErrDatasetMismatch, task, dataset)
		}
		res, err := p.RunCaptioning(ctx, ds, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	case blipeval.TaskRetrieval:
		ds, ok := dataset.(blipeval.RetrievalDataset)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs a retrieval dataset, got %T", blipeval.ErrDatasetMismatch, task, dataset)
		}
		res, err := p.RunRetrieval(ctx, ds, opts)
		if err != nil {
			return nil, err
		}
		return res, nil
	default:
		return nil, &blipeval.UnsupportedTaskError{Task: string(task)}
	}
}

func (p *Pipeline) runLogger(task blipeval.Task) *slog.Logger {
	return p.logger.With("run_id", uuid.NewString(), "task", string(task))
}
