package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	blipeval "github.com/Mineru98/blip2-eval-go"
	"github.com/Mineru98/blip2-eval-go/config"
	"github.com/Mineru98/blip2-eval-go/dataset"
	"github.com/Mineru98/blip2-eval-go/evaluate"
	"github.com/Mineru98/blip2-eval-go/internal/logger"
	"github.com/Mineru98/blip2-eval-go/models"
	"github.com/Mineru98/blip2-eval-go/tokenizer"
	"github.com/Mineru98/blip2-eval-go/vision"
)

// runFlags mirrors the flags of the run command
type runFlags struct {
	task          string
	maxSamples    int
	kTest         int
	textBatchSize int
	workers       int
	output        string
}

func newRunCmd() *cobra.Command {
	flags := runFlags{}
	defaults := evaluate.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an evaluation and save its results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env")
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				flags.workers = cfg.Workers
			}
			return runEvaluation(cmd, cfg, flags)
		},
	}

	cmd.Flags().StringVar(&flags.task, "task", string(blipeval.TaskRetrieval), "Task to run (image_captioning or image_text_retrieval)")
	cmd.Flags().IntVar(&flags.maxSamples, "max-samples", defaults.MaxSamples, "Maximum number of images to evaluate (-1 for all)")
	cmd.Flags().IntVar(&flags.kTest, "k-test", defaults.KTest, "Shortlist size of the ITM re-ranking")
	cmd.Flags().IntVar(&flags.textBatchSize, "text-bs", defaults.TextBatchSize, "Texts encoded per model call")
	cmd.Flags().IntVar(&flags.workers, "workers", defaults.Workers, "Goroutines used for per-item work")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "results.json", "Path of the results file")

	return cmd
}

func runEvaluation(cmd *cobra.Command, cfg *config.Config, flags runFlags) (err error) {
	logConfig := logger.DefaultConfig()
	logConfig.Level = logger.ParseLevel(cfg.Log.Level)
	logConfig.Format = cfg.Log.Format
	logConfig.Output = cmd.ErrOrStderr()
	log := logger.New(logConfig)

	task, err := blipeval.ParseTask(flags.task)
	if err != nil {
		return err
	}
	if cfg.Dataset.Annotations == "" {
		return errors.New("BLIP_EVAL_ANNOTATIONS is not set")
	}

	if err := models.InitRuntime(cfg.Model.ORTLibraryPath); err != nil {
		return err
	}

	modelConfig := models.DefaultBLIP2Config(cfg.Model.Dir)
	modelConfig.MaxNewTokens = cfg.Model.MaxNewTokens
	model, err := models.NewBLIP2(modelConfig)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer func() {
		err = errors.Join(err, model.Close())
	}()

	processor := vision.NewProcessor(cfg.Model.ImageSize)
	pipelineConfig := evaluate.PipelineConfig{
		Model:     model,
		Processor: processor,
		Logger:    log,
		Progress:  cmd.ErrOrStderr(),
	}

	var ds any
	switch task {
	case blipeval.TaskCaptioning:
		decoder, err := tokenizer.NewBERTTokenizer(cfg.Model.CaptionTokenizer, 0)
		if err != nil {
			return fmt.Errorf("failed to load caption tokenizer: %w", err)
		}
		defer decoder.Close()
		pipelineConfig.Decoder = decoder

		if ds, err = dataset.NewCOCOCaptionDataset(cfg.Dataset.Annotations, cfg.Dataset.ImageRoot); err != nil {
			return err
		}
	case blipeval.TaskRetrieval:
		textTokenizer, err := tokenizer.NewBERTTokenizer(cfg.Model.TextTokenizer, tokenizer.RetrievalMaxLength)
		if err != nil {
			return fmt.Errorf("failed to load text tokenizer: %w", err)
		}
		defer textTokenizer.Close()
		textTokenizer.SetBOSToken("[DEC]")
		pipelineConfig.Tokenizer = textTokenizer

		if ds, err = dataset.NewCOCORetrievalDataset(cfg.Dataset.Annotations, cfg.Dataset.ImageRoot, processor, dataset.DefaultMaxWords); err != nil {
			return err
		}
	}

	pipeline, err := evaluate.NewPipeline(pipelineConfig)
	if err != nil {
		return err
	}

	results, err := pipeline.Run(cmd.Context(), ds, task, evaluate.Options{
		MaxSamples:    flags.maxSamples,
		KTest:         flags.kTest,
		TextBatchSize: flags.textBatchSize,
		Workers:       flags.workers,
	})
	if err != nil {
		return err
	}

	if err := evaluate.Save(results, flags.output); err != nil {
		return err
	}
	log.Info("results saved", slog.String("path", flags.output), slog.String("task", string(task)))
	return nil
}
