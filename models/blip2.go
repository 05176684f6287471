package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// ONNX graph file names inside a BLIP-2 export directory
const (
	VisionModelFile    = "vision_model.onnx"
	QFormerTextFile    = "qformer_text.onnx"
	QFormerVisionFile  = "qformer_vision.onnx"
	ITMFile            = "itm.onnx"
	CaptionDecoderFile = "caption_decoder.onnx"
)

// runner is the inference surface of an ONNX session
type runner interface {
	Run(inputs map[string]any) ([]blipeval.Tensor, error)
	Close() error
}

// BLIP2Config holds configuration for the BLIP-2 model
type BLIP2Config struct {
	ModelDir string

	// Caption generation
	DecoderStartTokenID int64
	EOSTokenID          int64
	MaxNewTokens        int
}

// DefaultBLIP2Config returns the generation settings of the OPT-2.7b captioner
func DefaultBLIP2Config(modelDir string) BLIP2Config {
	return BLIP2Config{
		ModelDir:            modelDir,
		DecoderStartTokenID: 2,
		EOSTokenID:          50118,
		MaxNewTokens:        30,
	}
}

// BLIP2 serves the BLIP-2 capability set from a directory of ONNX graphs.
// Graphs that are missing from the directory leave the matching operation
// unavailable; captioning only needs the vision model and caption decoder.
type BLIP2 struct {
	config  BLIP2Config
	vision  runner
	text    runner
	fusion  runner
	itm     runner
	decoder runner
}

// NewBLIP2 loads every graph present in config.ModelDir
func NewBLIP2(config BLIP2Config) (*BLIP2, error) {
	if config.MaxNewTokens <= 0 {
		config.MaxNewTokens = DefaultBLIP2Config("").MaxNewTokens
	}

	m := &BLIP2{config: config}
	targets := []struct {
		file string
		dst  *runner
	}{
		{VisionModelFile, &m.vision},
		{QFormerTextFile, &m.text},
		{QFormerVisionFile, &m.fusion},
		{ITMFile, &m.itm},
		{CaptionDecoderFile, &m.decoder},
	}

	for _, target := range targets {
		path := filepath.Join(config.ModelDir, target.file)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		session, err := NewONNXModel(path)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to load %s: %w", target.file, err)
		}
		*target.dst = session
	}

	if m.vision == nil {
		_ = m.Close()
		return nil, fmt.Errorf("%s not found in %s", VisionModelFile, config.ModelDir)
	}

	return m, nil
}

// EncodeImage runs the vision transformer
func (m *BLIP2) EncodeImage(_ context.Context, pixels blipeval.Tensor) (blipeval.Tensor, error) {
	out, err := runFirst(m.vision, VisionModelFile, map[string]any{
		"pixel_values": pixels,
	})
	if err != nil {
		return blipeval.Tensor{}, err
	}
	return out, expectRank(out, 3, VisionModelFile)
}

// EncodeText runs the text path of the Q-Former with no query tokens
func (m *BLIP2) EncodeText(_ context.Context, inputIDs, attentionMask [][]int64) (blipeval.Tensor, error) {
	out, err := runFirst(m.text, QFormerTextFile, map[string]any{
		"input_ids":      inputIDs,
		"attention_mask": attentionMask,
	})
	if err != nil {
		return blipeval.Tensor{}, err
	}
	return out, expectRank(out, 3, QFormerTextFile)
}

// Fuse runs the learned queries against the image features
func (m *BLIP2) Fuse(_ context.Context, features blipeval.Tensor) (blipeval.Tensor, error) {
	out, err := runFirst(m.fusion, QFormerVisionFile, map[string]any{
		"image_embeds": features,
	})
	if err != nil {
		return blipeval.Tensor{}, err
	}
	return out, expectRank(out, 3, QFormerVisionFile)
}

// Match runs the image-text matching head
func (m *BLIP2) Match(_ context.Context, features blipeval.Tensor, inputIDs, attentionMask [][]int64) (blipeval.Tensor, error) {
	out, err := runFirst(m.itm, ITMFile, map[string]any{
		"image_embeds":   features,
		"input_ids":      inputIDs,
		"attention_mask": attentionMask,
	})
	if err != nil {
		return blipeval.Tensor{}, err
	}
	return out, expectRank(out, 3, ITMFile)
}

// Close releases every loaded session
func (m *BLIP2) Close() error {
	var errs []error
	for _, r := range []*runner{&m.vision, &m.text, &m.fusion, &m.itm, &m.decoder} {
		if *r == nil {
			continue
		}
		errs = append(errs, (*r).Close())
		*r = nil
	}
	return errors.Join(errs...)
}

func runFirst(r runner, file string, inputs map[string]any) (blipeval.Tensor, error) {
	if r == nil {
		return blipeval.Tensor{}, fmt.Errorf("%s is not loaded", file)
	}
	outputs, err := r.Run(inputs)
	if err != nil {
		return blipeval.Tensor{}, fmt.Errorf("%s: %w", file, err)
	}
	if len(outputs) == 0 {
		return blipeval.Tensor{}, fmt.Errorf("%s produced no outputs", file)
	}
	return outputs[0], nil
}

func expectRank(t blipeval.Tensor, rank int, file string) error {
	if len(t.Shape) != rank {
		return fmt.Errorf("%s: expected rank %d output, got shape %v", file, rank, t.Shape)
	}
	return t.Validate()
}
