package blipeval

import (
	"context"
	"fmt"
	"image"
)

// Task identifies an evaluation procedure
type Task string

const (
	// TaskCaptioning generates one caption per image
	TaskCaptioning Task = "image_captioning"
	// TaskRetrieval scores every image against every text
	TaskRetrieval Task = "image_text_retrieval"
)

// ParseTask maps a task tag, or its short alias, to a Task
func ParseTask(tag string) (Task, error) {
	switch tag {
	case string(TaskCaptioning), "captioning", "caption":
		return TaskCaptioning, nil
	case string(TaskRetrieval), "retrieval", "itr":
		return TaskRetrieval, nil
	default:
		return "", &UnsupportedTaskError{Task: tag}
	}
}

// Tensor is a dense row-major float32 array
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewTensor allocates a zeroed tensor of the given shape
func NewTensor(shape ...int64) Tensor {
	return Tensor{Data: make([]float32, numel(shape)), Shape: shape}
}

// Len returns the number of elements implied by the shape
func (t Tensor) Len() int {
	return numel(t.Shape)
}

// Dim returns the size of axis i
func (t Tensor) Dim(i int) int {
	return int(t.Shape[i])
}

// Index returns the i-th slice along the leading axis as a view
func (t Tensor) Index(i int) Tensor {
	inner := t.Shape[1:]
	stride := numel(inner)
	return Tensor{Data: t.Data[i*stride : (i+1)*stride], Shape: inner}
}

// Validate checks that the data length matches the shape
func (t Tensor) Validate() error {
	if len(t.Data) != t.Len() {
		return fmt.Errorf("tensor data has %d elements, shape %v needs %d", len(t.Data), t.Shape, t.Len())
	}
	return nil
}

func numel(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// Model is the capability set of a pretrained vision-language model.
// Parameters are immutable for the lifetime of an evaluation run.
type Model interface {
	// Generate produces caption token ids for a [1, 3, H, W] pixel tensor
	Generate(ctx context.Context, pixels Tensor) ([]uint32, error)

	// EncodeText returns projected hidden states [B, L, E]; position 0 is the pooled feature
	EncodeText(ctx context.Context, inputIDs, attentionMask [][]int64) (Tensor, error)

	// EncodeImage returns the raw vision feature grid [1, P, D] in host memory
	EncodeImage(ctx context.Context, pixels Tensor) (Tensor, error)

	// Fuse cross-attends the learned query vectors to a feature grid and projects them, [1, Q, E]
	Fuse(ctx context.Context, features Tensor) (Tensor, error)

	// Match scores [B, P, D] feature grids against B token sequences, returning ITM logits [B, Q, C]
	Match(ctx context.Context, features Tensor, inputIDs, attentionMask [][]int64) (Tensor, error)

	// Close releases model resources
	Close() error
}

// Decoder turns generated token ids back into text
type Decoder interface {
	Decode(ids []uint32, skipSpecialTokens bool) (string, error)
}

// TextTokenizer produces fixed-length padded token ids and attention masks
type TextTokenizer interface {
	EncodeBatch(texts []string) ([][]int64, [][]int64, error)
}

// ImageProcessor converts a decoded image into model pixel values
type ImageProcessor interface {
	Preprocess(img image.Image) (Tensor, error)
}

// CaptionDataset is an ordered collection of images with reference captions
type CaptionDataset interface {
	Len() int

	// ID returns the stable external identifier of sample i
	ID(i int) string

	// CaptionSample returns the image and the reference captions of sample i
	CaptionSample(i int) (image.Image, []string, error)
}

// RetrievalDataset exposes a flat text list, per-image pixel values and the
// ground-truth mapping tables
type RetrievalDataset interface {
	Len() int

	// Texts returns every candidate text in a fixed order
	Texts() []string

	// Image returns the preprocessed pixel values of image i
	Image(i int) (Tensor, error)

	// Img2Txt maps an image index to its matching text indices
	Img2Txt() [][]int

	// Txt2Img maps a text index to its matching image indices
	Txt2Img() [][]int
}
