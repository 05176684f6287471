package evaluate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// fakeModel is a deterministic stand-in for a vision-language model. Image
// identity travels through the first pixel value, text identity through the
// first token id.
type fakeModel struct {
	generateErr error
	matchErr    error

	// shortText drops the tail of the EncodeText buffer
	shortText bool
}

func (m *fakeModel) Generate(_ context.Context, pixels blipeval.Tensor) ([]uint32, error) {
	if m.generateErr != nil {
		return nil, m.generateErr
	}
	return []uint32{uint32(pixels.Data[0])}, nil
}

func (m *fakeModel) EncodeText(_ context.Context, ids, _ [][]int64) (blipeval.Tensor, error) {
	out := blipeval.NewTensor(int64(len(ids)), 2, 3)
	for b, row := range ids {
		v := textVector(int(row[0]))
		copy(out.Data[b*6:b*6+3], v)
		// position 1 must be ignored by pooling
		copy(out.Data[b*6+3:b*6+6], []float32{100, 100, 100})
	}
	if m.shortText {
		out.Data = out.Data[:len(out.Data)-4]
	}
	return out, nil
}

func (m *fakeModel) EncodeImage(_ context.Context, pixels blipeval.Tensor) (blipeval.Tensor, error) {
	v := pixels.Data[0]
	return blipeval.Tensor{Data: []float32{v, v, v, v}, Shape: []int64{1, 2, 2}}, nil
}

func (m *fakeModel) Fuse(_ context.Context, features blipeval.Tensor) (blipeval.Tensor, error) {
	j := features.Data[0]
	return blipeval.Tensor{
		Data:  []float32{1, j, 0, 0, 1, j},
		Shape: []int64{1, 2, 3},
	}, nil
}

func (m *fakeModel) Match(_ context.Context, features blipeval.Tensor, ids, _ [][]int64) (blipeval.Tensor, error) {
	if m.matchErr != nil {
		return blipeval.Tensor{}, m.matchErr
	}
	b := features.Dim(0)
	stride := features.Len() / b
	out := blipeval.NewTensor(int64(b), 2, 2)
	for i := 0; i < b; i++ {
		v := matchLogit(int(features.Data[i*stride]), int(ids[i][0]))
		out.Data[(i*2+0)*2+1] = v
		out.Data[(i*2+1)*2+1] = v
	}
	return out, nil
}

func (m *fakeModel) Close() error { return nil }

func textVector(i int) []float32 {
	return []float32{1, float32(i), float32(i % 3)}
}

func matchLogit(img, text int) float32 {
	return float32(img*10+text) / 100
}

// expectedCoarse mirrors the pipeline's coarse similarity for the fake model
func expectedCoarse(img, text int) float64 {
	norm := func(v []float64) []float64 {
		var s float64
		for _, x := range v {
			s += x * x
		}
		s = math.Max(math.Sqrt(s), 1e-12)
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = x / s
		}
		return out
	}
	tv := textVector(text)
	t := norm([]float64{float64(tv[0]), float64(tv[1]), float64(tv[2])})
	j := float64(img)
	q1 := norm([]float64{1, j, 0})
	q2 := norm([]float64{0, 1, j})
	dot := func(a, b []float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }
	return math.Max(dot(q1, t), dot(q2, t))
}

// indexTokenizer encodes "text-<i>" as [i, 1, 0, 0]
type indexTokenizer struct{}

func (indexTokenizer) EncodeBatch(texts []string) ([][]int64, [][]int64, error) {
	ids := make([][]int64, len(texts))
	masks := make([][]int64, len(texts))
	for i, text := range texts {
		var idx int
		if _, err := fmt.Sscanf(text, "text-%d", &idx); err != nil {
			return nil, nil, fmt.Errorf("bad text %q", text)
		}
		ids[i] = []int64{int64(idx), 1, 0, 0}
		masks[i] = []int64{1, 1, 0, 0}
	}
	return ids, masks, nil
}

type retrievalDataset struct {
	images int
	texts  int
}

func (d retrievalDataset) Len() int { return d.images }

func (d retrievalDataset) Texts() []string {
	out := make([]string, d.texts)
	for i := range out {
		out[i] = fmt.Sprintf("text-%d", i)
	}
	return out
}

func (d retrievalDataset) Image(i int) (blipeval.Tensor, error) {
	if i >= d.images {
		return blipeval.Tensor{}, errors.New("out of range")
	}
	return blipeval.Tensor{Data: []float32{float32(i)}, Shape: []int64{1, 1, 1, 1}}, nil
}

func (d retrievalDataset) Img2Txt() [][]int {
	out := make([][]int, d.images)
	for i := range out {
		for t := 0; t < d.texts; t++ {
			if t%d.images == i {
				out[i] = append(out[i], t)
			}
		}
	}
	return out
}

func (d retrievalDataset) Txt2Img() [][]int {
	out := make([][]int, d.texts)
	for t := range out {
		out[t] = []int{t % d.images}
	}
	return out
}

// captionDataset stores the sample index in the red channel of a 1x1 image
type captionDataset struct {
	n int
}

func (d captionDataset) Len() int { return d.n }

func (d captionDataset) ID(i int) string { return fmt.Sprintf("img-%d", i) }

func (d captionDataset) CaptionSample(i int) (image.Image, []string, error) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: uint8(i), A: 255})
	return img, []string{fmt.Sprintf("ref %d a", i), fmt.Sprintf("ref %d b", i)}, nil
}

type redProcessor struct{}

func (redProcessor) Preprocess(img image.Image) (blipeval.Tensor, error) {
	r, _, _, _ := img.At(0, 0).RGBA()
	return blipeval.Tensor{Data: []float32{float32(r >> 8)}, Shape: []int64{1, 1, 1, 1}}, nil
}

type paddedDecoder struct{}

func (paddedDecoder) Decode(ids []uint32, _ bool) (string, error) {
	return fmt.Sprintf("  a photo of thing %d \n", ids[0]), nil
}
