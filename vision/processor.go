package vision

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// CLIP normalization constants used by the BLIP-2 vision encoder
var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// DefaultImageSize is the evaluation resolution of the ViT-g encoder
const DefaultImageSize = 224

// Processor resizes an image to a square and normalizes it into a
// [1, 3, Size, Size] CHW tensor
type Processor struct {
	Size   int
	Mean   [3]float32
	Std    [3]float32
	Interp draw.Interpolator
}

// NewProcessor creates a processor with CLIP statistics and bicubic resizing
func NewProcessor(size int) *Processor {
	if size <= 0 {
		size = DefaultImageSize
	}
	return &Processor{
		Size:   size,
		Mean:   ClipMean,
		Std:    ClipStd,
		Interp: draw.CatmullRom,
	}
}

// Preprocess converts img into model pixel values
func (p *Processor) Preprocess(img image.Image) (blipeval.Tensor, error) {
	if img == nil {
		return blipeval.Tensor{}, fmt.Errorf("nil image")
	}

	resized, err := Resize(img, p.Size, p.Size, p.Interp)
	if err != nil {
		return blipeval.Tensor{}, err
	}

	t := blipeval.NewTensor(1, 3, int64(p.Size), int64(p.Size))
	NormalizeCHW(resized, p.Mean, p.Std, t.Data)
	return t, nil
}

// NormalizeCHW writes (pixel/255 - mean) / std for each channel of img into
// dst in channel-first order. dst must hold 3*W*H values.
func NormalizeCHW(img *image.RGBA, mean, std [3]float32, dst []float32) {
	bounds := img.Bounds()
	size := bounds.Dx() * bounds.Dy()

	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			off := img.PixOffset(x, y)
			r := float32(img.Pix[off]) / 255
			g := float32(img.Pix[off+1]) / 255
			b := float32(img.Pix[off+2]) / 255

			dst[idx] = (r - mean[0]) / std[0]
			dst[size+idx] = (g - mean[1]) / std[1]
			dst[2*size+idx] = (b - mean[2]) / std[2]
			idx++
		}
	}
}
