package dataset

import (
	"fmt"
	"image"
	"path/filepath"

	blipeval "github.com/Mineru98/blip2-eval-go"
	"github.com/Mineru98/blip2-eval-go/vision"
)

// COCOCaptionDataset serves Karpathy-split images with their reference captions
type COCOCaptionDataset struct {
	root string
	anns []Annotation
	ids  []string
}

// NewCOCOCaptionDataset loads an annotation file; image paths are relative to imageRoot
func NewCOCOCaptionDataset(annotationPath, imageRoot string) (*COCOCaptionDataset, error) {
	anns, err := LoadAnnotations(annotationPath)
	if err != nil {
		return nil, err
	}
	return newCOCOCaptionDataset(anns, imageRoot), nil
}

func newCOCOCaptionDataset(anns []Annotation, imageRoot string) *COCOCaptionDataset {
	ids := make([]string, len(anns))
	for i, ann := range anns {
		ids[i] = ImageID(ann.Image)
	}
	return &COCOCaptionDataset{root: imageRoot, anns: anns, ids: ids}
}

// Len returns the number of annotated images
func (d *COCOCaptionDataset) Len() int { return len(d.anns) }

// ID returns the image id of sample i
func (d *COCOCaptionDataset) ID(i int) string { return d.ids[i] }

// CaptionSample decodes image i and returns it with its references
func (d *COCOCaptionDataset) CaptionSample(i int) (image.Image, []string, error) {
	ann := d.anns[i]
	img, err := vision.LoadImage(filepath.Join(d.root, ann.Image))
	if err != nil {
		return nil, nil, fmt.Errorf("image %s: %w", ann.Image, err)
	}
	return img, []string(ann.Caption), nil
}

// COCORetrievalDataset flattens every caption into one text list and keeps
// the image/text correspondence tables
type COCORetrievalDataset struct {
	root      string
	images    []string
	texts     []string
	img2txt   [][]int
	txt2img   [][]int
	processor blipeval.ImageProcessor
}

// NewCOCORetrievalDataset loads an annotation file. Captions are normalized
// with PreCaption; processor turns decoded images into pixel values.
func NewCOCORetrievalDataset(annotationPath, imageRoot string, processor blipeval.ImageProcessor, maxWords int) (*COCORetrievalDataset, error) {
	anns, err := LoadAnnotations(annotationPath)
	if err != nil {
		return nil, err
	}
	return newCOCORetrievalDataset(anns, imageRoot, processor, maxWords), nil
}

func newCOCORetrievalDataset(anns []Annotation, imageRoot string, processor blipeval.ImageProcessor, maxWords int) *COCORetrievalDataset {
	d := &COCORetrievalDataset{
		root:      imageRoot,
		images:    make([]string, len(anns)),
		img2txt:   make([][]int, len(anns)),
		processor: processor,
	}

	for imgID, ann := range anns {
		d.images[imgID] = ann.Image
		d.img2txt[imgID] = []int{}
		for _, caption := range ann.Caption {
			txtID := len(d.texts)
			d.texts = append(d.texts, PreCaption(caption, maxWords))
			d.img2txt[imgID] = append(d.img2txt[imgID], txtID)
			d.txt2img = append(d.txt2img, []int{imgID})
		}
	}
	return d
}

// Len returns the number of images
func (d *COCORetrievalDataset) Len() int { return len(d.images) }

// Texts returns every normalized caption in annotation order
func (d *COCORetrievalDataset) Texts() []string { return d.texts }

// Img2Txt returns the caption indices of every image
func (d *COCORetrievalDataset) Img2Txt() [][]int { return d.img2txt }

// Txt2Img returns the image index of every caption
func (d *COCORetrievalDataset) Txt2Img() [][]int { return d.txt2img }

// Image decodes and preprocesses image i
func (d *COCORetrievalDataset) Image(i int) (blipeval.Tensor, error) {
	path := d.images[i]
	img, err := vision.LoadImage(filepath.Join(d.root, path))
	if err != nil {
		return blipeval.Tensor{}, fmt.Errorf("image %s: %w", path, err)
	}
	pixels, err := d.processor.Preprocess(img)
	if err != nil {
		return blipeval.Tensor{}, fmt.Errorf("image %s: %w", path, err)
	}
	return pixels, nil
}
