package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxWords caps retrieval captions after normalization
const DefaultMaxWords = 30

// Annotation is one image entry of a Karpathy-split annotation file
type Annotation struct {
	Image   string   `json:"image"`
	Caption Captions `json:"caption"`
}

// Captions accepts either a single caption string or a list of captions
type Captions []string

// UnmarshalJSON implements json.Unmarshaler
func (c *Captions) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = Captions{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("caption must be a string or a list of strings: %w", err)
	}
	*c = many
	return nil
}

// LoadAnnotations reads a JSON list of annotations
func LoadAnnotations(path string) ([]Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}

	var anns []Annotation
	if err := json.Unmarshal(data, &anns); err != nil {
		return nil, fmt.Errorf("failed to parse annotations %s: %w", path, err)
	}
	for i, ann := range anns {
		if ann.Image == "" {
			return nil, fmt.Errorf("annotation %d has no image", i)
		}
	}
	return anns, nil
}

// ImageID derives the COCO id from an image path such as
// "val2014/COCO_val2014_000000391895.jpg" -> "391895". Paths that do not end
// in a number are returned as their base name without extension.
func ImageID(imagePath string) string {
	base := filepath.Base(imagePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	last := base
	if i := strings.LastIndex(base, "_"); i >= 0 {
		last = base[i+1:]
	}
	if n, err := strconv.Atoi(last); err == nil {
		return strconv.Itoa(n)
	}
	return base
}

var (
	captionPunct = regexp.MustCompile(`([.!"()*#:;~])`)
	captionSpace = regexp.MustCompile(`\s{2,}`)
)

// PreCaption lowercases a caption, replaces punctuation with spaces,
// collapses whitespace and keeps at most maxWords words
func PreCaption(caption string, maxWords int) string {
	caption = captionPunct.ReplaceAllString(strings.ToLower(caption), " ")
	caption = captionSpace.ReplaceAllString(caption, " ")
	caption = strings.TrimRight(caption, "\n")
	caption = strings.Trim(caption, " ")

	if maxWords > 0 {
		words := strings.Split(caption, " ")
		if len(words) > maxWords {
			caption = strings.Join(words[:maxWords], " ")
		}
	}
	return caption
}
