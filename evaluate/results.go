package evaluate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

// Results is the bundle produced by one evaluation run
type Results interface {
	Task() blipeval.Task
}

// Prediction is one generated caption
type Prediction struct {
	ImageID string `json:"image_id"`
	Caption string `json:"caption"`
}

// CaptionResults holds predictions index-aligned with their references
type CaptionResults struct {
	Predictions []Prediction `json:"predictions"`
	References  [][]string   `json:"references"`
}

// Task implements Results
func (r *CaptionResults) Task() blipeval.Task { return blipeval.TaskCaptioning }

// RetrievalResults holds both score matrices and the ground-truth mapping
// tables. Cells outside a row's shortlist hold rank.SentinelScore.
type RetrievalResults struct {
	ScoresI2T [][]float64 `json:"scores_i2t"`
	ScoresT2I [][]float64 `json:"scores_t2i"`
	Txt2Img   [][]int     `json:"txt2img"`
	Img2Txt   [][]int     `json:"img2txt"`
}

// Task implements Results
func (r *RetrievalResults) Task() blipeval.Task { return blipeval.TaskRetrieval }

// Save writes results as 2-space indented JSON, replacing any existing file.
// Failures are reported as *blipeval.SaveError. JSON has no NaN or Inf, so a
// non-finite score fails the save and names the offending cell.
func Save(results Results, path string) error {
	if r, ok := results.(*RetrievalResults); ok {
		if err := r.checkFinite(); err != nil {
			return &blipeval.SaveError{Path: path, Err: err}
		}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return &blipeval.SaveError{Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return &blipeval.SaveError{Path: path, Err: err}
	}
	return nil
}

func (r *RetrievalResults) checkFinite() error {
	for _, m := range []struct {
		name   string
		scores [][]float64
	}{
		{"scores_i2t", r.ScoresI2T},
		{"scores_t2i", r.ScoresT2I},
	} {
		for i, row := range m.scores {
			for j, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%s[%d][%d] is %v and cannot be encoded as JSON", m.name, i, j, v)
				}
			}
		}
	}
	return nil
}

// LoadCaptionResults reads results written by Save for a captioning run
func LoadCaptionResults(path string) (*CaptionResults, error) {
	var r CaptionResults
	if err := load(path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadRetrievalResults reads results written by Save for a retrieval run
func LoadRetrievalResults(path string) (*RetrievalResults, error) {
	var r RetrievalResults
	if err := load(path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse results %s: %w", path, err)
	}
	return nil
}
