package evaluate

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blipeval "github.com/Mineru98/blip2-eval-go"
	"github.com/Mineru98/blip2-eval-go/rank"
	"github.com/Mineru98/blip2-eval-go/utils"
)

func newTestPipeline(t *testing.T, model *fakeModel) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineConfig{
		Model:     model,
		Processor: redProcessor{},
		Decoder:   paddedDecoder{},
		Tokenizer: indexTokenizer{},
	})
	require.NoError(t, err)
	return p
}

func options(maxSamples, kTest int) Options {
	opts := DefaultOptions()
	opts.MaxSamples = maxSamples
	opts.KTest = kTest
	return opts
}

func TestNewPipelineRequiresModel(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{})
	assert.Error(t, err)
}

func TestRunUnsupportedTask(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})

	_, err := p.Run(context.Background(), captionDataset{n: 1}, blipeval.Task("vqa"), DefaultOptions())
	require.ErrorIs(t, err, blipeval.ErrUnsupportedTask)

	var taskErr *blipeval.UnsupportedTaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "vqa", taskErr.Task)
}

func TestRunDatasetMismatch(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})

	_, err := p.Run(context.Background(), captionDataset{n: 1}, blipeval.TaskRetrieval, DefaultOptions())
	assert.ErrorIs(t, err, blipeval.ErrDatasetMismatch)
}

func TestCaptioningAlignedWithReferences(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})

	for _, tc := range []struct {
		name       string
		maxSamples int
		want       int
	}{
		{"no cap", NoLimit, 5},
		{"capped", 3, 3},
		{"cap above size", 10, 5},
		{"zero", 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := p.Run(context.Background(), captionDataset{n: 5}, blipeval.TaskCaptioning, options(tc.maxSamples, 1))
			require.NoError(t, err)

			caps, ok := res.(*CaptionResults)
			require.True(t, ok)
			require.Len(t, caps.Predictions, tc.want)
			require.Len(t, caps.References, tc.want)

			for i, pred := range caps.Predictions {
				assert.Equal(t, captionDataset{}.ID(i), pred.ImageID)
				assert.Equal(t, "a photo of thing "+string(rune('0'+i)), pred.Caption)
				_, refs, _ := captionDataset{}.CaptionSample(i)
				assert.Equal(t, refs, caps.References[i])
			}
		})
	}
}

func TestCaptioningParallelKeepsOrder(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})

	seq, err := p.RunCaptioning(context.Background(), captionDataset{n: 9}, DefaultOptions())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Workers = 4
	par, err := p.RunCaptioning(context.Background(), captionDataset{n: 9}, opts)
	require.NoError(t, err)

	if diff := cmp.Diff(seq, par); diff != "" {
		t.Errorf("parallel captioning differs (-seq +par):\n%s", diff)
	}
}

func TestCaptioningGenerationFailureIsFatal(t *testing.T) {
	boom := errors.New("device lost")
	p := newTestPipeline(t, &fakeModel{generateErr: boom})

	res, err := p.Run(context.Background(), captionDataset{n: 3}, blipeval.TaskCaptioning, DefaultOptions())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}

func TestRetrievalTwoImagesSixTexts(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})
	ds := retrievalDataset{images: 2, texts: 6}

	res, err := p.RunRetrieval(context.Background(), ds, options(NoLimit, 3))
	require.NoError(t, err)

	require.Len(t, res.ScoresI2T, 2)
	for img, row := range res.ScoresI2T {
		require.Len(t, row, 6)

		coarse := make([]float64, 6)
		for text := range coarse {
			coarse[text] = expectedCoarse(img, text)
		}
		top, _ := utils.TopK(coarse, 3)
		shortlisted := map[int]bool{}
		for _, text := range top {
			shortlisted[text] = true
		}

		for text, score := range row {
			if !shortlisted[text] {
				assert.Equal(t, rank.SentinelScore, score, "image %d text %d", img, text)
				continue
			}
			want := float64(matchLogit(img, text)) + coarse[text]
			assert.InDelta(t, want, score, 1e-5, "image %d text %d", img, text)
		}
	}

	// k_test is clamped to the two images
	require.Len(t, res.ScoresT2I, 6)
	for text, row := range res.ScoresT2I {
		require.Len(t, row, 2)
		for img, score := range row {
			want := float64(matchLogit(img, text)) + expectedCoarse(img, text)
			assert.InDelta(t, want, score, 1e-5, "text %d image %d", text, img)
		}
	}

	assert.Equal(t, ds.Img2Txt(), res.Img2Txt)
	assert.Equal(t, ds.Txt2Img(), res.Txt2Img)
}

func TestRetrievalShortlistSize(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})
	opts := options(NoLimit, 4)
	opts.TextBatchSize = 3

	res, err := p.RunRetrieval(context.Background(), retrievalDataset{images: 5, texts: 11}, opts)
	require.NoError(t, err)

	for i, row := range res.ScoresI2T {
		var refined int
		for _, v := range row {
			if v != rank.SentinelScore {
				refined++
			}
		}
		assert.Equal(t, 4, refined, "row %d", i)
	}
}

func TestRetrievalCapsTextsAtFivePerImage(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})

	res, err := p.RunRetrieval(context.Background(), retrievalDataset{images: 4, texts: 20}, options(2, 3))
	require.NoError(t, err)

	require.Len(t, res.ScoresI2T, 2)
	assert.Len(t, res.ScoresI2T[0], 10)
	assert.Len(t, res.ScoresT2I, 10)
	// mapping tables are passed through untouched
	assert.Len(t, res.Txt2Img, 20)
}

func TestRetrievalZeroSamples(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})

	res, err := p.RunRetrieval(context.Background(), retrievalDataset{images: 3, texts: 9}, options(0, 3))
	require.NoError(t, err)
	assert.Empty(t, res.ScoresI2T)
	assert.Empty(t, res.ScoresT2I)
}

func TestRetrievalDeterministic(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})
	ds := retrievalDataset{images: 6, texts: 17}

	first, err := p.RunRetrieval(context.Background(), ds, options(NoLimit, 5))
	require.NoError(t, err)
	second, err := p.RunRetrieval(context.Background(), ds, options(NoLimit, 5))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	opts := options(NoLimit, 5)
	opts.Workers = 4
	parallel, err := p.RunRetrieval(context.Background(), ds, opts)
	require.NoError(t, err)
	assert.Equal(t, first, parallel)
}

func TestRetrievalInvalidOptions(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})

	_, err := p.RunRetrieval(context.Background(), retrievalDataset{images: 1, texts: 1}, options(NoLimit, 0))
	assert.ErrorIs(t, err, blipeval.ErrInvalidOptions)

	opts := DefaultOptions()
	opts.TextBatchSize = 0
	_, err = p.RunRetrieval(context.Background(), retrievalDataset{images: 1, texts: 1}, opts)
	assert.ErrorIs(t, err, blipeval.ErrInvalidOptions)
}

func TestRetrievalMatchFailureIsFatal(t *testing.T) {
	boom := errors.New("out of memory")
	p := newTestPipeline(t, &fakeModel{matchErr: boom})

	res, err := p.Run(context.Background(), retrievalDataset{images: 2, texts: 4}, blipeval.TaskRetrieval, options(NoLimit, 2))
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res)
}

func TestRetrievalRejectsShortTextBuffer(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{shortText: true})

	res, err := p.Run(context.Background(), retrievalDataset{images: 2, texts: 4}, blipeval.TaskRetrieval, options(NoLimit, 2))
	assert.ErrorContains(t, err, "tensor data has")
	assert.Nil(t, res)
}

func TestSaveLoadCaptionRoundTrip(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})
	res, err := p.RunCaptioning(context.Background(), captionDataset{n: 3}, DefaultOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "captions.json")
	require.NoError(t, Save(res, path))
	// overwrite is allowed
	require.NoError(t, Save(res, path))

	loaded, err := LoadCaptionResults(path)
	require.NoError(t, err)
	if diff := cmp.Diff(res, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveLoadRetrievalRoundTrip(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{})
	res, err := p.RunRetrieval(context.Background(), retrievalDataset{images: 2, texts: 6}, options(NoLimit, 2))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "retrieval.json")
	require.NoError(t, Save(res, path))

	loaded, err := LoadRetrievalResults(path)
	require.NoError(t, err)
	if diff := cmp.Diff(res, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveNamesNonFiniteScore(t *testing.T) {
	res := &RetrievalResults{
		ScoresI2T: [][]float64{{0.5, 0.1}},
		ScoresT2I: [][]float64{{0.5}, {math.NaN()}},
		Img2Txt:   [][]int{{0, 1}},
		Txt2Img:   [][]int{{0}, {0}},
	}

	path := filepath.Join(t.TempDir(), "retrieval.json")
	err := Save(res, path)
	assert.ErrorIs(t, err, blipeval.ErrSave)
	assert.ErrorContains(t, err, "scores_t2i[1][0]")
	assert.NoFileExists(t, path)
}

func TestSaveUnwritablePath(t *testing.T) {
	res := &CaptionResults{Predictions: []Prediction{}, References: [][]string{}}
	path := filepath.Join(t.TempDir(), "missing", "out.json")

	err := Save(res, path)
	require.ErrorIs(t, err, blipeval.ErrSave)

	var saveErr *blipeval.SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Equal(t, path, saveErr.Path)

	// the bundle is still usable
	assert.NotNil(t, res.Predictions)
}
