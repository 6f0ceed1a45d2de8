package pipeline

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRow struct {
	text    map[string]string
	numbers map[string]float64
}

func (r mapRow) Text(c string) (string, bool) {
	v, ok := r.text[c]
	return v, ok
}

func (r mapRow) Number(c string) (float64, bool) {
	v, ok := r.numbers[c]
	return v, ok
}

func blurbRow(s string) mapRow {
	return mapRow{text: map[string]string{"blurb": s}}
}

func newText(t *testing.T, vs VectorizerSpec) *TextPipeline {
	t.Helper()
	p, err := NewTextPipeline(TextPipelineSpec{Column: "blurb", Vectorizer: vs})
	require.NoError(t, err)
	return p
}

var vocab = map[string]int{"great": 0, "idea": 1, "game": 2, "board": 3}

func TestSparseVectorDense(t *testing.T) {
	v := SparseVector{Width: 4, Indices: []int{1, 3}, Values: []float64{0.5, 2}}
	assert.Equal(t, []float64{0, 0.5, 0, 2}, v.Dense())
	assert.Equal(t, 2, v.NNZ())
}

func TestConcat(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, Concat([]float64{1}, nil, []float64{2, 3}))
	assert.Empty(t, Concat())
}

func TestTextCounts(t *testing.T) {
	p := newText(t, VectorizerSpec{Vocabulary: vocab, Norm: NormNone})

	vec, err := p.Transform(blurbRow("Great board game, GREAT idea! a"))
	require.NoError(t, err)

	assert.Equal(t, 4, vec.Width)
	assert.Equal(t, []float64{2, 1, 1, 1}, vec.Dense())
}

func TestTextIgnoresUnknownAndShortTokens(t *testing.T) {
	p := newText(t, VectorizerSpec{Vocabulary: vocab, Norm: NormNone})

	vec, err := p.Transform(blurbRow("a b c totally unknown words"))
	require.NoError(t, err)

	assert.Equal(t, 0, vec.NNZ())
	assert.Equal(t, []float64{0, 0, 0, 0}, vec.Dense())
}

func TestTextTFIDFL2(t *testing.T) {
	p := newText(t, VectorizerSpec{
		Vocabulary: vocab,
		IDF:        []float64{1, 2, 1, 1},
	})

	vec, err := p.Transform(blurbRow("great idea"))
	require.NoError(t, err)

	dense := vec.Dense()
	norm := math.Sqrt(1 + 4)
	assert.InDelta(t, 1/norm, dense[0], 1e-12)
	assert.InDelta(t, 2/norm, dense[1], 1e-12)
	assert.Zero(t, dense[2])
}

func TestTextL1BinarySublinear(t *testing.T) {
	p := newText(t, VectorizerSpec{Vocabulary: vocab, Norm: NormL1, Binary: true})
	vec, err := p.Transform(blurbRow("great great great idea"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0, 0}, vec.Dense())

	p = newText(t, VectorizerSpec{Vocabulary: vocab, Norm: NormNone, SublinearTF: true})
	vec, err = p.Transform(blurbRow("great great idea"))
	require.NoError(t, err)
	assert.InDelta(t, 1+math.Log(2), vec.Dense()[0], 1e-12)
	assert.InDelta(t, 1, vec.Dense()[1], 1e-12)
}

func TestTextStopWordsAndNgrams(t *testing.T) {
	p := newText(t, VectorizerSpec{
		Vocabulary: map[string]int{"board": 0, "board game": 1, "the board": 2},
		StopWords:  []string{"the"},
		NgramRange: [2]int{1, 2},
		Norm:       NormNone,
	})

	vec, err := p.Transform(blurbRow("The board game"))
	require.NoError(t, err)
	// "the" is dropped before n-grams are formed
	assert.Equal(t, []float64{1, 1, 0}, vec.Dense())
}

func TestTextStripAccentsAndCase(t *testing.T) {
	lower := false
	p := newText(t, VectorizerSpec{
		Vocabulary:   map[string]int{"cafe": 0, "Cafe": 1},
		StripAccents: "unicode",
		Lowercase:    &lower,
		Norm:         NormNone,
	})
	vec, err := p.Transform(blurbRow("Café cafe"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, vec.Dense())

	p = newText(t, VectorizerSpec{
		Vocabulary:   map[string]int{"cafe": 0},
		StripAccents: "unicode",
		Norm:         NormNone,
	})
	vec, err = p.Transform(blurbRow("CAFÉ"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, vec.Dense())
}

func TestTextIndicesSorted(t *testing.T) {
	p := newText(t, VectorizerSpec{Vocabulary: vocab, Norm: NormNone})
	vec, err := p.Transform(blurbRow("board game idea great"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, vec.Indices)
}

func TestTextMissingColumn(t *testing.T) {
	p := newText(t, VectorizerSpec{Vocabulary: vocab})
	_, err := p.Transform(mapRow{})
	assert.True(t, errors.Is(err, ErrMissingColumn))
}

func TestNewTextPipelineInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec TextPipelineSpec
	}{
		{"no column", TextPipelineSpec{Vectorizer: VectorizerSpec{Vocabulary: vocab}}},
		{"empty vocabulary", TextPipelineSpec{Column: "blurb"}},
		{"index out of range", TextPipelineSpec{Column: "blurb", Vectorizer: VectorizerSpec{Vocabulary: map[string]int{"a": 3}}}},
		{"duplicate index", TextPipelineSpec{Column: "blurb", Vectorizer: VectorizerSpec{Vocabulary: map[string]int{"aa": 0, "bb": 0}}}},
		{"idf length", TextPipelineSpec{Column: "blurb", Vectorizer: VectorizerSpec{Vocabulary: vocab, IDF: []float64{1}}}},
		{"bad pattern", TextPipelineSpec{Column: "blurb", Vectorizer: VectorizerSpec{Vocabulary: vocab, TokenPattern: "("}}},
		{"bad ngram", TextPipelineSpec{Column: "blurb", Vectorizer: VectorizerSpec{Vocabulary: vocab, NgramRange: [2]int{2, 1}}}},
		{"bad norm", TextPipelineSpec{Column: "blurb", Vectorizer: VectorizerSpec{Vocabulary: vocab, Norm: "max"}}},
		{"bad accents", TextPipelineSpec{Column: "blurb", Vectorizer: VectorizerSpec{Vocabulary: vocab, StripAccents: "all"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTextPipeline(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestQuantSteps(t *testing.T) {
	p, err := NewQuantPipeline(QuantPipelineSpec{
		Columns: []string{"backers", "goal"},
		Steps: []StepSpec{
			{Type: StepLog1p},
			{Type: StepStandardScaler, Mean: []float64{0, 1}, Scale: []float64{2, 0}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Width())

	row := mapRow{numbers: map[string]float64{"backers": math.E - 1, "goal": math.E*math.E - 1}}
	out, err := p.Transform(row)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, out[0], 1e-12)
	// zero scale is treated as one
	assert.InDelta(t, 1, out[1], 1e-12)
}

func TestQuantMinMaxAndClip(t *testing.T) {
	p, err := NewQuantPipeline(QuantPipelineSpec{
		Columns: []string{"backers", "goal"},
		Steps: []StepSpec{
			{Type: StepMinMaxScaler, Scale: []float64{0.01, 0.001}, Min: []float64{0, -1}},
			{Type: StepClip, Lower: []float64{0, 0}, Upper: []float64{1, 1}},
		},
	})
	require.NoError(t, err)

	out, err := p.Transform(mapRow{numbers: map[string]float64{"backers": 50, "goal": 5000}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out[0], 1e-12)
	assert.InDelta(t, 1, out[1], 1e-12)

	out, err = p.Transform(mapRow{numbers: map[string]float64{"backers": 500, "goal": 0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, out)
}

func TestQuantMissingColumn(t *testing.T) {
	p, err := NewQuantPipeline(QuantPipelineSpec{Columns: []string{"backers", "goal"}})
	require.NoError(t, err)

	_, err = p.Transform(mapRow{numbers: map[string]float64{"backers": 1}})
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestNewQuantPipelineInvalid(t *testing.T) {
	_, err := NewQuantPipeline(QuantPipelineSpec{})
	assert.Error(t, err)

	_, err = NewQuantPipeline(QuantPipelineSpec{
		Columns: []string{"backers", "goal"},
		Steps:   []StepSpec{{Type: "power"}},
	})
	assert.Error(t, err)

	_, err = NewQuantPipeline(QuantPipelineSpec{
		Columns: []string{"backers", "goal"},
		Steps:   []StepSpec{{Type: StepStandardScaler, Mean: []float64{0}, Scale: []float64{1, 1}}},
	})
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	text := newText(t, VectorizerSpec{Vocabulary: vocab, IDF: []float64{1, 2, 3, 4}})
	textPath := filepath.Join(dir, "text_pipeline.json")
	require.NoError(t, text.Save(textPath))

	loadedText, err := LoadTextPipeline(textPath)
	require.NoError(t, err)
	want, _ := text.Transform(blurbRow("great board"))
	got, err := loadedText.Transform(blurbRow("great board"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	quant, err := NewQuantPipeline(QuantPipelineSpec{
		Columns: []string{"backers", "goal"},
		Steps:   []StepSpec{{Type: StepLog1p}},
	})
	require.NoError(t, err)
	quantPath := filepath.Join(dir, "quant_pipeline.json")
	require.NoError(t, quant.Save(quantPath))

	loadedQuant, err := LoadQuantPipeline(quantPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"backers", "goal"}, loadedQuant.Columns())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTextPipeline(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o644))
	_, err = LoadTextPipeline(corrupt)
	assert.Error(t, err)
	_, err = LoadQuantPipeline(corrupt)
	assert.Error(t, err)
}
