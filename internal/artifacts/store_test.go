package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartoza/kickstarter-guide/internal/config"
	"github.com/kartoza/kickstarter-guide/internal/nn"
	"github.com/kartoza/kickstarter-guide/internal/pipeline"
)

// writeArtifacts creates a consistent artifact set in dir: 2 text + 2 quant -> 1
func writeArtifacts(t *testing.T, dir string, inputDim int) Paths {
	t.Helper()

	weights := make([][]float64, inputDim)
	for i := range weights {
		weights[i] = []float64{1}
	}
	model, err := nn.NewModel(nn.ModelSpec{
		Name:     "fixture",
		InputDim: inputDim,
		Layers:   []nn.LayerSpec{{Weights: weights, Biases: []float64{0}, Activation: nn.Step}},
	})
	require.NoError(t, err)
	require.NoError(t, model.Save(filepath.Join(dir, "model.json")))

	text, err := pipeline.NewTextPipeline(pipeline.TextPipelineSpec{
		Column:     "blurb",
		Vectorizer: pipeline.VectorizerSpec{Vocabulary: map[string]int{"great": 0, "idea": 1}},
	})
	require.NoError(t, err)
	require.NoError(t, text.Save(filepath.Join(dir, "text_pipeline.json")))

	quant, err := pipeline.NewQuantPipeline(pipeline.QuantPipelineSpec{
		Columns: []string{"backers", "goal"},
		Steps:   []pipeline.StepSpec{{Type: pipeline.StepLog1p}},
	})
	require.NoError(t, err)
	require.NoError(t, quant.Save(filepath.Join(dir, "quant_pipeline.json")))

	return Paths{
		Dir:           dir,
		Model:         "model.json",
		TextPipeline:  "text_pipeline.json",
		QuantPipeline: "quant_pipeline.json",
	}
}

func TestLoad(t *testing.T) {
	paths := writeArtifacts(t, t.TempDir(), 4)

	set, err := Load(paths)
	require.NoError(t, err)

	assert.Equal(t, 4, set.Model.InputDim())
	assert.Equal(t, 2, set.Text.Width())
	assert.Equal(t, 2, set.Quant.Width())
	assert.Nil(t, set.Manifest)
	assert.NoError(t, set.CheckWidths())
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	paths := writeArtifacts(t, dir, 4)
	manifest := []byte("name: kickstarter\nversion: \"2\"\ndescription: NLP model\ncreated: \"2021-03-01\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), manifest, 0o644))

	set, err := Load(paths)
	require.NoError(t, err)
	require.NotNil(t, set.Manifest)
	assert.Equal(t, "kickstarter", set.Manifest.Name)
	assert.Equal(t, "2", set.Manifest.Version)

	info := set.Info()
	assert.Equal(t, set.Manifest, info["manifest"])
}

func TestLoadCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	paths := writeArtifacts(t, dir, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("name: [unclosed"), 0o644))

	_, err := Load(paths)
	assert.Error(t, err)
}

func TestLoadMissingArtifacts(t *testing.T) {
	for _, name := range []string{"model.json", "text_pipeline.json", "quant_pipeline.json"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			paths := writeArtifacts(t, dir, 4)
			require.NoError(t, os.Remove(filepath.Join(dir, name)))

			_, err := Load(paths)
			require.Error(t, err)
			assert.True(t, errors.Is(err, os.ErrNotExist), "expected not-exist error, got %v", err)
		})
	}
}

func TestLoadCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	paths := writeArtifacts(t, dir, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte("garbage"), 0o644))

	_, err := Load(paths)
	assert.Error(t, err)
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(Paths{Dir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestLoadAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	paths := writeArtifacts(t, dir, 4)
	paths.Model = filepath.Join(dir, paths.Model)
	paths.Dir = t.TempDir()

	_, err := Load(paths)
	// text and quant pipelines are still relative to the new empty dir
	assert.Error(t, err)

	paths.TextPipeline = filepath.Join(dir, "text_pipeline.json")
	paths.QuantPipeline = filepath.Join(dir, "quant_pipeline.json")
	_, err = Load(paths)
	assert.NoError(t, err)
}

func TestCheckWidthsMismatch(t *testing.T) {
	set, err := Load(writeArtifacts(t, t.TempDir(), 5))
	require.NoError(t, err)

	err = set.CheckWidths()
	assert.ErrorIs(t, err, nn.ErrInputWidth)
	assert.Equal(t, false, set.Info()["widths_aligned"])
}

func TestPathsFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir, 4)

	paths := PathsFrom(config.ArtifactsConfig{
		Dir:           dir,
		Model:         "model.json",
		TextPipeline:  "text_pipeline.json",
		QuantPipeline: filepath.Join(dir, "quant_pipeline.json"),
	})
	assert.Equal(t, filepath.Join(dir, "model.json"), paths.resolve(paths.Model))
	assert.Equal(t, filepath.Join(dir, "quant_pipeline.json"), paths.resolve(paths.QuantPipeline))

	_, err := Load(paths)
	assert.NoError(t, err)
}
