package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kartoza/kickstarter-guide/internal/config"
	"github.com/kartoza/kickstarter-guide/internal/nn"
	"github.com/kartoza/kickstarter-guide/internal/pipeline"
)

// ManifestFile is the optional descriptor looked up in the artifact directory
const ManifestFile = "manifest.yaml"

// Paths locates the three artifacts. File names are resolved against Dir
// unless they are absolute.
type Paths struct {
	Dir           string
	Model         string
	TextPipeline  string
	QuantPipeline string
}

// PathsFrom builds Paths from the artifacts section of the config
func PathsFrom(c config.ArtifactsConfig) Paths {
	return Paths{
		Dir:           c.Dir,
		Model:         c.Model,
		TextPipeline:  c.TextPipeline,
		QuantPipeline: c.QuantPipeline,
	}
}

func (p Paths) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.Dir, name)
}

// Manifest describes the contents of an artifact directory
type Manifest struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
	Created     string `yaml:"created" json:"created"`
}

// Set holds the loaded model and pipelines. It is never mutated after Load.
type Set struct {
	Model    *nn.Model
	Text     *pipeline.TextPipeline
	Quant    *pipeline.QuantPipeline
	Manifest *Manifest
	Paths    Paths
}

// Load reads every artifact. Any missing or corrupt file is an error.
func Load(paths Paths) (*Set, error) {
	if info, err := os.Stat(paths.Dir); err != nil {
		return nil, fmt.Errorf("artifact directory: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("artifact directory %s is not a directory", paths.Dir)
	}

	model, err := nn.Load(paths.resolve(paths.Model))
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}

	text, err := pipeline.LoadTextPipeline(paths.resolve(paths.TextPipeline))
	if err != nil {
		return nil, fmt.Errorf("loading text pipeline: %w", err)
	}

	quant, err := pipeline.LoadQuantPipeline(paths.resolve(paths.QuantPipeline))
	if err != nil {
		return nil, fmt.Errorf("loading quant pipeline: %w", err)
	}

	manifest, err := loadManifest(filepath.Join(paths.Dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	return &Set{
		Model:    model,
		Text:     text,
		Quant:    quant,
		Manifest: manifest,
		Paths:    paths,
	}, nil
}

// loadManifest returns nil without error when the file does not exist
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &m, nil
}

// CheckWidths reports whether the pipelines produce the width the model expects
func (s *Set) CheckWidths() error {
	got := s.Text.Width() + s.Quant.Width()
	if got != s.Model.InputDim() {
		return fmt.Errorf("%w: pipelines produce %d features (text %d + quant %d), model expects %d",
			nn.ErrInputWidth, got, s.Text.Width(), s.Quant.Width(), s.Model.InputDim())
	}
	return nil
}

// Info summarizes the loaded artifacts
func (s *Set) Info() map[string]interface{} {
	info := map[string]interface{}{
		"model":          s.Model.Info(),
		"text_column":    s.Text.Column(),
		"text_width":     s.Text.Width(),
		"quant_columns":  s.Quant.Columns(),
		"quant_width":    s.Quant.Width(),
		"widths_aligned": s.CheckWidths() == nil,
	}
	if s.Manifest != nil {
		info["manifest"] = s.Manifest
	}
	return info
}
