package nn

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInputWidth is returned when an input row does not match the model's input dimension
var ErrInputWidth = errors.New("input width does not match model")

// ErrNonFinite is returned when an input or a layer output is NaN or infinite
var ErrNonFinite = errors.New("non-finite value")

// Activation names a per-layer output function
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Tanh    Activation = "tanh"
	Softmax Activation = "softmax"
	// Step is a sigmoid thresholded at 0.5, emitting a class label (0 or 1)
	Step Activation = "step"
)

// LayerSpec is the serialized form of one dense layer.
// Weights are stored row-major as [in][out].
type LayerSpec struct {
	Weights    [][]float64 `json:"weights"`
	Biases     []float64   `json:"biases"`
	Activation Activation  `json:"activation"`
}

// ModelSpec is the on-disk model artifact
type ModelSpec struct {
	Name     string      `json:"name"`
	InputDim int         `json:"input_dim"`
	Layers   []LayerSpec `json:"layers"`
}

type layer struct {
	w          *mat.Dense
	b          []float64
	activation Activation
}

// Model is a feed-forward network loaded from a pre-trained artifact.
// It is immutable after construction and safe for concurrent use.
type Model struct {
	name     string
	inputDim int
	layers   []layer
}

// NewModel validates a spec and builds the weight matrices
func NewModel(spec ModelSpec) (*Model, error) {
	if spec.InputDim <= 0 {
		return nil, fmt.Errorf("input_dim must be positive, got %d", spec.InputDim)
	}
	if len(spec.Layers) == 0 {
		return nil, errors.New("model has no layers")
	}

	m := &Model{
		name:     spec.Name,
		inputDim: spec.InputDim,
		layers:   make([]layer, 0, len(spec.Layers)),
	}

	in := spec.InputDim
	for i, ls := range spec.Layers {
		if len(ls.Weights) != in {
			return nil, fmt.Errorf("layer %d: expected %d weight rows, got %d", i, in, len(ls.Weights))
		}
		out := len(ls.Biases)
		if out == 0 {
			return nil, fmt.Errorf("layer %d: no biases", i)
		}

		backing := make([]float64, 0, in*out)
		for r, row := range ls.Weights {
			if len(row) != out {
				return nil, fmt.Errorf("layer %d row %d: expected %d columns, got %d", i, r, out, len(row))
			}
			backing = append(backing, row...)
		}

		act := ls.Activation
		if act == "" {
			act = Linear
		}
		if !act.valid() {
			return nil, fmt.Errorf("layer %d: unknown activation %q", i, act)
		}

		b := make([]float64, out)
		copy(b, ls.Biases)
		m.layers = append(m.layers, layer{
			w:          mat.NewDense(in, out, backing),
			b:          b,
			activation: act,
		})
		in = out
	}

	return m, nil
}

// Load reads a JSON model artifact from disk
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var spec ModelSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decoding model %s: %w", path, err)
	}

	m, err := NewModel(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return m, nil
}

// Spec converts the model back to its serializable form
func (m *Model) Spec() ModelSpec {
	spec := ModelSpec{
		Name:     m.name,
		InputDim: m.inputDim,
		Layers:   make([]LayerSpec, len(m.layers)),
	}
	for i, l := range m.layers {
		rows, _ := l.w.Dims()
		weights := make([][]float64, rows)
		for r := range weights {
			weights[r] = mat.Row(nil, r, l.w)
		}
		spec.Layers[i] = LayerSpec{
			Weights:    weights,
			Biases:     append([]float64(nil), l.b...),
			Activation: l.activation,
		}
	}
	return spec
}

// Save writes the model to disk as JSON
func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m.Spec(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// InputDim is the feature width the model expects
func (m *Model) InputDim() int {
	return m.inputDim
}

// OutputDim is the width of the final layer
func (m *Model) OutputDim() int {
	_, c := m.layers[len(m.layers)-1].w.Dims()
	return c
}

// Predict runs inference on a single feature row
func (m *Model) Predict(input []float64) ([]float64, error) {
	if len(input) != m.inputDim {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", ErrInputWidth, len(input), m.inputDim)
	}

	if i := firstNonFinite(input); i >= 0 {
		return nil, fmt.Errorf("%w: input feature %d is %v", ErrNonFinite, i, input[i])
	}

	hidden := mat.NewDense(1, m.inputDim, append([]float64(nil), input...))
	for i, l := range m.layers {
		_, out := l.w.Dims()
		next := mat.NewDense(1, out, nil)
		next.Mul(hidden, l.w)

		row := next.RawRowView(0)
		floats.Add(row, l.b)
		l.activation.apply(row)

		if j := firstNonFinite(row); j >= 0 {
			return nil, fmt.Errorf("%w: layer %d unit %d is %v", ErrNonFinite, i, j, row[j])
		}
		hidden = next
	}

	return mat.Row(nil, 0, hidden), nil
}

func firstNonFinite(v []float64) int {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return i
		}
	}
	return -1
}

// Info returns the model architecture
func (m *Model) Info() map[string]interface{} {
	dims := make([]int, 0, len(m.layers))
	acts := make([]string, 0, len(m.layers))
	for _, l := range m.layers {
		_, c := l.w.Dims()
		dims = append(dims, c)
		acts = append(acts, string(l.activation))
	}
	return map[string]interface{}{
		"name":        m.name,
		"input_dim":   m.inputDim,
		"output_dim":  m.OutputDim(),
		"layer_dims":  dims,
		"activations": acts,
	}
}

func (a Activation) valid() bool {
	switch a {
	case Linear, ReLU, Sigmoid, Tanh, Softmax, Step:
		return true
	}
	return false
}

func (a Activation) apply(v []float64) {
	switch a {
	case ReLU:
		for i, x := range v {
			v[i] = math.Max(0, x)
		}
	case Sigmoid:
		for i, x := range v {
			v[i] = 1 / (1 + math.Exp(-x))
		}
	case Tanh:
		for i, x := range v {
			v[i] = math.Tanh(x)
		}
	case Softmax:
		peak := floats.Max(v)
		for i, x := range v {
			v[i] = math.Exp(x - peak)
		}
		floats.Scale(1/floats.Sum(v), v)
	case Step:
		for i, x := range v {
			// NaN stays NaN so Predict rejects it instead of reporting class 0
			if math.IsNaN(x) {
				continue
			}
			p := 1 / (1 + math.Exp(-x))
			if p >= 0.5 {
				v[i] = 1
			} else {
				v[i] = 0
			}
		}
	}
}
