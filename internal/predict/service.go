package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartoza/kickstarter-guide/internal/logging"
	"github.com/kartoza/kickstarter-guide/internal/metrics"
	"github.com/kartoza/kickstarter-guide/internal/pipeline"
)

// ErrUnexpectedOutput is returned when the model's first output is neither 0 nor 1
var ErrUnexpectedOutput = errors.New("unexpected model output")

// Label is the binary campaign outcome
type Label string

const (
	Fail    Label = "Fail"
	Succeed Label = "Succeed"
)

// LabelFor maps the model's first output scalar to a label.
// Only exact class labels are accepted; probabilities must be thresholded
// by the model itself.
func LabelFor(v float64) (Label, error) {
	switch v {
	case 0:
		return Fail, nil
	case 1:
		return Succeed, nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnexpectedOutput, v)
}

// Result is the outcome of one prediction
type Result struct {
	Label   Label
	Message string
	Raw     float64
}

func newResult(label Label, raw float64) Result {
	return Result{
		Label:   label,
		Message: fmt.Sprintf("Your campaign will likely: %s!", label),
		Raw:     raw,
	}
}

// Model runs inference on one dense feature row
type Model interface {
	Predict(input []float64) ([]float64, error)
}

// TextTransformer vectorizes the text fields of a row
type TextTransformer interface {
	Transform(row pipeline.Row) (pipeline.SparseVector, error)
}

// QuantTransformer scales the numeric fields of a row
type QuantTransformer interface {
	Transform(row pipeline.Row) ([]float64, error)
}

type cacheKey struct {
	blurb   string
	backers int64
	goal    string
}

// Service assembles features and runs the model. The artifacts it holds are
// shared read-only, so a Service is safe for concurrent use.
type Service struct {
	model   Model
	text    TextTransformer
	quant   QuantTransformer
	cache   *lru.Cache[cacheKey, Result]
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option configures a Service
type Option func(*Service) error

// WithCache keeps up to size recent results; zero disables caching
func WithCache(size int) Option {
	return func(s *Service) error {
		if size <= 0 {
			s.cache = nil
			return nil
		}
		c, err := lru.New[cacheKey, Result](size)
		if err != nil {
			return fmt.Errorf("creating prediction cache: %w", err)
		}
		s.cache = c
		return nil
	}
}

// WithMetrics records predictions into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// NewService wires a model to its two feature pipelines
func NewService(model Model, text TextTransformer, quant QuantTransformer, opts ...Option) (*Service, error) {
	if model == nil || text == nil || quant == nil {
		return nil, errors.New("model, text pipeline and quant pipeline are required")
	}
	s := &Service{
		model: model,
		text:  text,
		quant: quant,
		log:   logging.New("predict"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Predict validates req, transforms it and returns the model's verdict
func (s *Service) Predict(ctx context.Context, req Request) (Result, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	key := cacheKey{blurb: req.Blurb, backers: req.Backers, goal: req.Goal.String()}
	if s.cache != nil {
		if res, ok := s.cache.Get(key); ok {
			s.metrics.ObserveCacheHit()
			return res, nil
		}
	}

	start := time.Now()
	res, stage, err := s.run(NewFeatureRow(req))
	if err != nil {
		s.metrics.ObserveError(stage)
		s.log.Error("prediction failed", "stage", stage, "error", err)
		return Result{}, err
	}
	took := time.Since(start)
	s.metrics.ObservePrediction(string(res.Label), took)
	s.log.Debug("prediction", "label", res.Label, "raw", res.Raw, "took", took)

	if s.cache != nil {
		s.cache.Add(key, res)
	}
	return res, nil
}

// run returns the failing stage alongside any error
func (s *Service) run(row FeatureRow) (Result, string, error) {
	textFeat, err := s.text.Transform(row)
	if err != nil {
		return Result{}, "text", fmt.Errorf("text pipeline: %w", err)
	}
	s.log.Debug("text features", "width", textFeat.Width, "nnz", textFeat.NNZ())

	quantFeat, err := s.quant.Transform(row)
	if err != nil {
		return Result{}, "quant", fmt.Errorf("quant pipeline: %w", err)
	}

	out, err := s.model.Predict(pipeline.Concat(textFeat.Dense(), quantFeat))
	if err != nil {
		return Result{}, "model", fmt.Errorf("model: %w", err)
	}
	if len(out) == 0 {
		return Result{}, "output", fmt.Errorf("%w: empty output", ErrUnexpectedOutput)
	}

	label, err := LabelFor(out[0])
	if err != nil {
		return Result{}, "output", err
	}
	return newResult(label, out[0]), "", nil
}
