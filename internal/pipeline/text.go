package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultTokenPattern matches runs of two or more letters, digits or underscores
const DefaultTokenPattern = `[\p{L}\p{N}_]{2,}`

// Norm selects the per-row normalization applied after weighting
type Norm string

const (
	NormL2   Norm = "l2"
	NormL1   Norm = "l1"
	NormNone Norm = "none"
)

// VectorizerSpec is the fitted state of a bag-of-words / TF-IDF vectorizer
type VectorizerSpec struct {
	Vocabulary   map[string]int `json:"vocabulary"`
	IDF          []float64      `json:"idf,omitempty"`
	Lowercase    *bool          `json:"lowercase,omitempty"`
	StripAccents string         `json:"strip_accents,omitempty"`
	TokenPattern string         `json:"token_pattern,omitempty"`
	NgramRange   [2]int         `json:"ngram_range,omitempty"`
	StopWords    []string       `json:"stop_words,omitempty"`
	Binary       bool           `json:"binary,omitempty"`
	SublinearTF  bool           `json:"sublinear_tf,omitempty"`
	Norm         Norm           `json:"norm,omitempty"`
}

// TextPipelineSpec is the on-disk text pipeline artifact
type TextPipelineSpec struct {
	Column     string         `json:"column"`
	Vectorizer VectorizerSpec `json:"vectorizer"`
}

// TextPipeline turns one text column into a sparse weighted term vector
type TextPipeline struct {
	column       string
	vocabulary   map[string]int
	idf          []float64
	lowercase    bool
	stripAccents bool
	token        *regexp.Regexp
	minN, maxN   int
	stopWords    map[string]struct{}
	binary       bool
	sublinear    bool
	norm         Norm
	spec         TextPipelineSpec
}

// NewTextPipeline validates a spec and compiles its tokenizer
func NewTextPipeline(spec TextPipelineSpec) (*TextPipeline, error) {
	vs := spec.Vectorizer
	if spec.Column == "" {
		return nil, fmt.Errorf("text pipeline: column is required")
	}
	if len(vs.Vocabulary) == 0 {
		return nil, fmt.Errorf("text pipeline: empty vocabulary")
	}

	width := len(vs.Vocabulary)
	seen := make([]bool, width)
	for term, idx := range vs.Vocabulary {
		if idx < 0 || idx >= width {
			return nil, fmt.Errorf("text pipeline: term %q has index %d outside [0,%d)", term, idx, width)
		}
		if seen[idx] {
			return nil, fmt.Errorf("text pipeline: index %d assigned twice", idx)
		}
		seen[idx] = true
	}
	if vs.IDF != nil && len(vs.IDF) != width {
		return nil, fmt.Errorf("text pipeline: %d idf weights for %d terms", len(vs.IDF), width)
	}

	pattern := vs.TokenPattern
	if pattern == "" {
		pattern = DefaultTokenPattern
	}
	token, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("text pipeline: token pattern: %w", err)
	}

	minN, maxN := vs.NgramRange[0], vs.NgramRange[1]
	if minN == 0 && maxN == 0 {
		minN, maxN = 1, 1
	}
	if minN < 1 || maxN < minN {
		return nil, fmt.Errorf("text pipeline: invalid ngram range [%d,%d]", minN, maxN)
	}

	var strip bool
	switch vs.StripAccents {
	case "":
	case "unicode", "ascii":
		strip = true
	default:
		return nil, fmt.Errorf("text pipeline: unknown strip_accents %q", vs.StripAccents)
	}

	n := vs.Norm
	switch n {
	case "":
		n = NormL2
	case NormL2, NormL1, NormNone:
	default:
		return nil, fmt.Errorf("text pipeline: unknown norm %q", vs.Norm)
	}

	lower := true
	if vs.Lowercase != nil {
		lower = *vs.Lowercase
	}

	stop := make(map[string]struct{}, len(vs.StopWords))
	for _, w := range vs.StopWords {
		stop[w] = struct{}{}
	}

	return &TextPipeline{
		column:       spec.Column,
		vocabulary:   vs.Vocabulary,
		idf:          vs.IDF,
		lowercase:    lower,
		stripAccents: strip,
		token:        token,
		minN:         minN,
		maxN:         maxN,
		stopWords:    stop,
		binary:       vs.Binary,
		sublinear:    vs.SublinearTF,
		norm:         n,
		spec:         spec,
	}, nil
}

// LoadTextPipeline reads a text pipeline artifact from disk
func LoadTextPipeline(path string) (*TextPipeline, error) {
	var spec TextPipelineSpec
	if err := readJSON(path, &spec); err != nil {
		return nil, err
	}
	p, err := NewTextPipeline(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Save writes the pipeline artifact as JSON
func (p *TextPipeline) Save(path string) error {
	return writeJSON(path, p.spec)
}

// Width is the number of output features
func (p *TextPipeline) Width() int {
	return len(p.vocabulary)
}

// Column is the row field the pipeline reads
func (p *TextPipeline) Column() string {
	return p.column
}

// Transform vectorizes the pipeline's column of row
func (p *TextPipeline) Transform(row Row) (SparseVector, error) {
	text, ok := row.Text(p.column)
	if !ok {
		return SparseVector{}, fmt.Errorf("%w: %s", ErrMissingColumn, p.column)
	}

	counts := make(map[int]float64)
	for _, term := range p.terms(text) {
		if idx, ok := p.vocabulary[term]; ok {
			counts[idx]++
		}
	}

	vec := SparseVector{
		Width:   p.Width(),
		Indices: make([]int, 0, len(counts)),
		Values:  make([]float64, 0, len(counts)),
	}
	for idx := range counts {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Ints(vec.Indices)

	for _, idx := range vec.Indices {
		tf := counts[idx]
		if p.binary {
			tf = 1
		}
		if p.sublinear {
			tf = 1 + math.Log(tf)
		}
		if p.idf != nil {
			tf *= p.idf[idx]
		}
		vec.Values = append(vec.Values, tf)
	}

	normalize(vec.Values, p.norm)
	return vec, nil
}

// terms tokenizes text and expands it into the configured n-grams
func (p *TextPipeline) terms(text string) []string {
	if p.stripAccents {
		t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
		if s, _, err := transform.String(t, text); err == nil {
			text = s
		}
	}
	if p.lowercase {
		text = cases.Lower(language.Und).String(text)
	}

	tokens := p.token.FindAllString(text, -1)
	if len(p.stopWords) > 0 {
		kept := tokens[:0]
		for _, tok := range tokens {
			if _, stop := p.stopWords[tok]; !stop {
				kept = append(kept, tok)
			}
		}
		tokens = kept
	}

	if p.minN == 1 && p.maxN == 1 {
		return tokens
	}

	var terms []string
	for n := p.minN; n <= p.maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

func normalize(v []float64, n Norm) {
	var total float64
	switch n {
	case NormL2:
		for _, x := range v {
			total += x * x
		}
		total = math.Sqrt(total)
	case NormL1:
		for _, x := range v {
			total += math.Abs(x)
		}
	default:
		return
	}
	if total == 0 {
		return
	}
	for i := range v {
		v[i] /= total
	}
}
