package model

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/voicecmd/pkg/features"
)

var (
	// ErrNumerical is returned when the forward pass produces a non-finite
	// distribution.
	ErrNumerical = errors.New("model: numerical failure")

	// ErrInvalidInput is returned for feature tensors of the wrong width or
	// with no frames.
	ErrInvalidInput = errors.New("model: invalid input")
)

// Option configures a Classifier.
type Option func(*options)

type options struct {
	arch      Arch
	extractor *features.Extractor
}

// WithArch overrides the network dimensions.
func WithArch(a Arch) Option {
	return func(o *options) { o.arch = a }
}

// WithExtractor sets the front-end used by Classify.
func WithExtractor(e *features.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// Classifier is the loaded network.
type Classifier struct {
	arch      Arch
	extractor *features.Extractor

	conv1 conv
	bn1   batchNorm
	conv2 conv
	bn2   batchNorm
	rnn1  biLSTM
	rnn2  biLSTM
	query linear
	head  []linear
}

// New builds a Classifier from weights. Every tensor the architecture reads
// must be present with the expected shape; otherwise New returns an error
// wrapping ErrIncompatibleWeights.
func New(w *Weights, opts ...Option) (*Classifier, error) {
	o := options{arch: DefaultArch()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.arch.validate(); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: no weights", ErrIncompatibleWeights)
	}
	for _, ts := range o.arch.layout() {
		t, ok := w.Get(ts.name)
		if !ok {
			return nil, fmt.Errorf("%w: missing tensor %s", ErrIncompatibleWeights, ts.name)
		}
		if !slices.Equal(t.Shape, ts.shape) {
			return nil, fmt.Errorf("%w: %s has shape %v, want %v", ErrIncompatibleWeights, ts.name, t.Shape, ts.shape)
		}
	}
	if o.extractor == nil {
		o.extractor = features.Default()
	}
	if _, coeffs := o.extractor.Shape(); coeffs != o.arch.Coeffs {
		return nil, fmt.Errorf("%w: extractor yields %d coefficients, network expects %d",
			ErrIncompatibleWeights, coeffs, o.arch.Coeffs)
	}

	get := func(name string) Tensor {
		t, _ := w.Get(name)
		return t
	}
	bn := func(prefix string) batchNorm {
		return newBatchNorm(get(prefix+".weight"), get(prefix+".bias"),
			get(prefix+".running_mean"), get(prefix+".running_var"))
	}
	bi := func(prefix string) biLSTM {
		dir := func(suffix string) lstm {
			return newLSTM(get(prefix+".weight_ih"+suffix), get(prefix+".weight_hh"+suffix),
				get(prefix+".bias_ih"+suffix), get(prefix+".bias_hh"+suffix))
		}
		return biLSTM{fwd: dir("_l0"), bwd: dir("_l0_reverse")}
	}

	c := &Classifier{
		arch:      o.arch,
		extractor: o.extractor,
		conv1:     newConv(get("cnn.0.weight"), get("cnn.0.bias"), o.arch.Coeffs),
		bn1:       bn("cnn.1"),
		conv2:     newConv(get("cnn.3.weight"), get("cnn.3.bias"), o.arch.Coeffs),
		bn2:       bn("cnn.4"),
		rnn1:      bi("rnn1"),
		rnn2:      bi("rnn2"),
		query:     newLinear(get("query_proj.weight"), get("query_proj.bias")),
	}
	for i := range len(o.arch.Head) + 1 {
		prefix := fmt.Sprintf("classifier.%d", 2*i)
		c.head = append(c.head, newLinear(get(prefix+".weight"), get(prefix+".bias")))
	}
	return c, nil
}

// NumClasses returns the length of the output distribution.
func (c *Classifier) NumClasses() int {
	return c.arch.Classes
}

// Arch returns the network dimensions.
func (c *Classifier) Arch() Arch {
	return c.arch
}

// Classify runs the MFCC front-end and the network on a mono waveform.
func (c *Classifier) Classify(waveform []float32) ([]float64, error) {
	feats, err := c.extractor.ExtractWaveform(waveform)
	if err != nil {
		return nil, err
	}
	return c.Forward(feats)
}

// Forward maps a [T][Coeffs] feature tensor to class probabilities.
func (c *Classifier) Forward(feats [][]float32) ([]float64, error) {
	if len(feats) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrInvalidInput)
	}
	steps, width := len(feats), c.arch.Coeffs
	x := mat.NewDense(steps, width, nil)
	for t, frame := range feats {
		if len(frame) != width {
			return nil, fmt.Errorf("%w: frame %d has %d coefficients, want %d", ErrInvalidInput, t, len(frame), width)
		}
		row := x.RawRowView(t)
		for k, v := range frame {
			row[k] = float64(v)
		}
	}

	maps := c.conv1.apply([]*mat.Dense{x})
	c.bn1.applyReLU(maps)
	maps = c.conv2.apply(maps)
	c.bn2.applyReLU(maps)

	seq := c.rnn2.apply(c.rnn1.apply(maps[0]))
	v := attend(seq, c.query)
	for i, layer := range c.head {
		v = layer.apply(v)
		if i < len(c.head)-1 {
			reluVec(v)
		}
	}

	probs := slices.Clone(v.RawVector().Data)
	softmax(probs)
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: class %d probability %v", ErrNumerical, i, p)
		}
	}
	return probs, nil
}
