package model

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	artifactFormat  = "voicecmd-weights"
	artifactVersion = 1
)

// ErrIncompatibleWeights is returned when a weights artifact does not match
// the network architecture. It is a fatal startup condition.
var ErrIncompatibleWeights = errors.New("model: incompatible weights")

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// Size returns the number of elements implied by Shape.
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Weights is an immutable set of named tensors.
type Weights struct {
	tensors map[string]Tensor
}

// NewWeights validates and wraps a tensor map. The map is copied.
func NewWeights(tensors map[string]Tensor) (*Weights, error) {
	for name, t := range tensors {
		for _, d := range t.Shape {
			if d < 0 {
				return nil, fmt.Errorf("%w: %s: negative dimension in %v", ErrIncompatibleWeights, name, t.Shape)
			}
		}
		if t.Size() != len(t.Data) {
			return nil, fmt.Errorf("%w: %s: shape %v holds %d values, got %d",
				ErrIncompatibleWeights, name, t.Shape, t.Size(), len(t.Data))
		}
	}
	return &Weights{tensors: maps.Clone(tensors)}, nil
}

// Get returns the tensor with the given name.
func (w *Weights) Get(name string) (Tensor, bool) {
	t, ok := w.tensors[name]
	return t, ok
}

// Names returns all tensor names in sorted order.
func (w *Weights) Names() []string {
	return slices.Sorted(maps.Keys(w.tensors))
}

// NumParams returns the total number of values across all tensors.
func (w *Weights) NumParams() int {
	n := 0
	for _, t := range w.tensors {
		n += len(t.Data)
	}
	return n
}

type artifact struct {
	Format  string            `msgpack:"format"`
	Version int               `msgpack:"version"`
	Tensors map[string]Tensor `msgpack:"tensors"`
}

// ReadWeights decodes a msgpack weights artifact.
func ReadWeights(r io.Reader) (*Weights, error) {
	var a artifact
	if err := msgpack.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrIncompatibleWeights, err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("%w: format %q", ErrIncompatibleWeights, a.Format)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("%w: version %d", ErrIncompatibleWeights, a.Version)
	}
	return NewWeights(a.Tensors)
}

// WriteTo encodes the weights as a msgpack artifact.
func (w *Weights) WriteTo(out io.Writer) (int64, error) {
	cw := &countWriter{w: out}
	enc := msgpack.NewEncoder(cw)
	enc.SetSortMapKeys(true)
	err := enc.Encode(artifact{
		Format:  artifactFormat,
		Version: artifactVersion,
		Tensors: w.tensors,
	})
	if err != nil {
		return cw.n, fmt.Errorf("model: encode weights: %w", err)
	}
	return cw.n, nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// RandomWeights returns deterministic untrained weights for arch, using
// PyTorch default initialization bounds and identity batch-norm statistics.
// They are meant for smoke tests: the resulting classifier is numerically
// well-behaved but recognizes nothing.
func RandomWeights(arch Arch, seed uint64) *Weights {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	tensors := make(map[string]Tensor)
	for _, ts := range arch.layout() {
		t := Tensor{Shape: slices.Clone(ts.shape), Data: make([]float32, ts.size())}
		switch ts.init {
		case initUniform:
			bound := 1 / math.Sqrt(float64(ts.fanIn))
			for i := range t.Data {
				t.Data[i] = float32((rng.Float64()*2 - 1) * bound)
			}
		case initOnes:
			for i := range t.Data {
				t.Data[i] = 1
			}
		case initZeros:
		}
		tensors[ts.name] = t
	}
	return &Weights{tensors: tensors}
}
