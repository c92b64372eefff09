package model

import (
	"fmt"
	"slices"
)

// Arch describes the network dimensions.
type Arch struct {
	Coeffs       int   // MFCC coefficients per frame (input width)
	ConvChannels int   // channels of the first convolution
	Kernel       int   // convolution kernel length along the coefficient axis (odd)
	Hidden       int   // LSTM hidden size per direction
	Head         []int // hidden widths of the classification head
	Classes      int   // output classes
}

// DefaultArch returns the dimensions of the trained command classifier.
func DefaultArch() Arch {
	return Arch{
		Coeffs:       40,
		ConvChannels: 10,
		Kernel:       5,
		Hidden:       64,
		Head:         []int{64, 32},
		Classes:      16,
	}
}

func (a Arch) validate() error {
	switch {
	case a.Coeffs <= 0, a.ConvChannels <= 0, a.Hidden <= 0, a.Classes <= 0:
		return fmt.Errorf("model: invalid arch %+v", a)
	case a.Kernel <= 0 || a.Kernel%2 == 0:
		return fmt.Errorf("model: kernel %d must be odd", a.Kernel)
	case slices.ContainsFunc(a.Head, func(n int) bool { return n <= 0 }):
		return fmt.Errorf("model: invalid head %v", a.Head)
	}
	return nil
}

type initKind int

const (
	initUniform initKind = iota
	initOnes
	initZeros
)

type tensorSpec struct {
	name  string
	shape []int
	init  initKind
	fanIn int
}

func (s tensorSpec) size() int {
	n := 1
	for _, d := range s.shape {
		n *= d
	}
	return n
}

// layout lists every tensor the network reads, by state_dict name.
func (a Arch) layout() []tensorSpec {
	var specs []tensorSpec
	conv := func(prefix string, out, in int) {
		fanIn := in * a.Kernel
		specs = append(specs,
			tensorSpec{prefix + ".weight", []int{out, in, a.Kernel, 1}, initUniform, fanIn},
			tensorSpec{prefix + ".bias", []int{out}, initUniform, fanIn},
		)
	}
	batchNorm := func(prefix string, n int) {
		specs = append(specs,
			tensorSpec{prefix + ".weight", []int{n}, initOnes, 0},
			tensorSpec{prefix + ".bias", []int{n}, initZeros, 0},
			tensorSpec{prefix + ".running_mean", []int{n}, initZeros, 0},
			tensorSpec{prefix + ".running_var", []int{n}, initOnes, 0},
		)
	}
	lstm := func(prefix string, in int) {
		for _, suffix := range []string{"_l0", "_l0_reverse"} {
			specs = append(specs,
				tensorSpec{prefix + ".weight_ih" + suffix, []int{4 * a.Hidden, in}, initUniform, a.Hidden},
				tensorSpec{prefix + ".weight_hh" + suffix, []int{4 * a.Hidden, a.Hidden}, initUniform, a.Hidden},
				tensorSpec{prefix + ".bias_ih" + suffix, []int{4 * a.Hidden}, initUniform, a.Hidden},
				tensorSpec{prefix + ".bias_hh" + suffix, []int{4 * a.Hidden}, initUniform, a.Hidden},
			)
		}
	}
	linear := func(prefix string, out, in int) {
		specs = append(specs,
			tensorSpec{prefix + ".weight", []int{out, in}, initUniform, in},
			tensorSpec{prefix + ".bias", []int{out}, initUniform, in},
		)
	}

	conv("cnn.0", a.ConvChannels, 1)
	batchNorm("cnn.1", a.ConvChannels)
	conv("cnn.3", 1, a.ConvChannels)
	batchNorm("cnn.4", 1)
	lstm("rnn1", a.Coeffs)
	lstm("rnn2", 2*a.Hidden)
	linear("query_proj", 2*a.Hidden, 2*a.Hidden)
	in := 2 * a.Hidden
	for i, out := range a.Head {
		linear(fmt.Sprintf("classifier.%d", 2*i), out, in)
		in = out
	}
	linear(fmt.Sprintf("classifier.%d", 2*len(a.Head)), a.Classes, in)
	return specs
}
