package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// toFloat64 widens float32 weights for gonum.
func toFloat64(src []float32) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

// bandMatrix returns the n x n matrix K with K[h][j] = kernel[j-h+pad], so
// that X * K^T is a zero-padded "same" 1-D convolution along the columns
// of X.
func bandMatrix(kernel []float64, n int) *mat.Dense {
	pad := (len(kernel) - 1) / 2
	k := mat.NewDense(n, n, nil)
	for h := range n {
		for i, w := range kernel {
			j := h + i - pad
			if j >= 0 && j < n {
				k.Set(h, j, w)
			}
		}
	}
	return k
}

// conv is a 2-D convolution with a (kernel x 1) filter and "same" padding
// applied to [channel](T x width) feature maps. Because the filter is one
// frame wide, each frame is convolved independently along the width axis.
type conv struct {
	bands [][]*mat.Dense // [out][in] band matrices
	bias  []float64
}

func newConv(weight, bias Tensor, width int) conv {
	out, in, kernel := weight.Shape[0], weight.Shape[1], weight.Shape[2]
	w := toFloat64(weight.Data)
	c := conv{bands: make([][]*mat.Dense, out), bias: toFloat64(bias.Data)}
	for o := range out {
		c.bands[o] = make([]*mat.Dense, in)
		for i := range in {
			off := (o*in + i) * kernel
			c.bands[o][i] = bandMatrix(w[off:off+kernel], width)
		}
	}
	return c
}

func (c conv) apply(in []*mat.Dense) []*mat.Dense {
	rows, cols := in[0].Dims()
	out := make([]*mat.Dense, len(c.bands))
	var tmp mat.Dense
	for o, bands := range c.bands {
		y := mat.NewDense(rows, cols, nil)
		for i, band := range bands {
			tmp.Mul(in[i], band.T())
			y.Add(y, &tmp)
		}
		b := c.bias[o]
		y.Apply(func(_, _ int, v float64) float64 { return v + b }, y)
		out[o] = y
	}
	return out
}

// batchNorm is an inference-mode batch norm folded into a per-channel
// affine transform, optionally followed by ReLU.
type batchNorm struct {
	scale []float64
	shift []float64
}

const batchNormEps = 1e-5

func newBatchNorm(gamma, beta, mean, variance Tensor) batchNorm {
	n := len(gamma.Data)
	bn := batchNorm{scale: make([]float64, n), shift: make([]float64, n)}
	for c := range n {
		s := float64(gamma.Data[c]) / math.Sqrt(float64(variance.Data[c])+batchNormEps)
		bn.scale[c] = s
		bn.shift[c] = float64(beta.Data[c]) - float64(mean.Data[c])*s
	}
	return bn
}

func (bn batchNorm) applyReLU(maps []*mat.Dense) {
	for c, m := range maps {
		s, t := bn.scale[c], bn.shift[c]
		m.Apply(func(_, _ int, v float64) float64 { return max(0, v*s+t) }, m)
	}
}

// linear is y = W x + b.
type linear struct {
	w *mat.Dense
	b *mat.VecDense
}

func newLinear(weight, bias Tensor) linear {
	return linear{
		w: mat.NewDense(weight.Shape[0], weight.Shape[1], toFloat64(weight.Data)),
		b: mat.NewVecDense(bias.Shape[0], toFloat64(bias.Data)),
	}
}

func (l linear) apply(x mat.Vector) *mat.VecDense {
	var y mat.VecDense
	y.MulVec(l.w, x)
	y.AddVec(&y, l.b)
	return &y
}

func reluVec(v *mat.VecDense) {
	data := v.RawVector().Data
	for i, x := range data {
		data[i] = max(0, x)
	}
}

// lstm is one direction of a single-layer LSTM with PyTorch gate order
// (input, forget, cell, output).
type lstm struct {
	hidden int
	wih    *mat.Dense // 4H x in
	whh    *mat.Dense // 4H x H
	bias   []float64  // b_ih + b_hh
}

func newLSTM(wih, whh, bih, bhh Tensor) lstm {
	hidden := whh.Shape[1]
	bias := toFloat64(bih.Data)
	for i, v := range bhh.Data {
		bias[i] += float64(v)
	}
	return lstm{
		hidden: hidden,
		wih:    mat.NewDense(wih.Shape[0], wih.Shape[1], toFloat64(wih.Data)),
		whh:    mat.NewDense(whh.Shape[0], whh.Shape[1], toFloat64(whh.Data)),
		bias:   bias,
	}
}

// run encodes x (T x in) and returns the hidden states (T x H). With
// reverse set the sequence is processed from the last step to the first;
// output row t still corresponds to input row t.
func (l lstm) run(x *mat.Dense, reverse bool) *mat.Dense {
	steps, _ := x.Dims()
	H := l.hidden

	var proj mat.Dense
	proj.Mul(x, l.wih.T())

	out := mat.NewDense(steps, H, nil)
	h := mat.NewVecDense(H, nil)
	c := make([]float64, H)
	var rec mat.VecDense
	gates := make([]float64, 4*H)

	for s := range steps {
		t := s
		if reverse {
			t = steps - 1 - s
		}
		rec.MulVec(l.whh, h)
		row := proj.RawRowView(t)
		for i := range gates {
			gates[i] = row[i] + l.bias[i] + rec.AtVec(i)
		}
		hd := h.RawVector().Data
		for j := range H {
			ig := sigmoid(gates[j])
			fg := sigmoid(gates[H+j])
			gg := math.Tanh(gates[2*H+j])
			og := sigmoid(gates[3*H+j])
			c[j] = fg*c[j] + ig*gg
			hd[j] = og * math.Tanh(c[j])
		}
		out.SetRow(t, hd)
	}
	return out
}

// biLSTM concatenates a forward and a reverse pass: T x 2H.
type biLSTM struct {
	fwd, bwd lstm
}

func (b biLSTM) apply(x *mat.Dense) *mat.Dense {
	f := b.fwd.run(x, false)
	r := b.bwd.run(x, true)
	steps, H := f.Dims()
	out := mat.NewDense(steps, 2*H, nil)
	out.Slice(0, steps, 0, H).(*mat.Dense).Copy(f)
	out.Slice(0, steps, H, 2*H).(*mat.Dense).Copy(r)
	return out
}

// attend pools the rows of x (T x D) with dot-product attention. The query
// is the projection of the last row.
func attend(x *mat.Dense, query linear) *mat.VecDense {
	steps, _ := x.Dims()
	q := query.apply(x.RowView(steps - 1))

	var scores mat.VecDense
	scores.MulVec(x, q)
	softmax(scores.RawVector().Data)

	var pooled mat.VecDense
	pooled.MulVec(x.T(), &scores)
	return &pooled
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softmax normalizes v in place.
func softmax(v []float64) {
	peak := math.Inf(-1)
	for _, x := range v {
		peak = max(peak, x)
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(x - peak)
		v[i] = e
		sum += e
	}
	for i := range v {
		v[i] /= sum
	}
}
