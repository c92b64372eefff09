package mfcc

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"strconv"
	"testing"
)

func mustNew(t testing.TB) *Extractor {
	t.Helper()
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestHannWindow(t *testing.T) {
	w := hannWindow(400)
	if len(w) != 400 {
		t.Fatalf("expected 400, got %d", len(w))
	}
	// Periodic window: starts at 0, peaks at n/2, not symmetric at the end.
	if w[0] != 0 {
		t.Errorf("w[0] = %f, want 0", w[0])
	}
	if math.Abs(w[200]-1.0) > 1e-12 {
		t.Errorf("w[200] = %f, want 1", w[200])
	}
	if math.Abs(w[1]-w[399]) > 1e-12 {
		t.Errorf("w[1] = %f, w[399] = %f, want equal", w[1], w[399])
	}
}

func TestMelConversion(t *testing.T) {
	mel := hzToMel(1000)
	if math.Abs(mel-1000.0) > 1.0 {
		t.Errorf("hzToMel(1000) = %f, want ~1000", mel)
	}
	hz := melToHz(mel)
	if math.Abs(hz-1000) > 1e-6 {
		t.Errorf("melToHz(hzToMel(1000)) = %f, want 1000", hz)
	}
}

func TestMelFilterBank(t *testing.T) {
	bank := melFilterBank(80, 201, 16000, 0, 8000)
	if len(bank) != 80 {
		t.Fatalf("expected 80 filters, got %d", len(bank))
	}
	for i, f := range bank {
		if len(f) != 201 {
			t.Fatalf("filter %d: expected 201 bins, got %d", i, len(f))
		}
		for k, v := range f {
			if v < 0 || v > 1 {
				t.Fatalf("filter %d bin %d = %f, want within [0, 1]", i, k, v)
			}
		}
	}
	// Upper filters are wider than a bin and must each see some energy.
	for i := 40; i < 80; i++ {
		sum := 0.0
		for _, v := range bank[i] {
			sum += v
		}
		if sum == 0 {
			t.Errorf("filter %d is all zeros", i)
		}
	}
}

func TestDCTOrthonormal(t *testing.T) {
	d := dctMatrix(40, 80)
	for a := range 40 {
		for b := range 40 {
			dot := 0.0
			for n := range 80 {
				dot += d[a][n] * d[b][n]
			}
			want := 0.0
			if a == b {
				want = 1
			}
			if math.Abs(dot-want) > 1e-9 {
				t.Fatalf("<d%d, d%d> = %f, want %f", a, b, dot, want)
			}
		}
	}
}

func TestReflectIndex(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{0, 10, 0},
		{-1, 10, 1},
		{-3, 10, 3},
		{9, 10, 9},
		{10, 10, 8},
		{12, 10, 6},
	}
	for _, tt := range tests {
		if got := reflectIndex(tt.i, tt.n); got != tt.want {
			t.Errorf("reflectIndex(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}

func TestExtract_Shape(t *testing.T) {
	e := mustNew(t)
	feats, err := e.Extract(make([]float32, 48000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(feats) != 301 {
		t.Fatalf("frames = %d, want 301", len(feats))
	}
	for i, f := range feats {
		if len(f) != 40 {
			t.Fatalf("frame %d: %d coefficients, want 40", i, len(f))
		}
	}
}

func TestExtract_Silence(t *testing.T) {
	e := mustNew(t)
	feats, err := e.Extract(make([]float32, 16000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Every mel bin floors at -100 dB; only c0 survives the orthonormal DCT.
	want0 := -100 * math.Sqrt(80)
	for ti, frame := range feats {
		if math.Abs(float64(frame[0])-want0) > 1e-2 {
			t.Fatalf("frame %d: c0 = %f, want %f", ti, frame[0], want0)
		}
		for k := 1; k < len(frame); k++ {
			if math.Abs(float64(frame[k])) > 1e-2 {
				t.Fatalf("frame %d: c%d = %f, want 0", ti, k, frame[k])
			}
		}
	}
}

func TestMelSpectrogram_TonePeak(t *testing.T) {
	e := mustNew(t)
	const freq = 1000.0
	pcm := make([]float32, 16000)
	for i := range pcm {
		pcm[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	mel, err := e.MelSpectrogram(pcm)
	if err != nil {
		t.Fatalf("MelSpectrogram: %v", err)
	}
	frame := mel[len(mel)/2]
	peak := 0
	for m, v := range frame {
		if v > frame[peak] {
			peak = m
		}
	}
	step := hzToMel(8000) / 81
	center := melToHz(step * float64(peak+1))
	if math.Abs(center-freq) > 100 {
		t.Errorf("peak mel bin %d centered at %.1f Hz, want near %.0f Hz", peak, center, freq)
	}
}

func TestExtract_TopDBClamp(t *testing.T) {
	e := mustNew(t)
	pcm := make([]float32, 8000)
	for i := range 4000 {
		pcm[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	mel, err := e.MelSpectrogram(pcm)
	if err != nil {
		t.Fatal(err)
	}
	powerToDB(mel, 80)
	peak, low := math.Inf(-1), math.Inf(1)
	for _, frame := range mel {
		for _, v := range frame {
			peak = math.Max(peak, v)
			low = math.Min(low, v)
		}
	}
	if peak-low > 80+1e-9 {
		t.Errorf("dynamic range = %f dB, want <= 80", peak-low)
	}
}

func TestExtract_TooShort(t *testing.T) {
	e := mustNew(t)
	_, err := e.Extract(make([]float32, 200))
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("err = %v, want ErrTooShort", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.HopSize = 0 },
		func(c *Config) { c.NumCoeffs = 81 },
		func(c *Config) { c.HighFreq = 9000 },
		func(c *Config) { c.FFTSize = 1 },
		func(c *Config) { c.TopDB = -1 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("case %d: err = %v, want ErrInvalidConfig", i, err)
		}
	}
}

// reference holds values computed from torchaudio's MFCC definitions by
// testdata/gen_reference.py.
type reference struct {
	Samples int                  `json:"samples"`
	Filters map[string][]float64 `json:"filters"`
	MFCC    [][]float64          `json:"mfcc"`
}

func loadReference(t *testing.T) reference {
	t.Helper()
	data, err := os.ReadFile("testdata/reference.json")
	if err != nil {
		t.Fatal(err)
	}
	var ref reference
	if err := json.Unmarshal(data, &ref); err != nil {
		t.Fatal(err)
	}
	return ref
}

func referenceTone(n int) []float32 {
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = float32(0.5*math.Sin(2*math.Pi*440*float64(i)/16000) +
			0.25*math.Sin(2*math.Pi*1000*float64(i)/16000))
	}
	return pcm
}

func TestMelFilterBank_Reference(t *testing.T) {
	ref := loadReference(t)
	bank := melFilterBank(80, 201, 16000, 0, 8000)
	for key, want := range ref.Filters {
		m, err := strconv.Atoi(key)
		if err != nil {
			t.Fatal(err)
		}
		for k, w := range want {
			if math.Abs(bank[m][k]-w) > 1e-6 {
				t.Errorf("filter %d bin %d = %g, want %g", m, k, bank[m][k], w)
			}
		}
	}
}

func TestExtract_Reference(t *testing.T) {
	ref := loadReference(t)
	got, err := mustNew(t).Extract(referenceTone(ref.Samples))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(ref.MFCC) {
		t.Fatalf("frames = %d, want %d", len(got), len(ref.MFCC))
	}
	for f, want := range ref.MFCC {
		for k, w := range want {
			if d := math.Abs(float64(got[f][k]) - w); d > 1e-4*max(1, math.Abs(w)) {
				t.Errorf("frame %d coeff %d = %g, want %g", f, k, got[f][k], w)
			}
		}
	}
}

func BenchmarkExtract(b *testing.B) {
	e := mustNew(b)
	pcm := make([]float32, 48000)
	for i := range pcm {
		pcm[i] = float32(math.Sin(float64(i) * 0.05))
	}
	b.ResetTimer()
	for range b.N {
		if _, err := e.Extract(pcm); err != nil {
			b.Fatal(err)
		}
	}
}
