package wavfile

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/haivivi/voicecmd/pkg/segment"
)

func memFile(t *testing.T, name string) afero.File {
	t.Helper()
	f, err := afero.NewMemMapFs().Create(name)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func rewind(t *testing.T, f afero.File) {
	t.Helper()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
}

func sine(n int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func TestEncodeDecode(t *testing.T) {
	for _, channels := range []int{1, 2} {
		f := memFile(t, "u.wav")
		in := sine(1600*channels, 440)
		if err := Encode(f, in, channels); err != nil {
			t.Fatalf("Encode: %v", err)
		}
		rewind(t, f)
		a, err := Decode(f)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if a.Channels != channels {
			t.Errorf("Channels = %d, want %d", a.Channels, channels)
		}
		if len(a.Samples) != len(in) {
			t.Fatalf("len = %d, want %d", len(a.Samples), len(in))
		}
		for i := range in {
			if d := math.Abs(float64(a.Samples[i] - in[i])); d > 1.0/16384 {
				t.Fatalf("sample %d = %v, want %v", i, a.Samples[i], in[i])
			}
		}
		if a.Frames() != 1600 || a.Duration().Milliseconds() != 100 {
			t.Errorf("Frames = %d Duration = %v", a.Frames(), a.Duration())
		}
	}
}

func TestEncode_Clips(t *testing.T) {
	f := memFile(t, "clip.wav")
	if err := Encode(f, []float32{2, -2, 0}, 1); err != nil {
		t.Fatal(err)
	}
	rewind(t, f)
	a, err := Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if a.Samples[0] < 0.999 || a.Samples[1] != -1 || a.Samples[2] != 0 {
		t.Errorf("clipped = %v", a.Samples)
	}
}

func TestDecode_WrongRate(t *testing.T) {
	f := memFile(t, "8k.wav")
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, 800),
		SourceBitDepth: 16,
	})
	enc.Close()
	rewind(t, f)
	if _, err := Decode(f); !errors.Is(err, ErrSampleRate) {
		t.Fatalf("err = %v, want ErrSampleRate", err)
	}
}

func TestDecode_NotWav(t *testing.T) {
	f := memFile(t, "junk.wav")
	f.Write([]byte("definitely not a RIFF file"))
	rewind(t, f)
	if _, err := Decode(f); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestEncodeUtterance(t *testing.T) {
	var buf bytes.Buffer
	u := &segment.Utterance{
		Blocks:   []segment.Block{sine(800, 300), sine(800, 300)},
		Channels: 1,
	}
	if err := EncodeUtterance(&buf, u); err != nil {
		t.Fatal(err)
	}
	a, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if a.Frames() != 1600 {
		t.Errorf("Frames = %d, want 1600", a.Frames())
	}
}

func readAll(t *testing.T, s interface {
	ReadBlock() (segment.Block, error)
}) []segment.Block {
	t.Helper()
	var out []segment.Block
	for {
		b, err := s.ReadBlock()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, b)
	}
}

func TestSource_Blocks(t *testing.T) {
	a := &Audio{Samples: sine(2500, 200), Channels: 1}
	src := NewSource(a, SourceOptions{BlockFrames: 1000})
	st, err := src.Open()
	if err != nil {
		t.Fatal(err)
	}
	blocks := readAll(t, st)
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	for i, b := range blocks {
		if len(b) != 1000 {
			t.Errorf("block %d len = %d", i, len(b))
		}
	}
	for _, v := range blocks[2][500:] {
		if v != 0 {
			t.Fatal("last block not zero padded")
		}
	}
	if blocks[1][0] != a.Samples[1000] {
		t.Error("blocks out of order")
	}
}

func TestSource_ResumeAfterReopen(t *testing.T) {
	a := &Audio{Samples: sine(4000, 200), Channels: 2}
	src := NewSource(a, SourceOptions{BlockFrames: 500})
	st, _ := src.Open()
	if _, err := st.ReadBlock(); err != nil {
		t.Fatal(err)
	}
	st.Close()
	if _, err := st.ReadBlock(); !errors.Is(err, io.EOF) {
		t.Errorf("read after Close err = %v, want EOF", err)
	}

	st, _ = src.Open()
	blocks := readAll(t, st)
	if len(blocks) != 3 {
		t.Fatalf("reopened stream yielded %d blocks, want 3", len(blocks))
	}
	if len(blocks[0]) != 1000 || blocks[0][0] != a.Samples[1000] {
		t.Error("reopened stream did not continue from cursor")
	}
}

func TestSource_Paced(t *testing.T) {
	a := &Audio{Samples: make([]float32, 160), Channels: 1}
	st, _ := NewSource(a, SourceOptions{BlockFrames: 80, Paced: true}).Open()
	if n := len(readAll(t, st)); n != 2 {
		t.Fatalf("got %d blocks, want 2", n)
	}
}

func TestBytes(t *testing.T) {
	data, err := Bytes(sine(320, 500), 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("header = %q", data[:12])
	}
	if want := 44 + 320*2; len(data) != want {
		t.Errorf("len = %d, want %d", len(data), want)
	}
}
