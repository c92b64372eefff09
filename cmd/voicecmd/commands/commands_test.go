package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/haivivi/voicecmd/pkg/audio/wavfile"
	"github.com/haivivi/voicecmd/pkg/cli"
	"github.com/haivivi/voicecmd/pkg/command"
	"github.com/haivivi/voicecmd/pkg/segment"
	"github.com/haivivi/voicecmd/pkg/settings"
	"github.com/haivivi/voicecmd/pkg/storage"
)

type fakeKnobs struct {
	paused    bool
	level     float32
	threshold float64
}

func (k *fakeKnobs) Pause()       { k.paused = true }
func (k *fakeKnobs) Resume()      { k.paused = false }
func (k *fakeKnobs) Paused() bool { return k.paused }
func (k *fakeKnobs) SetSilenceLevel(v float32) error {
	if v < 0 {
		return errors.New("negative")
	}
	k.level = v
	return nil
}
func (k *fakeKnobs) SilenceLevel() float32 { return k.level }
func (k *fakeKnobs) SetConfidenceThreshold(v float64) error {
	if v <= 0 || v >= 1 {
		return errors.New("out of range")
	}
	k.threshold = v
	return nil
}
func (k *fakeKnobs) ConfidenceThreshold() float64 { return k.threshold }

func TestControls(t *testing.T) {
	k := &fakeKnobs{level: 7, threshold: 0.9}
	var saved []settings.Settings
	quit := 0
	var out bytes.Buffer
	c := &controls{
		knobs:    k,
		hangover: 2,
		persist:  func(s settings.Settings) error { saved = append(saved, s); return nil },
		out:      &out,
		quit:     func() { quit++ },
	}

	steps := []struct {
		line    string
		wantErr bool
	}{
		{"", false},
		{"pause", false},
		{"silence 9.5", false},
		{"threshold 0.75", false},
		{"threshold 2", true},
		{"silence", true},
		{"silence abc", true},
		{"volume 3", true},
		{"status", false},
		{"resume", false},
	}
	for _, s := range steps {
		done, err := c.apply(s.line)
		if (err != nil) != s.wantErr {
			t.Errorf("apply(%q) err = %v, wantErr %v", s.line, err, s.wantErr)
		}
		if done {
			t.Errorf("apply(%q) ended listening", s.line)
		}
	}
	if k.paused || k.level != 9.5 || k.threshold != 0.75 {
		t.Errorf("knobs = %+v", k)
	}
	want := []settings.Settings{
		{SilenceLevel: 9.5, Hangover: 2, ConfidenceThreshold: 0.9},
		{SilenceLevel: 9.5, Hangover: 2, ConfidenceThreshold: 0.75},
	}
	if len(saved) != len(want) || saved[0] != want[0] || saved[1] != want[1] {
		t.Errorf("saved = %+v, want %+v", saved, want)
	}
	if !strings.Contains(out.String(), "paused=true silence=9.5 threshold=0.75") {
		t.Errorf("status output = %q", out.String())
	}

	done, err := c.apply("quit")
	if err != nil || !done || quit != 1 {
		t.Errorf("quit: done=%v err=%v calls=%d", done, err, quit)
	}
}

func TestControls_Run(t *testing.T) {
	k := &fakeKnobs{level: 7, threshold: 0.9}
	quit := make(chan struct{})
	c := &controls{knobs: k, out: io.Discard, quit: func() { close(quit) }}
	var errOut bytes.Buffer
	cli.Stderr = &errOut
	t.Cleanup(func() { cli.Stderr = os.Stderr })
	done := make(chan struct{})
	go func() {
		c.run(strings.NewReader("pause\nbogus\nquit\nresume\n"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
	select {
	case <-quit:
	default:
		t.Fatal("quit not called")
	}
	if !k.paused {
		t.Error("lines after quit were applied or pause was lost")
	}
	if !strings.Contains(errOut.String(), "Error: ") || !strings.Contains(errOut.String(), "bogus") {
		t.Errorf("stderr = %q, want the unknown command reported", errOut.String())
	}
}

func newListenFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "listen"}
	listenFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestResolveListenOptions(t *testing.T) {
	ctx := &cli.Context{Name: "studio", SilenceLevel: 8, BlockMS: 250}
	ctx.Set("device", "3")

	opts, err := resolveListenOptions(newListenFlags(t), ctx, settings.Settings{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if opts.settings != (settings.Settings{SilenceLevel: 8, Hangover: 1, ConfidenceThreshold: 0.9}) {
		t.Errorf("context layer = %+v", opts.settings)
	}
	if opts.device != 3 || opts.block != 250*time.Millisecond {
		t.Errorf("device = %d block = %v", opts.device, opts.block)
	}

	saved := settings.Settings{SilenceLevel: 11, Hangover: 2, ConfidenceThreshold: 0.8}
	opts, err = resolveListenOptions(newListenFlags(t), ctx, saved, true)
	if err != nil {
		t.Fatal(err)
	}
	if opts.settings != saved {
		t.Errorf("saved layer = %+v", opts.settings)
	}

	opts, err = resolveListenOptions(newListenFlags(t, "--silence", "5", "--threshold", "0.6", "--device", "-1"), ctx, saved, true)
	if err != nil {
		t.Fatal(err)
	}
	if opts.settings.SilenceLevel != 5 || opts.settings.ConfidenceThreshold != 0.6 || opts.settings.Hangover != 2 {
		t.Errorf("flag layer = %+v", opts.settings)
	}
	if opts.device != -1 {
		t.Errorf("device = %d", opts.device)
	}

	if _, err := resolveListenOptions(newListenFlags(t, "--threshold", "1.5"), ctx, saved, true); err == nil {
		t.Error("threshold 1.5 accepted")
	}
	if _, err := resolveListenOptions(newListenFlags(t, "--block-ms", "0"), ctx, saved, true); err == nil {
		t.Error("block-ms 0 accepted")
	}
}

func TestRankProbs(t *testing.T) {
	probs := make([]float64, command.NumCommands)
	probs[command.Italic] = 0.7
	probs[command.Bold] = 0.2
	probs[command.AlignLeft] = 0.1
	ranked := rankProbs(probs)
	if len(ranked) != command.NumCommands {
		t.Fatalf("len = %d", len(ranked))
	}
	if ranked[0].Label != "italic" || ranked[1].Label != "bold" || ranked[2].Label != "align_left" {
		t.Errorf("ranked = %+v", ranked[:3])
	}
}

func TestDumper(t *testing.T) {
	mem := afero.NewMemMapFs()
	store, err := storage.NewLocal(mem, "/dumps")
	if err != nil {
		t.Fatal(err)
	}
	d := &dumper{store: store}
	u := &segment.Utterance{
		ID:       uuid.New(),
		Blocks:   []segment.Block{make(segment.Block, 800)},
		Channels: 1,
		Started:  time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
	}
	d.dump(u, command.Result{Label: command.Bold, UtteranceID: u.ID})

	name := "/dumps/20261018T093000.000_bold_" + u.ID.String() + ".wav"
	f, err := mem.Open(name)
	if err != nil {
		t.Fatalf("dump not written: %v", err)
	}
	defer f.Close()
	a, err := wavfile.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if a.Frames() != 800 {
		t.Errorf("Frames = %d", a.Frames())
	}
}

func silenceWAV(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = float32(0.001 * math.Sin(float64(i)))
	}
	if err := wavfile.Encode(f, samples, 1); err != nil {
		t.Fatal(err)
	}
}

func TestWeightsInitAndClassify(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the full network")
	}
	dir := t.TempDir()
	weights := filepath.Join(dir, "w.msgpack")
	wav := filepath.Join(dir, "quiet.wav")
	silenceWAV(t, wav, 8000)

	var out bytes.Buffer
	cli.Stdout = &out
	t.Cleanup(func() { cli.Stdout = os.Stdout; outputFormat = "" })

	cfg := filepath.Join(dir, "config.yaml")
	rootCmd.SetArgs([]string{"--config", cfg, "weights", "init", "--seed", "3", "--out", weights})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("weights init: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote") {
		t.Errorf("init output = %q", out.String())
	}

	out.Reset()
	rootCmd.SetArgs([]string{"--config", cfg, "-o", "json", "weights", "inspect", weights})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("weights inspect: %v", err)
	}
	var info weightsInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("inspect output %q: %v", out.String(), err)
	}
	if !info.Compatible || info.Parameters == 0 || len(info.Tensors) == 0 {
		t.Errorf("inspect = %+v", info)
	}

	out.Reset()
	rootCmd.SetArgs([]string{"--config", cfg, "-o", "json", "classify", "--weights", weights, "--probs", wav})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("classify: %v", err)
	}
	var results []struct {
		Source        string      `json:"source"`
		Label         string      `json:"label"`
		Confidence    float64     `json:"confidence"`
		Probabilities []classProb `json:"probabilities"`
	}
	if err := json.Unmarshal(out.Bytes(), &results); err != nil {
		t.Fatalf("classify output %q: %v", out.String(), err)
	}
	if len(results) != 1 || results[0].Source != wav {
		t.Fatalf("results = %+v", results)
	}
	r := results[0]
	if r.Confidence < 0 || r.Confidence > 1 {
		t.Errorf("confidence = %v", r.Confidence)
	}
	sum := 0.0
	for _, p := range r.Probabilities {
		sum += p.Probability
	}
	if len(r.Probabilities) != command.NumCommands || math.Abs(sum-1) > 1e-6 {
		t.Errorf("probabilities = %d entries, sum %v", len(r.Probabilities), sum)
	}
	if r.Probabilities[0].Probability > 0.9 && r.Label == "reject" {
		t.Errorf("top probability %v above threshold but rejected", r.Probabilities[0].Probability)
	}
}

func TestReadWAV_Missing(t *testing.T) {
	_, err := readWAV(context.Background(), &cli.Context{}, filepath.Join(t.TempDir(), "none.wav"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}
