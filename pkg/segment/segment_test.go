package segment

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

const blockSize = 8000

// blockWithEnergy returns a constant block whose Energy is e.
func blockWithEnergy(e float64) Block {
	v := float32(e / (10 * math.Sqrt(blockSize)))
	b := make(Block, blockSize)
	for i := range b {
		b[i] = v
	}
	return b
}

func mustNew(t *testing.T, cfg Config) *Segmenter {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestEnergy(t *testing.T) {
	if e := Energy(nil); e != 0 {
		t.Errorf("Energy(nil) = %f, want 0", e)
	}
	if e := Energy(Block{3, 4}); math.Abs(e-50) > 1e-9 {
		t.Errorf("Energy([3 4]) = %f, want 50", e)
	}
	if e := Energy(blockWithEnergy(9)); math.Abs(e-9) > 1e-3 {
		t.Errorf("Energy = %f, want 9", e)
	}
}

func TestSegmenter_QuietStaysIdle(t *testing.T) {
	s := mustNew(t, DefaultConfig())
	for i := range 10 {
		if u := s.Push(blockWithEnergy(2)); u != nil {
			t.Fatalf("block %d: unexpected utterance", i)
		}
		if s.State() != Idle {
			t.Fatalf("block %d: state = %v, want idle", i, s.State())
		}
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", s.Pending())
	}
}

func TestSegmenter_HangoverFinalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hangover = 2
	s := mustNew(t, cfg)

	energies := []float64{9, 9, 9, 1, 1}
	var got []*Utterance
	for i, e := range energies {
		if u := s.Push(blockWithEnergy(e)); u != nil {
			if i != len(energies)-1 {
				t.Fatalf("finalized early at block %d", i)
			}
			got = append(got, u)
		}
	}
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	u := got[0]
	if len(u.Blocks) != 5 {
		t.Errorf("blocks = %d, want 5", len(u.Blocks))
	}
	if u.Len() != 5*blockSize {
		t.Errorf("Len = %d, want %d", u.Len(), 5*blockSize)
	}
	if u.Forced {
		t.Error("utterance should not be forced")
	}
	if u.Duration() != 2500*time.Millisecond {
		t.Errorf("Duration = %v, want 2.5s", u.Duration())
	}
	if s.State() != Idle || s.Pending() != 0 {
		t.Errorf("after finalize: state=%v pending=%d", s.State(), s.Pending())
	}
}

func TestSegmenter_SpeechResetsHangover(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hangover = 2
	cfg.MaxSamples = 100 * blockSize
	s := mustNew(t, cfg)

	// quiet, loud, quiet, loud, quiet, quiet -> one utterance of 5 blocks
	seq := []float64{1, 9, 1, 9, 1, 1}
	var done *Utterance
	for i, e := range seq {
		u := s.Push(blockWithEnergy(e))
		if u != nil && i != len(seq)-1 {
			t.Fatalf("finalized early at block %d", i)
		}
		done = u
	}
	if done == nil {
		t.Fatal("no utterance finalized")
	}
	if len(done.Blocks) != 5 {
		t.Errorf("blocks = %d, want 5", len(done.Blocks))
	}
}

func TestSegmenter_BoundaryIsQuiet(t *testing.T) {
	s := mustNew(t, Config{SilenceLevel: 50, Hangover: 1})
	// Energy exactly at the level does not start recording.
	if u := s.Push(Block{3, 4}); u != nil || s.State() != Idle {
		t.Fatalf("energy == level should stay idle, state=%v", s.State())
	}
	s.Push(Block{3, 4.1})
	if s.State() != Recording {
		t.Fatalf("state = %v, want recording", s.State())
	}
	if u := s.Push(Block{3, 4}); u == nil {
		t.Fatal("energy == level should count as quiet and finalize")
	}
}

func TestSegmenter_ForceFinalize(t *testing.T) {
	s := mustNew(t, DefaultConfig())
	var forced []*Utterance
	for range 14 {
		if u := s.Push(blockWithEnergy(9)); u != nil {
			forced = append(forced, u)
		}
	}
	if len(forced) != 2 {
		t.Fatalf("got %d forced utterances, want 2", len(forced))
	}
	for i, u := range forced {
		if !u.Forced {
			t.Errorf("utterance %d: Forced = false", i)
		}
		if u.Len() != DefaultMaxSamples {
			t.Errorf("utterance %d: Len = %d, want %d", i, u.Len(), DefaultMaxSamples)
		}
	}
	if forced[0].ID == forced[1].ID {
		t.Error("utterance IDs should differ")
	}
	// 14 blocks: two utterances of 6, the last two still recording.
	if s.State() != Recording || s.Pending() != 2*blockSize {
		t.Errorf("state=%v pending=%d, want recording with %d", s.State(), s.Pending(), 2*blockSize)
	}
}

func TestSegmenter_Stereo(t *testing.T) {
	s := mustNew(t, Config{SilenceLevel: 7, Hangover: 1, MaxSamples: 4, Channels: 2})
	u := s.Push(Block{1, 1, 1, 1, 1, 1, 1, 1})
	if u == nil {
		t.Fatal("4 stereo frames should reach MaxSamples")
	}
	if u.Len() != 4 || u.Channels != 2 {
		t.Errorf("Len=%d Channels=%d, want 4, 2", u.Len(), u.Channels)
	}
	if got := len(u.Samples()); got != 8 {
		t.Errorf("Samples = %d, want 8", got)
	}
}

func TestSegmenter_Reset(t *testing.T) {
	s := mustNew(t, DefaultConfig())
	s.Push(blockWithEnergy(9))
	s.Push(blockWithEnergy(9))
	if n := s.Reset(); n != 2*blockSize {
		t.Errorf("Reset discarded %d frames, want %d", n, 2*blockSize)
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
	if u := s.Push(blockWithEnergy(1)); u != nil {
		t.Error("quiet block after reset should not finalize")
	}
}

func TestSegmenter_SetSilenceLevel(t *testing.T) {
	s := mustNew(t, DefaultConfig())
	if err := s.SetSilenceLevel(-1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetSilenceLevel(-1) err = %v, want ErrInvalidConfig", err)
	}
	if err := s.SetSilenceLevel(1.5); err != nil {
		t.Fatal(err)
	}
	if s.SilenceLevel() != 1.5 {
		t.Errorf("SilenceLevel = %v, want 1.5", s.SilenceLevel())
	}
	s.Push(blockWithEnergy(2))
	if s.State() != Recording {
		t.Errorf("energy 2 over level 1.5: state = %v, want recording", s.State())
	}
}

func TestSegmenter_ConcurrentLevelUpdates(t *testing.T) {
	s := mustNew(t, DefaultConfig())
	loud := blockWithEnergy(9)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			_ = s.SetSilenceLevel(float32(i % 10))
		}
	}()
	go func() {
		defer wg.Done()
		for range 1000 {
			s.Push(loud)
		}
	}()
	wg.Wait()
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero hangover", Config{SilenceLevel: 7}},
		{"negative level", Config{SilenceLevel: -1, Hangover: 1}},
		{"negative max", Config{SilenceLevel: 7, Hangover: 1, MaxSamples: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Recording.String() != "recording" {
		t.Errorf("got %q, %q", Idle.String(), Recording.String())
	}
}

func TestSegmenter_Flush(t *testing.T) {
	s := mustNew(t, Config{SilenceLevel: 7, Hangover: 3})
	if u := s.Flush(); u != nil {
		t.Fatal("Flush in idle returned an utterance")
	}
	s.Push(blockWithEnergy(9))
	s.Push(blockWithEnergy(1))
	u := s.Flush()
	if u == nil || len(u.Blocks) != 2 || u.Forced {
		t.Fatalf("Flush = %+v, want 2 unforced blocks", u)
	}
	if s.State() != Idle {
		t.Errorf("state = %v after flush", s.State())
	}
}
