// Package settings persists the recognizer's runtime tuning per CLI context:
// the silence level, the hangover and the confidence threshold. Values are
// msgpack-encoded under settings/<context> in a kv.Store.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/voicecmd/pkg/inference"
	"github.com/haivivi/voicecmd/pkg/kv"
	"github.com/haivivi/voicecmd/pkg/segment"
)

// ErrInvalid is returned when settings fail validation.
var ErrInvalid = errors.New("settings: invalid")

const prefix = "settings"

// Settings are the runtime-adjustable knobs.
type Settings struct {
	SilenceLevel        float32 `msgpack:"silence_level" yaml:"silence_level" json:"silence_level"`
	Hangover            int     `msgpack:"hangover" yaml:"hangover" json:"hangover"`
	ConfidenceThreshold float64 `msgpack:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
}

// Default returns the recognizer defaults.
func Default() Settings {
	return Settings{
		SilenceLevel:        segment.DefaultSilenceLevel,
		Hangover:            segment.DefaultHangover,
		ConfidenceThreshold: inference.DefaultThreshold,
	}
}

// Validate checks the value ranges accepted by the segmenter and the
// inference controller.
func (s Settings) Validate() error {
	switch {
	case s.SilenceLevel < 0 || math.IsNaN(float64(s.SilenceLevel)):
		return fmt.Errorf("%w: silence_level %v must be >= 0", ErrInvalid, s.SilenceLevel)
	case s.Hangover < 1:
		return fmt.Errorf("%w: hangover %d must be >= 1", ErrInvalid, s.Hangover)
	case !(s.ConfidenceThreshold > 0 && s.ConfidenceThreshold < 1):
		return fmt.Errorf("%w: confidence_threshold %v must be in (0, 1)", ErrInvalid, s.ConfidenceThreshold)
	}
	return nil
}

// Store reads and writes Settings in a kv.Store.
type Store struct {
	kv kv.Store
}

// NewStore wraps a kv.Store.
func NewStore(s kv.Store) *Store {
	return &Store{kv: s}
}

func key(name string) kv.Key {
	return kv.Key{prefix, name}
}

// Load returns the settings saved for name. If nothing was saved it returns
// Default() and found=false.
func (s *Store) Load(ctx context.Context, name string) (set Settings, found bool, err error) {
	data, err := s.kv.Get(ctx, key(name))
	if errors.Is(err, kv.ErrNotFound) {
		return Default(), false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("settings: load %s: %w", name, err)
	}
	set = Default()
	if err := msgpack.Unmarshal(data, &set); err != nil {
		return Settings{}, false, fmt.Errorf("settings: decode %s: %w", name, err)
	}
	if err := set.Validate(); err != nil {
		return Settings{}, false, fmt.Errorf("settings: stored %s: %w", name, err)
	}
	return set, true, nil
}

// Save validates and stores set under name.
func (s *Store) Save(ctx context.Context, name string, set Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(set)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := s.kv.Set(ctx, key(name), data); err != nil {
		return fmt.Errorf("settings: save %s: %w", name, err)
	}
	return nil
}

// Reset removes the settings saved for name.
func (s *Store) Reset(ctx context.Context, name string) error {
	return s.kv.Delete(ctx, key(name))
}

// Names lists the contexts that have saved settings.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	var names []string
	for e, err := range s.kv.List(ctx, kv.Key{prefix}) {
		if err != nil {
			return nil, err
		}
		if len(e.Key) == 2 {
			names = append(names, e.Key[1])
		}
	}
	return names, nil
}

// Set applies a textual assignment such as "silence_level=9" to set.
func (s *Settings) Set(field, value string) error {
	switch field {
	case "silence_level", "silence-level", "silence":
		var v float32
		if _, err := fmt.Sscan(value, &v); err != nil {
			return fmt.Errorf("%w: silence_level %q", ErrInvalid, value)
		}
		s.SilenceLevel = v
	case "hangover", "silence_hangover":
		var v int
		if _, err := fmt.Sscan(value, &v); err != nil {
			return fmt.Errorf("%w: hangover %q", ErrInvalid, value)
		}
		s.Hangover = v
	case "confidence_threshold", "confidence-threshold", "threshold":
		var v float64
		if _, err := fmt.Sscan(value, &v); err != nil {
			return fmt.Errorf("%w: confidence_threshold %q", ErrInvalid, value)
		}
		s.ConfidenceThreshold = v
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalid, field)
	}
	return s.Validate()
}
