// Package portaudio opens microphone input through PortAudio and adapts it
// to the capture loop. Streams deliver float32 blocks at pcm.SampleRate.
//
// Building requires the PortAudio C library (pkg-config portaudio-2.0).
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/haivivi/voicecmd/pkg/audio/pcm"
)

// DefaultDevice selects the host's default input device.
const DefaultDevice = -1

// DefaultBlockDuration is the capture block length.
const DefaultBlockDuration = 500 * time.Millisecond

// ErrNoDevice is returned when the requested device does not exist or has
// no input channels.
var ErrNoDevice = errors.New("portaudio: no such input device")

var (
	mu       sync.Mutex
	refCount int
)

// Initialize initializes the PortAudio library. Calls nest: each successful
// Initialize must be paired with Terminate.
func Initialize() error {
	mu.Lock()
	defer mu.Unlock()
	if refCount == 0 {
		if err := pa.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	refCount++
	return nil
}

// Terminate releases one Initialize reference.
func Terminate() error {
	mu.Lock()
	defer mu.Unlock()
	if refCount == 0 {
		return nil
	}
	refCount--
	if refCount == 0 {
		return pa.Terminate()
	}
	return nil
}

// Device describes an audio device.
type Device struct {
	Index             int     `json:"index" yaml:"index"`
	Name              string  `json:"name" yaml:"name"`
	HostAPI           string  `json:"host_api" yaml:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels" yaml:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate" yaml:"default_sample_rate"`
	Default           bool    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Devices lists the devices that have input channels. The library must be
// initialized.
func Devices() ([]Device, error) {
	all, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()
	var out []Device
	for i, d := range all {
		if d.MaxInputChannels < 1 {
			continue
		}
		dev := Device{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out, nil
}

func lookup(index int) (*pa.DeviceInfo, error) {
	if index == DefaultDevice {
		d, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: default: %v", ErrNoDevice, err)
		}
		return d, nil
	}
	all, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	if index < 0 || index >= len(all) || all[index].MaxInputChannels < 1 {
		return nil, fmt.Errorf("%w: %d", ErrNoDevice, index)
	}
	return all[index], nil
}

// BlockFrames returns the frames per block of duration d at pcm.SampleRate.
func BlockFrames(d time.Duration) int {
	if d <= 0 {
		d = DefaultBlockDuration
	}
	n := int(int64(pcm.SampleRate) * int64(d) / int64(time.Second))
	return max(n, 1)
}
