package portaudio

import (
	"testing"
	"time"
)

func TestBlockFrames(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{500 * time.Millisecond, 8000},
		{100 * time.Millisecond, 1600},
		{0, 8000},
		{-time.Second, 8000},
		{time.Nanosecond, 1},
		{3 * time.Second, 48000},
	}
	for _, tt := range tests {
		if got := BlockFrames(tt.d); got != tt.want {
			t.Errorf("BlockFrames(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestTerminateWithoutInitialize(t *testing.T) {
	if err := Terminate(); err != nil {
		t.Fatalf("Terminate = %v", err)
	}
}
