package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLabels(t *testing.T) {
	labels := Labels()
	if len(labels) != 16 {
		t.Fatalf("len = %d, want 16", len(labels))
	}
	seen := map[string]bool{}
	for i, l := range labels {
		if int(l) != i {
			t.Errorf("Labels()[%d] = %d", i, l)
		}
		if seen[l.String()] {
			t.Errorf("duplicate name %q", l.String())
		}
		seen[l.String()] = true
		if l.Phrase() == "" {
			t.Errorf("%v has no phrase", l)
		}
	}
	if AlignLeft.String() != "align_left" || AlignLeft.Phrase() != "По левому краю" {
		t.Errorf("AlignLeft = %q / %q", AlignLeft.String(), AlignLeft.Phrase())
	}
	if DecreaseIndent != 15 {
		t.Errorf("DecreaseIndent = %d, want 15", DecreaseIndent)
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		in   string
		want Label
	}{
		{"bold", Bold},
		{"  Numbered_List ", NumberedList},
		{"курсив", Italic},
		{"reject", Reject},
		{"мимо", Reject},
	}
	for _, tt := range tests {
		got, err := ParseLabel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLabel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseLabel("louder"); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestLabelText(t *testing.T) {
	var l Label
	if err := l.UnmarshalText([]byte("superscript")); err != nil || l != Superscript {
		t.Fatalf("UnmarshalText = %v, %v", l, err)
	}
	b, _ := Reject.MarshalText()
	if string(b) != "reject" {
		t.Errorf("MarshalText(Reject) = %q", b)
	}
	if Label(99).Valid() || Label(99).String() != "label(99)" {
		t.Errorf("Label(99) = %q", Label(99).String())
	}
}

func TestResultRecognized(t *testing.T) {
	if !(Result{Label: Bold}).Recognized() {
		t.Error("Bold should be recognized")
	}
	if (Result{Label: Reject}).Recognized() {
		t.Error("Reject should not be recognized")
	}
}

func TestChannel_FIFO(t *testing.T) {
	c := NewChannel()
	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		if err := c.Push(Result{Label: Label(i % NumCommands), UtteranceID: ids[i]}); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 20 {
		t.Fatalf("Len = %d, want 20", c.Len())
	}
	for i, id := range ids {
		r, ok := c.Poll()
		if !ok || r.UtteranceID != id {
			t.Fatalf("result %d out of order", i)
		}
	}
	if _, ok := c.Poll(); ok {
		t.Error("Poll on empty channel returned a result")
	}
}

func TestChannel_NextAndClose(t *testing.T) {
	c := NewChannel()
	done := make(chan Result)
	go func() {
		r, _ := c.Next(context.Background())
		done <- r
	}()
	time.Sleep(10 * time.Millisecond)
	c.Push(Result{Label: Underline})
	select {
	case r := <-done:
		if r.Label != Underline {
			t.Errorf("got %v", r.Label)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}

	c.Push(Result{Label: Reject})
	c.Close()
	if err := c.Push(Result{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close: %v", err)
	}
	if r, err := c.Next(context.Background()); err != nil || r.Label != Reject {
		t.Errorf("drain after Close: %v, %v", r.Label, err)
	}
	if _, err := c.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after drain: %v", err)
	}
}

func TestChannel_NextContext(t *testing.T) {
	c := NewChannel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestChannel_ConcurrentConsumers(t *testing.T) {
	c := NewChannel()
	const n = 500
	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, err := c.Next(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[r.UtteranceID]++
				mu.Unlock()
			}
		}()
	}
	for range n {
		c.Push(Result{Label: Reject, UtteranceID: uuid.New()})
	}
	c.Close()
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("consumed %d distinct results, want %d", len(seen), n)
	}
	for id, k := range seen {
		if k != 1 {
			t.Fatalf("%v consumed %d times", id, k)
		}
	}
}
