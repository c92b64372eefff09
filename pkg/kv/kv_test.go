package kv_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/haivivi/voicecmd/pkg/kv"
)

func stores(t *testing.T) map[string]kv.Store {
	t.Helper()
	b, err := kv.NewBadger(kv.BadgerOptions{
		InMemory: true,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]kv.Store{
		"memory": kv.NewMemory(),
		"badger": b,
	}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := kv.Key{"settings", "default"}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("Get missing err = %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, key, []byte("a")); err != nil {
				t.Fatal(err)
			}
			if err := s.Set(ctx, key, []byte("b")); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get(ctx, key)
			if err != nil || string(got) != "b" {
				t.Fatalf("Get = %q, %v; want b", got, err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatal(err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("second Delete: %v", err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("Get after Delete err = %v", err)
			}
		})
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []kv.Key{
				{"settings", "studio"},
				{"settings", "default"},
				{"settingsx", "other"},
				{"meta", "version"},
			} {
				if err := s.Set(ctx, k, []byte(k.String())); err != nil {
					t.Fatal(err)
				}
			}
			var got []string
			for e, err := range s.List(ctx, kv.Key{"settings"}) {
				if err != nil {
					t.Fatal(err)
				}
				if string(e.Value) != e.Key.String() {
					t.Errorf("value %q under key %v", e.Value, e.Key)
				}
				got = append(got, e.Key.String())
			}
			want := []string{"settings/default", "settings/studio"}
			if !slices.Equal(got, want) {
				t.Errorf("List = %v, want %v", got, want)
			}

			n := 0
			for range s.List(ctx, nil) {
				n++
			}
			if n != 4 {
				t.Errorf("List(all) yielded %d entries, want 4", n)
			}

			n = 0
			for range s.List(ctx, kv.Key{"settings"}) {
				n++
				break
			}
			if n != 1 {
				t.Errorf("early break yielded %d", n)
			}
		})
	}
}

func TestBadKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []kv.Key{nil, {""}, {"a/b"}} {
				if err := s.Set(ctx, k, nil); !errors.Is(err, kv.ErrBadKey) {
					t.Errorf("Set(%q) err = %v, want ErrBadKey", k, err)
				}
			}
		})
	}
}

func TestMemory_Copies(t *testing.T) {
	ctx := context.Background()
	m := kv.NewMemory()
	v := []byte("abc")
	m.Set(ctx, kv.Key{"k"}, v)
	v[0] = 'x'
	got, _ := m.Get(ctx, kv.Key{"k"})
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
	got[0] = 'y'
	again, _ := m.Get(ctx, kv.Key{"k"})
	if string(again) != "abc" {
		t.Fatalf("returned value aliased store: %q", again)
	}
}

func TestBadger_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, err := kv.NewBadger(kv.BadgerOptions{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, kv.Key{"settings", "default"}, []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b, err = kv.NewBadger(kv.BadgerOptions{Dir: dir, Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	got, err := b.Get(ctx, kv.Key{"settings", "default"})
	if err != nil || string(got) != "v" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}

func TestNewBadger_RequiresDir(t *testing.T) {
	if _, err := kv.NewBadger(kv.BadgerOptions{}); err == nil {
		t.Fatal("NewBadger without Dir succeeded")
	}
}
