package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestForEach(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 16} {
		p := New(workers)
		var n = 1000
		var seen = make([]int32, n)
		if err := p.ForEach(context.Background(), n, func(i int) error {
			atomic.AddInt32(&seen[i], 1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		for i, s := range seen {
			if s != 1 {
				t.Fatalf("%d workers: index %d processed %d times", workers, i, s)
			}
		}
	}
}

func TestForEachEmpty(t *testing.T) {
	var called bool
	if err := New(2).ForEach(context.Background(), 0, func(int) error {
		called = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("f called on an empty range")
	}
}

func TestForEachError(t *testing.T) {
	var errBoom = errors.New("boom")
	err := New(4).ForEach(context.Background(), 100, func(i int) error {
		if i == 42 {
			return errBoom
		}
		return nil
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected %v, got %v", errBoom, err)
	}
}

func TestForEachCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(4).ForEach(ctx, 100, func(int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNilPool(t *testing.T) {
	var p *Pool
	if p.Workers() < 1 {
		t.Fatal("nil pool has no workers")
	}
	var sum int64
	if err := p.ForEach(context.Background(), 10, func(i int) error {
		atomic.AddInt64(&sum, int64(i))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if sum != 45 {
		t.Errorf("expected 45, got %d", sum)
	}
}
