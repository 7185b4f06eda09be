package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRunsOnCaller(t *testing.T) {
	p := New(2)

	ran := false
	if err := p.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
	if p.InUse() != 0 {
		t.Fatalf("InUse after Do = %d, want 0", p.InUse())
	}
}

func TestConcurrencyNeverExceedsSize(t *testing.T) {
	const size = 3
	p := New(size)

	var active, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func() {
				n := atomic.AddInt64(&active, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&active, -1)
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > size {
		t.Fatalf("peak concurrency = %d, exceeds pool size %d", got, size)
	}
}

func TestDoRespectsContext(t *testing.T) {
	p := New(1)

	// Occupy the only slot.
	release := make(chan struct{})
	go p.Do(context.Background(), func() { <-release })
	defer close(release)

	deadline := time.Now().Add(time.Second)
	for p.InUse() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slot never occupied")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ran := false
	err := p.Do(ctx, func() { ran = true })
	if err == nil {
		t.Fatal("Do succeeded with no free slot and an expired context")
	}
	if ran {
		t.Fatal("fn ran despite context expiry")
	}
}

func TestTryDoSkipsWhenFull(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	go p.Do(context.Background(), func() { <-release })

	deadline := time.Now().Add(time.Second)
	for p.InUse() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slot never occupied")
		}
		time.Sleep(time.Millisecond)
	}

	if p.TryDo(func() { t.Error("fn ran with the pool full") }) {
		t.Fatal("TryDo reported success with the pool full")
	}

	close(release)
	deadline = time.Now().Add(time.Second)
	for p.InUse() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slot never released")
		}
		time.Sleep(time.Millisecond)
	}

	ran := false
	if !p.TryDo(func() { ran = true }) {
		t.Fatal("TryDo failed with a free slot")
	}
	if !ran {
		t.Fatal("fn did not run")
	}
}

func TestMinimumSizeIsOne(t *testing.T) {
	p := New(0)
	if err := p.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do on clamped pool: %v", err)
	}
}
