package inflight

import (
	"context"
	"sync"
	"testing"
)

func TestLocal_AcquireRelease(t *testing.T) {
	t.Parallel()

	g := NewLocal()
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "ALERT-1")
	if err != nil || !ok {
		t.Fatalf("first TryAcquire = (%v, %v), want (true, nil)", ok, err)
	}

	if _, ok, _ := g.TryAcquire(ctx, "ALERT-1"); ok {
		t.Fatal("second TryAcquire succeeded while held")
	}
	if _, ok, _ := g.TryAcquire(ctx, "ALERT-2"); !ok {
		t.Fatal("TryAcquire for a different alert failed")
	}

	release()
	release() // second release is a no-op

	if g.Held("ALERT-1") {
		t.Fatal("ALERT-1 still held after release")
	}
	if _, ok, _ := g.TryAcquire(ctx, "ALERT-1"); !ok {
		t.Fatal("TryAcquire after release failed")
	}
}

func TestLocal_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	g := NewLocal()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := g.TryAcquire(context.Background(), "ALERT-X"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	if got := Key("ALERT-7"); got != "warden:investigation:inflight:ALERT-7" {
		t.Errorf("Key = %q", got)
	}
}
