package middleware

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestLimiter(limit int, window time.Duration) (*SlidingWindowLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewSlidingWindowLimiter(limit, window)
	l.now = clock.Now
	return l, clock
}

func TestNewSlidingWindowLimiter_Defaults(t *testing.T) {
	l := NewSlidingWindowLimiter(0, 0)
	if l.DefaultLimit() != DefaultLimit {
		t.Errorf("Expected default limit %d, got %d", DefaultLimit, l.DefaultLimit())
	}
	if l.Window() != DefaultWindow {
		t.Errorf("Expected default window %v, got %v", DefaultWindow, l.Window())
	}
}

func TestAdmit_RemainingCountsDown(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for want := 3; want > 0; want-- {
		d := l.Admit("1.2.3.4")
		if !d.Allowed {
			t.Fatalf("Expected request to be allowed with %d remaining", want)
		}
		if d.Remaining != want {
			t.Errorf("Expected remaining %d, got %d", want, d.Remaining)
		}
		if d.Limit != 3 {
			t.Errorf("Expected limit 3, got %d", d.Limit)
		}
		l.Record("1.2.3.4")
	}
}

func TestAdmit_RejectsAfterLimit(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		if !l.Admit("client").Allowed {
			t.Fatalf("Request %d should be allowed", i+1)
		}
		l.Record("client")
		clock.Advance(time.Second)
	}

	d := l.Admit("client")
	if d.Allowed {
		t.Fatal("Expected request L+1 to be rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("Expected remaining 0 on rejection, got %d", d.Remaining)
	}
}

func TestAdmit_RecoversAfterWindow(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	l.Record("client")
	clock.Advance(10 * time.Second)
	l.Record("client")

	if l.Admit("client").Allowed {
		t.Fatal("Expected rejection while both requests are in the window")
	}

	// The first request leaves the window exactly W after it was made
	clock.Advance(50 * time.Second)
	d := l.Admit("client")
	if !d.Allowed {
		t.Fatal("Expected admission once the oldest request aged out")
	}
	if d.Remaining != 1 {
		t.Errorf("Expected remaining 1, got %d", d.Remaining)
	}

	clock.Advance(time.Minute)
	if d := l.Admit("client"); d.Remaining != 2 {
		t.Errorf("Expected a full window after W, got remaining %d", d.Remaining)
	}
}

func TestAdmit_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	l.Record("a")

	if l.Admit("a").Allowed {
		t.Error("Expected client a to be limited")
	}
	if !l.Admit("b").Allowed {
		t.Error("Expected client b to be unaffected")
	}
}

func TestAdmit_DoesNotRecord(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	for i := 0; i < 10; i++ {
		if !l.Admit("client").Allowed {
			t.Fatal("Admit alone must not consume the window")
		}
	}
}

func TestAdmit_FailsOpen(t *testing.T) {
	l := NewSlidingWindowLimiter(1, time.Minute)
	l.now = func() time.Time { panic("clock unavailable") }

	d := l.Admit("client")
	if !d.Allowed || !d.FailOpen {
		t.Errorf("Expected fail-open admission, got %+v", d)
	}

	// Record must swallow the same fault
	l.Record("client")

	// The mutex must have been released by the panicking call
	l.now = time.Now
	if !l.Admit("client").Allowed {
		t.Error("Expected limiter to keep working after a fault")
	}
}

func TestSetLimitAndReset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	if err := l.SetLimit("vip", 3); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if l.Limit("vip") != 3 {
		t.Errorf("Expected override 3, got %d", l.Limit("vip"))
	}

	l.Record("vip")
	l.Record("vip")
	if !l.Admit("vip").Allowed {
		t.Error("Expected override to allow a third request")
	}

	l.ResetLimit("vip")
	if l.Limit("vip") != 1 {
		t.Errorf("Expected default limit after reset, got %d", l.Limit("vip"))
	}
	if l.Admit("vip").Allowed {
		t.Error("Expected rejection once the override is removed")
	}

	if err := l.SetLimit("vip", -1); err == nil {
		t.Error("Expected an error for a negative limit")
	}
}

func TestSetLimitZeroBlocks(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)
	l.SetLimit("banned", 0)

	if l.Admit("banned").Allowed {
		t.Error("Expected limit 0 to reject every request")
	}
}

func TestRetryAfter(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	if got := l.RetryAfter("client"); got != 0 {
		t.Errorf("Expected no wait for an empty window, got %v", got)
	}

	l.Record("client")
	clock.Advance(15 * time.Second)

	if got := l.RetryAfter("client"); got != 45*time.Second {
		t.Errorf("Expected 45s, got %v", got)
	}
}

func TestSweep(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)
	for i := 0; i < 4; i++ {
		l.Record(fmt.Sprintf("client-%d", i))
	}
	clock.Advance(30 * time.Second)
	l.Record("client-0")

	clock.Advance(31 * time.Second)
	if removed := l.Sweep(); removed != 3 {
		t.Errorf("Expected 3 idle clients removed, got %d", removed)
	}
	if l.Clients() != 1 {
		t.Errorf("Expected 1 active client, got %d", l.Clients())
	}
}

func TestConcurrentAdmitAndRecord(t *testing.T) {
	l := NewSlidingWindowLimiter(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if l.Admit("shared").Allowed {
					l.Record("shared")
				}
			}
		}()
	}
	wg.Wait()

	if d := l.Admit("shared"); d.Remaining != 500 {
		t.Errorf("Expected 500 remaining after 500 requests, got %d", d.Remaining)
	}
}

func TestReserve_CountsImmediately(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	first, _ := l.Reserve("client")
	if !first.Allowed || first.Remaining != 2 {
		t.Fatalf("Expected first reservation with 2 remaining, got %+v", first)
	}
	second, _ := l.Reserve("client")
	if !second.Allowed || second.Remaining != 1 {
		t.Fatalf("Expected second reservation with 1 remaining, got %+v", second)
	}
	if third, _ := l.Reserve("client"); third.Allowed {
		t.Errorf("Expected third reservation to be rejected, got %+v", third)
	}
}

func TestReserve_ReleaseReturnsSlot(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	d, release := l.Reserve("client")
	if !d.Allowed {
		t.Fatal("Expected the first reservation to be allowed")
	}
	if l.Admit("client").Allowed {
		t.Fatal("Expected the reserved slot to be taken")
	}

	release()
	release() // second call is a no-op
	if !l.Admit("client").Allowed {
		t.Error("Expected the slot back after release")
	}
	if l.Clients() != 0 {
		t.Errorf("Expected an empty window to be forgotten, got %d clients", l.Clients())
	}
}

func TestReserve_RejectedReleaseIsNoop(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	l.Record("client")

	d, release := l.Reserve("client")
	if d.Allowed {
		t.Fatal("Expected rejection")
	}
	release()
	if l.Admit("client").Allowed {
		t.Error("Releasing a rejected reservation must not free the recorded request")
	}
}

func TestReserve_ConcurrentNeverOverruns(t *testing.T) {
	l := NewSlidingWindowLimiter(50, time.Minute)

	var admitted sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 20; i++ {
		admitted.Add(1)
		go func() {
			defer admitted.Done()
			for j := 0; j < 10; j++ {
				if d, _ := l.Reserve("shared"); d.Allowed {
					mu.Lock()
					count++
					mu.Unlock()
				}
			}
		}()
	}
	admitted.Wait()

	if count != 50 {
		t.Errorf("Expected exactly 50 reservations, got %d", count)
	}
}
