package pending_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/matrix-org/widget-driver/internal/widgetdriver/pending"
)

// fakeClock lets tests control time deterministically, matching the
// injectable-clock pattern spec.md §9 calls for.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) nowFn() time.Time       { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestInsert_RejectsAtCapacity(t *testing.T) {
	r := pending.New(pending.Config{MaxPending: 2})

	if err := r.Insert("a", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Insert("b", "p2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := r.Insert("c", "p3")
	var tooMany *pending.TooManyPending
	if !errors.As(err, &tooMany) {
		t.Fatalf("expected TooManyPending, got %v", err)
	}
	if r.Count() != 2 {
		t.Errorf("expected count to remain 2, got %d", r.Count())
	}
}

func Test129thInsertRejected(t *testing.T) {
	r := pending.New(pending.Config{}) // default MaxPending = 128

	for i := 0; i < 128; i++ {
		if err := r.Insert(fmt.Sprintf("req%d", i), i); err != nil {
			t.Fatalf("insert %d: unexpected error: %v", i, err)
		}
	}

	err := r.Insert("overflow", "x")
	var tooMany *pending.TooManyPending
	if !errors.As(err, &tooMany) {
		t.Fatalf("expected the 129th insert to be rejected, got %v", err)
	}
}

func TestExtract_AfterTimeoutReturnsAbsentAndFiresOnExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var expiredID string
	var expiredPayload any

	r := pending.New(pending.Config{
		Timeout: time.Second,
		Clock:   clock.nowFn,
		OnExpired: func(id string, payload any) {
			expiredID = id
			expiredPayload = payload
		},
	})

	if err := r.Insert("req1", "payload1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	clock.advance(2 * time.Second)

	_, ok := r.Extract("req1")
	if ok {
		t.Fatal("expected Extract to return absent after timeout")
	}
	if expiredID != "req1" || expiredPayload != "payload1" {
		t.Errorf("expected OnExpired to fire for req1/payload1, got %q/%v", expiredID, expiredPayload)
	}
}

func TestExtract_BeforeTimeoutReturnsPayload(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := pending.New(pending.Config{Timeout: time.Minute, Clock: clock.nowFn})

	if err := r.Insert("req1", "payload1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	payload, ok := r.Extract("req1")
	if !ok || payload != "payload1" {
		t.Fatalf("expected payload1, got %v (ok=%v)", payload, ok)
	}
	if r.Count() != 0 {
		t.Errorf("expected entry removed after Extract, count=%d", r.Count())
	}
}

func TestContains_EvictsOnExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := pending.New(pending.Config{Timeout: time.Second, Clock: clock.nowFn})

	if err := r.Insert("req1", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !r.Contains("req1") {
		t.Fatal("expected Contains true before expiry")
	}

	clock.advance(2 * time.Second)
	if r.Contains("req1") {
		t.Fatal("expected Contains false after expiry")
	}
	if r.Count() != 0 {
		t.Errorf("expected eviction on Contains check, count=%d", r.Count())
	}
}

func TestRemoveExpired_ReturnsCountAndSweepsOnly(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := pending.New(pending.Config{Timeout: time.Second, Clock: clock.nowFn})

	r.Insert("old1", nil)
	r.Insert("old2", nil)
	clock.advance(2 * time.Second)
	r.Insert("fresh", nil)

	n := r.RemoveExpired()
	if n != 2 {
		t.Errorf("expected 2 expired entries removed, got %d", n)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 surviving entry, got %d", r.Count())
	}
}

func TestClear_DoesNotInvokeOnExpired(t *testing.T) {
	called := false
	r := pending.New(pending.Config{
		OnExpired: func(string, any) { called = true },
	})
	r.Insert("a", nil)
	r.Clear()

	if r.Count() != 0 {
		t.Errorf("expected Clear to empty the registry, count=%d", r.Count())
	}
	if called {
		t.Error("Clear must not invoke OnExpired")
	}
}
