package persist

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSaver_DebounceCoalesces(t *testing.T) {
	var saves atomic.Int32
	notified := make(chan struct{}, 8)

	s := NewSaver(30*time.Millisecond,
		func() error { saves.Add(1); return nil },
		func() { notified <- struct{}{} },
		nil,
	)

	for i := 0; i < 5; i++ {
		s.Schedule()
	}
	if s.State() != SaverArmed {
		t.Fatalf("state after schedule = %v, want armed", s.State())
	}

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("debounce timer never fired")
	}
	s.SaveNow()

	if got := saves.Load(); got != 1 {
		t.Errorf("saves = %d, want 1 (coalesced)", got)
	}
	if s.State() != SaverIdle {
		t.Errorf("state after save = %v, want idle", s.State())
	}

	// A second window starts a fresh save.
	s.Schedule()
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("second debounce timer never fired")
	}
	s.SaveNow()
	if got := saves.Load(); got != 2 {
		t.Errorf("saves = %d, want 2", got)
	}
}

func TestSaver_FlushCancelsTimer(t *testing.T) {
	var saves atomic.Int32
	var notifies atomic.Int32

	s := NewSaver(50*time.Millisecond,
		func() error { saves.Add(1); return nil },
		func() { notifies.Add(1) },
		nil,
	)

	s.Schedule()
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := saves.Load(); got != 1 {
		t.Fatalf("saves = %d, want 1", got)
	}

	// The cancelled timer must not produce a second save.
	time.Sleep(120 * time.Millisecond)
	s.SaveNow()
	if got := saves.Load(); got != 1 {
		t.Errorf("saves after stale notify = %d, want 1", got)
	}
}

func TestSaver_SaveNowWithoutSchedule(t *testing.T) {
	var saves atomic.Int32
	s := NewSaver(10*time.Millisecond, func() error { saves.Add(1); return nil }, nil, nil)
	s.SaveNow()
	if got := saves.Load(); got != 0 {
		t.Errorf("unscheduled SaveNow ran a save: %d", got)
	}
}
