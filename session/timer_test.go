package session

import (
	"sync"
	"testing"
	"time"
)

type fireLog struct {
	mu       sync.Mutex
	warnings []int64
	expiries []int64
}

func (f *fireLog) warn(userID int64) {
	f.mu.Lock()
	f.warnings = append(f.warnings, userID)
	f.mu.Unlock()
}

func (f *fireLog) expire(userID int64) {
	f.mu.Lock()
	f.expiries = append(f.expiries, userID)
	f.mu.Unlock()
}

func (f *fireLog) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.warnings), len(f.expiries)
}

func TestTimekeeperFiresWarningThenExpiry(t *testing.T) {
	fl := &fireLog{}
	tk := NewTimekeeper(30*time.Millisecond, 70*time.Millisecond)
	tk.Notify(fl.warn, fl.expire)

	tk.Reset(7)

	time.Sleep(50 * time.Millisecond)
	if w, e := fl.counts(); w != 1 || e != 0 {
		t.Fatalf("after warning window: %d warnings, %d expiries", w, e)
	}

	time.Sleep(50 * time.Millisecond)
	if w, e := fl.counts(); w != 1 || e != 1 {
		t.Fatalf("after expiry window: %d warnings, %d expiries", w, e)
	}
	if tk.Pending(7) {
		t.Fatalf("handle survived expiry")
	}
}

func TestResetSupersedesPriorSchedule(t *testing.T) {
	fl := &fireLog{}
	tk := NewTimekeeper(40*time.Millisecond, 100*time.Millisecond)
	tk.Notify(fl.warn, fl.expire)

	tk.Reset(7)
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		tk.Reset(7)
	}

	if w, _ := fl.counts(); w != 0 {
		t.Fatalf("warning fired despite resets: %d", w)
	}

	time.Sleep(60 * time.Millisecond)
	if w, _ := fl.counts(); w != 1 {
		t.Fatalf("warning after quiet period = %d, want 1", w)
	}
}

func TestCancelStopsFires(t *testing.T) {
	fl := &fireLog{}
	tk := NewTimekeeper(20*time.Millisecond, 50*time.Millisecond)
	tk.Notify(fl.warn, fl.expire)

	tk.Reset(7)
	tk.Cancel(7)

	time.Sleep(80 * time.Millisecond)
	if w, e := fl.counts(); w != 0 || e != 0 {
		t.Fatalf("fires after cancel: %d warnings, %d expiries", w, e)
	}
	if tk.Pending(7) {
		t.Fatalf("handle survived cancel")
	}
}

func TestStaleFireAfterCancelAndRearm(t *testing.T) {
	fl := &fireLog{}
	tk := NewTimekeeper(time.Hour, 2*time.Hour)
	tk.Notify(fl.warn, fl.expire)

	// A callback from the first schedule may already be running when the user
	// cancels and rearms; its generation must not match the fresh schedule.
	tk.Reset(7)
	stale := tk.handles[7].gen
	tk.Cancel(7)
	tk.Reset(7)

	tk.fire(7, stale, false)
	if _, e := fl.counts(); e != 0 {
		t.Fatalf("stale expiry delivered against new schedule (%d expiries)", e)
	}
	if !tk.Pending(7) {
		t.Fatalf("new schedule destroyed by stale fire")
	}
}

func TestLastActivityTracksReset(t *testing.T) {
	tk := NewTimekeeper(time.Hour, 2*time.Hour)
	if _, ok := tk.LastActivity(7); ok {
		t.Fatalf("activity reported before any reset")
	}
	tk.Reset(7)
	at, ok := tk.LastActivity(7)
	if !ok || time.Since(at) > time.Second {
		t.Fatalf("LastActivity = %v, %v", at, ok)
	}
}
