package session

import (
	"sync"
	"time"
)

// handle is the per-user pair of scheduled callbacks plus the generation that
// ties fired timers back to the schedule that armed them.
type handle struct {
	warn         *time.Timer
	expire       *time.Timer
	gen          uint64
	lastActivity time.Time
}

// Timekeeper schedules the warning and expiry callbacks for each live
// session. Both intervals are measured from the most recent Reset; rearming
// cancels the previous schedule entirely, so a fired timer whose generation
// no longer matches is dropped instead of delivered.
type Timekeeper struct {
	mu      sync.Mutex
	handles map[int64]*handle
	gen     uint64

	warning time.Duration
	expiry  time.Duration

	onWarning func(userID int64)
	onExpiry  func(userID int64)
}

// NewTimekeeper constructs a Timekeeper with the given inactivity intervals.
// Callbacks are wired afterwards via Notify to break the construction cycle
// with the engine.
func NewTimekeeper(warning, expiry time.Duration) *Timekeeper {
	return &Timekeeper{
		handles: make(map[int64]*handle),
		warning: warning,
		expiry:  expiry,
	}
}

// Notify sets the callbacks invoked when a schedule fires. Callbacks run on
// the timer goroutine; the engine serializes them against user actions.
func (tk *Timekeeper) Notify(onWarning, onExpiry func(userID int64)) {
	tk.mu.Lock()
	tk.onWarning = onWarning
	tk.onExpiry = onExpiry
	tk.mu.Unlock()
}

// Reset cancels any pending callbacks for the user and rearms both from now.
// Safe to call redundantly: exactly one warning and one expiry remain armed.
func (tk *Timekeeper) Reset(userID int64) {
	tk.mu.Lock()
	h, ok := tk.handles[userID]
	if ok {
		stopHandle(h)
	} else {
		h = &handle{}
		tk.handles[userID] = h
	}
	// Generations are Timekeeper-wide, never reused across Cancel+Reset, so a
	// callback armed for a discarded schedule can never match a later one.
	tk.gen++
	h.gen = tk.gen
	h.lastActivity = time.Now()
	gen := h.gen
	h.warn = time.AfterFunc(tk.warning, func() { tk.fire(userID, gen, true) })
	h.expire = time.AfterFunc(tk.expiry, func() { tk.fire(userID, gen, false) })
	tk.mu.Unlock()
}

// Cancel stops and discards both callbacks; a no-op when none exist.
func (tk *Timekeeper) Cancel(userID int64) {
	tk.mu.Lock()
	if h, ok := tk.handles[userID]; ok {
		stopHandle(h)
		delete(tk.handles, userID)
	}
	tk.mu.Unlock()
}

// LastActivity returns the timestamp of the most recent Reset for the user.
func (tk *Timekeeper) LastActivity(userID int64) (time.Time, bool) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	h, ok := tk.handles[userID]
	if !ok {
		return time.Time{}, false
	}
	return h.lastActivity, true
}

// Pending reports whether a schedule is currently armed for the user.
func (tk *Timekeeper) Pending(userID int64) bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	_, ok := tk.handles[userID]
	return ok
}

func (tk *Timekeeper) fire(userID int64, gen uint64, warning bool) {
	tk.mu.Lock()
	h, ok := tk.handles[userID]
	if !ok || h.gen != gen {
		// Rearmed or cancelled after this timer was scheduled; stale fire.
		tk.mu.Unlock()
		return
	}
	var cb func(int64)
	if warning {
		cb = tk.onWarning
	} else {
		cb = tk.onExpiry
		stopHandle(h)
		delete(tk.handles, userID)
	}
	tk.mu.Unlock()

	if cb != nil {
		cb(userID)
	}
}

func stopHandle(h *handle) {
	if h.warn != nil {
		h.warn.Stop()
	}
	if h.expire != nil {
		h.expire.Stop()
	}
}
