package session

import (
	"sync"
	"time"
)

// TimerControl is the slice of the Timekeeper the store drives as a side
// effect of session lifecycle changes.
type TimerControl interface {
	Reset(userID int64)
	Cancel(userID int64)
}

// Store keeps all live sessions and completed reports in memory. It is safe
// for concurrent use across users; per-user serialization of conversation
// handlers is the engine's job, not the store's.
type Store struct {
	mu        sync.RWMutex
	sessions  map[int64]*Session
	completed map[int64]*CompletedReport
	timers    TimerControl
	epoch     uint64
}

// NewStore constructs an empty Store. timers may be nil in tests.
func NewStore(timers TimerControl) *Store {
	return &Store{
		sessions:  make(map[int64]*Session),
		completed: make(map[int64]*CompletedReport),
		timers:    timers,
	}
}

// Create installs a fresh session for the user and starts its inactivity
// timer. It fails with ErrAlreadyExists when a live session is present.
func (st *Store) Create(userID int64) (*Session, error) {
	st.mu.Lock()
	if _, ok := st.sessions[userID]; ok {
		st.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	now := time.Now()
	st.epoch++
	sess := &Session{
		UserID:         userID,
		State:          StateSelectingType,
		Fields:         make(map[string]string),
		Attachments:    make(map[string][]Attachment),
		CreatedAt:      now,
		LastActivityAt: now,
		Epoch:          st.epoch,
	}
	st.sessions[userID] = sess
	st.mu.Unlock()

	if st.timers != nil {
		st.timers.Reset(userID)
	}
	return sess, nil
}

// Get returns the live session for the user if one exists. The returned
// pointer is shared; callers mutate it only while holding the engine's
// per-user lock, or through Update.
func (st *Store) Get(userID int64) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[userID]
	return sess, ok
}

// Update applies fn to the live session and stamps LastActivityAt. Timer
// rearming is left to the caller: only user-originated activity resets the
// inactivity schedule, and the engine knows which call sites those are.
func (st *Store) Update(userID int64, fn func(*Session)) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if fn != nil {
		fn(sess)
	}
	sess.LastActivityAt = time.Now()
	return sess, nil
}

// Touch stamps LastActivityAt without other mutation.
func (st *Store) Touch(userID int64) {
	st.mu.Lock()
	if sess, ok := st.sessions[userID]; ok {
		sess.LastActivityAt = time.Now()
	}
	st.mu.Unlock()
}

// MoveToCompleted atomically snapshots the live session into a completed
// report, deletes the session, and cancels its timer. Packaging with zero
// attachments is rejected with ErrNoAttachments unless allowEmpty is set.
func (st *Store) MoveToCompleted(userID int64, allowEmpty bool) (*CompletedReport, error) {
	st.mu.Lock()
	sess, ok := st.sessions[userID]
	if !ok {
		st.mu.Unlock()
		return nil, ErrNotFound
	}
	if !allowEmpty && sess.AttachmentCount() == 0 {
		st.mu.Unlock()
		return nil, ErrNoAttachments
	}

	report := &CompletedReport{
		UserID:      userID,
		Category:    sess.Category,
		ReportID:    sess.ReportID,
		Fields:      copyFields(sess.Fields),
		FolderID:    sess.FolderID,
		Attachments: copyAttachments(sess.Attachments),
		PackagedAt:  time.Now(),
	}
	st.completed[userID] = report
	delete(st.sessions, userID)
	st.mu.Unlock()

	if st.timers != nil {
		st.timers.Cancel(userID)
	}
	return report, nil
}

// CompletedFor returns the packaged report awaiting submission, if any.
func (st *Store) CompletedFor(userID int64) (*CompletedReport, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	report, ok := st.completed[userID]
	return report, ok
}

// DiscardCompleted deletes the completed report for the user. It is an
// idempotent no-op when none exists.
func (st *Store) DiscardCompleted(userID int64) {
	st.mu.Lock()
	delete(st.completed, userID)
	st.mu.Unlock()
}

// EndSession deletes the live session (if any) and cancels its timer. It
// returns the remote folder id so the caller can schedule cleanup, and false
// when no session existed.
func (st *Store) EndSession(userID int64) (folderID string, ok bool) {
	st.mu.Lock()
	sess, found := st.sessions[userID]
	if found {
		folderID = sess.FolderID
		delete(st.sessions, userID)
	}
	st.mu.Unlock()

	if found && st.timers != nil {
		st.timers.Cancel(userID)
	}
	return folderID, found
}

// Counts reports the number of live sessions and completed reports.
func (st *Store) Counts() (live, completed int) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions), len(st.completed)
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyAttachments(in map[string][]Attachment) map[string][]Attachment {
	out := make(map[string][]Attachment, len(in))
	for k, list := range in {
		out[k] = append([]Attachment(nil), list...)
	}
	return out
}
