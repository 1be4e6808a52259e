package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/fieldops/reportbot/core/logger"
	"github.com/fieldops/reportbot/report"
	"github.com/fieldops/reportbot/session"
)

const component = "engine"

// ErrSessionInvalid reports an operation attempted on a session missing
// required prior state, such as an upload before folder creation. It signals
// a transition-ordering defect, not a user mistake.
var ErrSessionInvalid = errors.New("engine: session invalid")

// Engine drives the report conversation. All user events enter through the
// Handle* methods; a per-user mutex serializes them against each other and
// against timer fires, so state transitions for one user never interleave.
//
// The lock is released around remote I/O (folder create, photo upload, row
// append, cleanup) and the session epoch is revalidated after reacquiring it,
// so a cancel or expiry that lands mid-upload wins and the late result is
// discarded.
type Engine struct {
	flow    *report.Flow
	store   *session.Store
	timers  *session.Timekeeper
	out     Outbound
	storage Storage
	table   Table
	files   Files

	warning time.Duration
	expiry  time.Duration

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

// New wires the engine and registers it as the timekeeper's fire target.
func New(flow *report.Flow, store *session.Store, timers *session.Timekeeper, out Outbound, storage Storage, table Table, files Files, warning, expiry time.Duration) *Engine {
	e := &Engine{
		flow:    flow,
		store:   store,
		timers:  timers,
		out:     out,
		storage: storage,
		table:   table,
		files:   files,
		warning: warning,
		expiry:  expiry,
		locks:   make(map[int64]*sync.Mutex),
	}
	timers.Notify(e.onWarning, e.onExpiry)
	return e
}

// InProgress reports whether the engine currently owns the conversation with
// this user, either through a live session or a packaged report waiting to be
// sent.
func (e *Engine) InProgress(userID int64) bool {
	if _, ok := e.store.Get(userID); ok {
		return true
	}
	_, ok := e.store.CompletedFor(userID)
	return ok
}

// Counts exposes live session and pending report totals for /status.
func (e *Engine) Counts() (live, completed int) {
	return e.store.Counts()
}

func (e *Engine) userMu(userID int64) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[userID] = mu
	}
	return mu
}

func (e *Engine) send(userID int64, msg Message) {
	if err := e.out.Send(userID, msg); err != nil {
		logger.Warn(context.Background(), component, "send_failed",
			slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// onWarning fires from the timekeeper once lastActivity is warning-old.
func (e *Engine) onWarning(userID int64) {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	sess, ok := e.store.Get(userID)
	if !ok {
		return
	}
	logger.Info(context.Background(), component, "session_warning",
		slog.Int64("user_id", userID), slog.String("report_id", sess.ReportID))
	e.send(userID, Message{Text: warningText(sess.ReportID, e.expiry-e.warning)})
}

// onExpiry tears the session down. The timekeeper already drops stale fires
// by generation; the age re-check below closes the remaining window where a
// user event slipped in between the timer firing and this lock being taken.
func (e *Engine) onExpiry(userID int64) {
	ctx := context.Background()
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	sess, ok := e.store.Get(userID)
	if !ok {
		return
	}
	if time.Since(sess.LastActivityAt) < e.expiry-time.Second {
		return
	}
	folderID, _ := e.store.EndSession(userID)
	logger.Info(ctx, component, "session_expired",
		slog.Int64("user_id", userID), slog.String("report_id", sess.ReportID))

	// Notify while still holding the lock so a replacement session started
	// during folder cleanup never sees this notice after its own greeting.
	e.send(userID, Message{Text: expiredText(), RemoveKeyboard: true})

	mu.Unlock()
	if folderID != "" {
		e.cleanupFolder(ctx, folderID)
	}
	mu.Lock()
}

// cleanupFolder deletes folder contents and then the folder itself.
// Best effort: each failure is logged and the rest still runs.
func (e *Engine) cleanupFolder(ctx context.Context, folderID string) {
	children, err := e.storage.ListChildren(ctx, folderID)
	if err != nil {
		logger.Warn(ctx, component, "cleanup_list_failed",
			slog.String("folder_id", folderID), slog.Any("error", err))
	}
	for _, f := range children {
		if err := e.storage.Delete(ctx, f.ID); err != nil {
			logger.Warn(ctx, component, "cleanup_file_failed",
				slog.String("file_id", f.ID), slog.Any("error", err))
		}
	}
	if err := e.storage.Delete(ctx, folderID); err != nil {
		logger.Warn(ctx, component, "cleanup_folder_failed",
			slog.String("folder_id", folderID), slog.Any("error", err))
	}
}

// uploadAttachment fetches the transport file and stores it in the session
// folder. Called with the user lock held; the lock is released for the
// duration of the network calls and the session is revalidated by epoch
// afterwards. A stale epoch means the session ended mid-upload: the uploaded
// file is removed again and the result dropped.
func (e *Engine) uploadAttachment(ctx context.Context, mu *sync.Mutex, userID int64, fileID, category, fileName, description string) (ok bool) {
	sess, found := e.store.Get(userID)
	if !found || sess.FolderID == "" {
		return false
	}
	epoch := sess.Epoch
	folderID := sess.FolderID
	loc := sess.LastLocation
	start := time.Now()

	mu.Unlock()
	content, err := e.files.Fetch(ctx, fileID)
	var remoteID string
	if err == nil {
		remoteID, err = e.storage.Upload(ctx, content, fileName, folderID)
		content.Close()
	}
	mu.Lock()

	if err != nil {
		logger.Warn(ctx, component, "upload_failed",
			slog.Int64("user_id", userID), slog.String("file", fileName), slog.Any("error", err))
		return false
	}

	cur, found := e.store.Get(userID)
	if !found || cur.Epoch != epoch {
		logger.Info(ctx, component, "upload_orphaned",
			slog.Int64("user_id", userID), slog.String("file", fileName))
		mu.Unlock()
		if err := e.storage.Delete(ctx, remoteID); err != nil {
			logger.Warn(ctx, component, "orphan_delete_failed",
				slog.String("file_id", remoteID), slog.Any("error", err))
		}
		mu.Lock()
		return false
	}

	e.store.Update(userID, func(s *session.Session) {
		s.Attachments[category] = append(s.Attachments[category], session.Attachment{
			RemoteID:    remoteID,
			FileName:    fileName,
			Description: description,
			CapturedAt:  time.Now(),
			Location:    loc,
		})
	})
	logger.Info(ctx, component, "photo_stored",
		slog.Int64("user_id", userID), slog.String("file", fileName),
		slog.String("category", category), slog.Duration("took", logger.Took(start)))
	return true
}
