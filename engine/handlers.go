package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/fieldops/reportbot/core/logger"
	"github.com/fieldops/reportbot/report"
	"github.com/fieldops/reportbot/session"
)

const stampLayout = "20060102_150405"

// Begin handles /start: the idle menu, with a resend shortcut when a packaged
// report is still waiting for the spreadsheet.
func (e *Engine) Begin(ctx context.Context, userID int64, firstName string) error {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	if sess, ok := e.store.Get(userID); ok {
		e.timers.Reset(userID)
		e.store.Touch(userID)
		e.resumePrompt(userID, sess)
		return nil
	}
	_, hasPending := e.store.CompletedFor(userID)
	e.send(userID, Message{
		Text:      greetingText(firstName),
		ReplyRows: idleMenuKeyboard(hasPending),
	})
	return nil
}

// resumePrompt re-issues the prompt matching the current state so /start
// during a live session resumes instead of restarting.
func (e *Engine) resumePrompt(userID int64, sess *session.Session) {
	switch sess.State {
	case session.StateSelectingType:
		e.send(userID, Message{Text: categoryPromptText(), ReplyRows: categoryKeyboard(e.flow.Categories)})
	case session.StateEnteringID:
		e.send(userID, Message{Text: idPromptText(sess.Category), ReplyRows: [][]string{cancelRow()}})
	case session.StateEnteringFields:
		e.send(userID, Message{
			Text:      fieldPromptText(e.storage.FolderLink(sess.FolderID), e.flow.RequiredFields),
			ReplyRows: [][]string{cancelRow()},
		})
	case session.StateConfirming:
		e.sendConfirmation(userID, sess)
	case session.StateUploading:
		e.send(userID, Message{Text: photoCategoryText(), Inline: photoCategoryInline(e.flow.PhotoCategories), ReplyRows: uploadKeyboard()})
	case session.StateEnteringPhotoDesc:
		e.send(userID, Message{Text: photoDescAskText(), ReplyRows: [][]string{cancelRow()}})
	}
}

// HandleText processes a plain text message from the user.
func (e *Engine) HandleText(ctx context.Context, userID int64, text string) error {
	text = strings.TrimSpace(text)
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	sess, ok := e.store.Get(userID)
	if !ok {
		return e.idleText(ctx, mu, userID, text)
	}
	e.timers.Reset(userID)
	e.store.Touch(userID)

	if text == btnCancel {
		e.cancel(ctx, mu, userID)
		return nil
	}

	switch sess.State {
	case session.StateSelectingType:
		e.textSelectingType(userID, sess, text)
	case session.StateEnteringID:
		e.textEnteringID(ctx, mu, userID, sess, text)
	case session.StateEnteringFields:
		e.textEnteringFields(userID, text)
	case session.StateConfirming:
		e.textConfirming(ctx, mu, userID, sess, text)
	case session.StateUploading:
		e.textUploading(userID, sess, text)
	case session.StateEnteringPhotoDesc:
		e.textPhotoDesc(ctx, mu, userID, sess, text)
	default:
		logger.Warn(ctx, component, "unknown_state",
			slog.Int64("user_id", userID), slog.String("state", string(sess.State)))
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
	}
	return nil
}

// idleText covers the idle menu buttons. Anything else gets a restart hint.
func (e *Engine) idleText(ctx context.Context, mu *sync.Mutex, userID int64, text string) error {
	switch text {
	case btnNewReport:
		return e.startReport(ctx, mu, userID)
	case btnSendPending:
		e.sendCompleted(ctx, mu, userID)
		return nil
	default:
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return nil
	}
}

// NewReport starts a fresh report, replacing any in-flight one.
func (e *Engine) NewReport(ctx context.Context, userID int64) error {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()
	return e.startReport(ctx, mu, userID)
}

func (e *Engine) startReport(ctx context.Context, mu *sync.Mutex, userID int64) error {
	// Starting over supersedes a pending packaged report.
	e.store.DiscardCompleted(userID)

	if folderID, ok := e.store.EndSession(userID); ok {
		logger.Info(ctx, component, "session_replaced", slog.Int64("user_id", userID))
		if folderID != "" {
			mu.Unlock()
			e.cleanupFolder(ctx, folderID)
			mu.Lock()
		}
	}

	if _, err := e.store.Create(userID); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	logger.Info(ctx, component, "session_started", slog.Int64("user_id", userID))
	e.send(userID, Message{Text: categoryPromptText(), ReplyRows: categoryKeyboard(e.flow.Categories)})
	return nil
}

func (e *Engine) textSelectingType(userID int64, sess *session.Session, text string) {
	if !e.flow.ValidCategory(text) {
		e.send(userID, Message{Text: categoryPromptText(), ReplyRows: categoryKeyboard(e.flow.Categories)})
		return
	}
	e.store.Update(userID, func(s *session.Session) {
		s.Category = text
		s.State = session.StateEnteringID
	})
	e.send(userID, Message{Text: idPromptText(text), ReplyRows: [][]string{cancelRow()}})
}

func (e *Engine) textEnteringID(ctx context.Context, mu *sync.Mutex, userID int64, sess *session.Session, text string) {
	if len(text) < 2 {
		e.send(userID, Message{Text: "⚠️ ID terlalu pendek. Masukkan ID tiket/order yang valid:", ReplyRows: [][]string{cancelRow()}})
		return
	}
	e.store.Update(userID, func(s *session.Session) { s.ReportID = text })

	epoch := sess.Epoch
	folderName := fmt.Sprintf("%s_%s_%s", sess.Category, text, time.Now().Format(stampLayout))

	mu.Unlock()
	folderID, err := e.storage.CreateFolder(ctx, folderName)
	mu.Lock()

	if err != nil {
		logger.Error(ctx, component, "folder_create_failed",
			slog.Int64("user_id", userID), slog.Any("error", err))
		e.send(userID, Message{Text: "⚠️ Gagal membuat folder laporan. Kirim ulang ID untuk mencoba lagi.", ReplyRows: [][]string{cancelRow()}})
		return
	}

	cur, ok := e.store.Get(userID)
	if !ok || cur.Epoch != epoch {
		// Session ended while the folder was being created.
		mu.Unlock()
		e.cleanupFolder(ctx, folderID)
		mu.Lock()
		return
	}

	e.store.Update(userID, func(s *session.Session) {
		s.FolderID = folderID
		s.State = session.StateEnteringFields
	})
	logger.Info(ctx, component, "folder_created",
		slog.Int64("user_id", userID), slog.String("folder", folderName))
	e.send(userID, Message{
		Text:      fieldPromptText(e.storage.FolderLink(folderID), e.flow.RequiredFields),
		ReplyRows: [][]string{cancelRow()},
	})
}

// textEnteringFields merges the submitted block into the session, so a
// resubmission that fills only the previously missing lines also completes.
func (e *Engine) textEnteringFields(userID int64, text string) {
	parsed := report.ParseFieldBlock(text)
	sess, err := e.store.Update(userID, func(s *session.Session) {
		for k, v := range parsed {
			s.Fields[k] = v
		}
	})
	if err != nil {
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return
	}
	missing := report.MissingFields(sess.Fields, e.flow.RequiredFields)
	if len(missing) > 0 {
		e.send(userID, Message{Text: missingFieldsText(missing), ReplyRows: [][]string{cancelRow()}})
		return
	}
	e.store.Update(userID, func(s *session.Session) { s.State = session.StateConfirming })
	e.sendConfirmation(userID, sess)
}

func (e *Engine) sendConfirmation(userID int64, sess *session.Session) {
	e.send(userID, Message{
		Text:      confirmationText(sess, e.flow.RequiredFields),
		ReplyRows: confirmKeyboard(),
	})
}

func (e *Engine) textConfirming(ctx context.Context, mu *sync.Mutex, userID int64, sess *session.Session, text string) {
	switch text {
	case btnSendReport:
		e.packageAndSend(ctx, mu, userID)
	case btnEditData:
		e.store.Update(userID, func(s *session.Session) { s.State = session.StateEnteringFields })
		e.send(userID, Message{
			Text:      editPromptText(e.flow.RequiredFields, sess.Fields),
			ReplyRows: [][]string{cancelRow()},
		})
	case btnUploadPhoto:
		e.store.Update(userID, func(s *session.Session) {
			s.State = session.StateUploading
			s.Mode = session.UploadModeNone
			s.PendingCategory = ""
		})
		e.send(userID, Message{Text: uploadModeText(), ReplyRows: uploadModeKeyboard()})
	case btnDeletePhoto:
		if sess.AttachmentCount() == 0 {
			e.send(userID, Message{Text: "Belum ada foto untuk dihapus.", ReplyRows: confirmKeyboard()})
			return
		}
		e.send(userID, Message{
			Text:   "Pilih foto yang ingin dihapus:",
			Inline: deletePhotoInline(sess, e.flow),
		})
	default:
		e.send(userID, Message{
			Text:      "Pilihan tidak dikenali.\n\n" + confirmationText(sess, e.flow.RequiredFields),
			ReplyRows: confirmKeyboard(),
		})
	}
}

func (e *Engine) textUploading(userID int64, sess *session.Session, text string) {
	switch text {
	case btnModeSingle:
		e.store.Update(userID, func(s *session.Session) { s.Mode = session.UploadModeSingle })
		e.send(userID, Message{Text: photoCategoryText(), Inline: photoCategoryInline(e.flow.PhotoCategories), ReplyRows: uploadKeyboard()})
	case btnModeAuto:
		e.store.Update(userID, func(s *session.Session) { s.Mode = session.UploadModeAuto })
		e.send(userID, Message{Text: photoCategoryText(), Inline: photoCategoryInline(e.flow.PhotoCategories), ReplyRows: uploadKeyboard()})
	case btnFinishUpload:
		updated, _ := e.store.Update(userID, func(s *session.Session) {
			s.State = session.StateConfirming
			s.Mode = session.UploadModeNone
			s.PendingCategory = ""
			s.PendingFileID = ""
		})
		if updated != nil {
			e.sendConfirmation(userID, updated)
		}
	case txtSkipLocation:
		e.store.Update(userID, func(s *session.Session) { s.LastLocation = nil })
		e.send(userID, Message{Text: "Lokasi dilewati. Silakan kirim fotonya.", ReplyRows: uploadKeyboard()})
	default:
		e.send(userID, Message{
			Text:      "Kirim foto, atau gunakan tombol di bawah.",
			ReplyRows: uploadKeyboard(),
		})
	}
}

func (e *Engine) textPhotoDesc(ctx context.Context, mu *sync.Mutex, userID int64, sess *session.Session, text string) {
	stem := report.SanitizeFileStem(text)
	if len(text) < 2 || stem == "" {
		e.send(userID, Message{Text: "⚠️ Nama foto tidak valid. " + photoDescAskText(), ReplyRows: [][]string{cancelRow()}})
		return
	}
	fileID := sess.PendingFileID
	category := sess.PendingCategory
	if fileID == "" || category == "" {
		// Should not happen; recover by going back to the upload prompt.
		e.store.Update(userID, func(s *session.Session) { s.State = session.StateUploading })
		e.send(userID, Message{Text: photoCategoryText(), Inline: photoCategoryInline(e.flow.PhotoCategories), ReplyRows: uploadKeyboard()})
		return
	}
	fileName := fmt.Sprintf("%s_%s.jpg", stem, time.Now().Format(stampLayout))

	ok := e.uploadAttachment(ctx, mu, userID, fileID, category, fileName, text)
	cur, found := e.store.Get(userID)
	if !found {
		return
	}
	e.store.Update(userID, func(s *session.Session) {
		s.State = session.StateUploading
		s.PendingFileID = ""
		s.PendingCategory = ""
	})
	if !ok {
		e.send(userID, Message{Text: "⚠️ Upload foto gagal. Silakan kirim ulang fotonya.", ReplyRows: uploadKeyboard()})
		return
	}
	e.send(userID, Message{Text: photoSavedText(fileName, cur.AttachmentCount()), ReplyRows: uploadKeyboard()})
}

// HandlePhoto processes an inbound photo. Outside the upload state photos are
// rejected with a pointer at the current step.
func (e *Engine) HandlePhoto(ctx context.Context, userID int64, fileID string) error {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	sess, ok := e.store.Get(userID)
	if !ok {
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return nil
	}
	e.timers.Reset(userID)
	e.store.Touch(userID)

	if sess.State != session.StateUploading {
		e.send(userID, Message{Text: "Foto hanya diterima saat sesi upload. Selesaikan langkah saat ini dulu."})
		return nil
	}
	if sess.FolderID == "" {
		logger.Error(ctx, component, "folder_missing",
			slog.Int64("user_id", userID), slog.String("report_id", sess.ReportID))
		e.store.EndSession(userID)
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return fmt.Errorf("photo in state %s without folder: %w", sess.State, ErrSessionInvalid)
	}
	if sess.Mode == session.UploadModeNone {
		e.send(userID, Message{Text: uploadModeText(), ReplyRows: uploadModeKeyboard()})
		return nil
	}
	if sess.PendingCategory == "" {
		e.send(userID, Message{Text: photoCategoryText(), Inline: photoCategoryInline(e.flow.PhotoCategories), ReplyRows: uploadKeyboard()})
		return nil
	}

	switch sess.Mode {
	case session.UploadModeSingle:
		e.store.Update(userID, func(s *session.Session) {
			s.PendingFileID = fileID
			s.State = session.StateEnteringPhotoDesc
		})
		e.send(userID, Message{Text: photoDescAskText(), ReplyRows: [][]string{cancelRow()}})
	case session.UploadModeAuto:
		seq := sess.AttachmentCount() + 1
		fileName := fmt.Sprintf("%s_%d_%s.jpg", e.flow.AutoPrefix, seq, time.Now().Format(stampLayout))
		if !e.uploadAttachment(ctx, mu, userID, fileID, sess.PendingCategory, fileName, "") {
			if _, found := e.store.Get(userID); found {
				e.send(userID, Message{Text: "⚠️ Upload foto gagal. Silakan kirim ulang fotonya.", ReplyRows: uploadKeyboard()})
			}
			return nil
		}
		if cur, found := e.store.Get(userID); found {
			e.send(userID, Message{Text: photoSavedText(fileName, cur.AttachmentCount()), ReplyRows: uploadKeyboard()})
		}
	}
	return nil
}

// HandleLocation records the shared location; subsequent uploads carry it.
func (e *Engine) HandleLocation(ctx context.Context, userID int64, lat, lon float64) error {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	if _, ok := e.store.Get(userID); !ok {
		return nil
	}
	e.timers.Reset(userID)
	e.store.Update(userID, func(s *session.Session) {
		s.LastLocation = &session.Location{Lat: lat, Lon: lon, ReceivedAt: time.Now()}
	})
	e.send(userID, Message{Text: "📍 Lokasi diterima. Silakan kirim fotonya.", ReplyRows: uploadKeyboard()})
	return nil
}

// HandleCallback processes inline button presses (photo category selection
// and attachment deletion).
func (e *Engine) HandleCallback(ctx context.Context, userID int64, key, data string) error {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()

	sess, ok := e.store.Get(userID)
	if !ok {
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return nil
	}
	e.timers.Reset(userID)
	e.store.Touch(userID)

	switch key {
	case cbPhoto:
		e.cbSelectPhotoCategory(userID, sess, data)
	case cbDelPhoto:
		e.cbDeletePhoto(ctx, mu, userID, sess, data)
	default:
		logger.Warn(ctx, component, "unknown_callback",
			slog.Int64("user_id", userID), slog.String("key", key))
	}
	return nil
}

func (e *Engine) cbSelectPhotoCategory(userID int64, sess *session.Session, key string) {
	if sess.State != session.StateUploading || !e.flow.ValidPhotoCategory(key) {
		return
	}
	// Re-selecting before a photo arrives simply retargets the next upload.
	e.store.Update(userID, func(s *session.Session) { s.PendingCategory = key })
	e.send(userID, Message{
		Text:            locationAskText(e.flow.PhotoLabel(key)),
		RequestLocation: true,
	})
}

func (e *Engine) cbDeletePhoto(ctx context.Context, mu *sync.Mutex, userID int64, sess *session.Session, data string) {
	category, idxStr, found := strings.Cut(data, "|")
	if !found {
		return
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return
	}
	list := sess.Attachments[category]
	if idx >= len(list) {
		e.send(userID, Message{Text: "Foto sudah tidak ada."})
		return
	}
	att := list[idx]

	mu.Unlock()
	remoteErr := e.storage.Delete(ctx, att.RemoteID)
	mu.Lock()

	if remoteErr != nil {
		logger.Warn(ctx, component, "photo_delete_failed",
			slog.Int64("user_id", userID), slog.String("file", att.FileName), slog.Any("error", remoteErr))
	}

	updated, err := e.store.Update(userID, func(s *session.Session) {
		cur := s.Attachments[category]
		if idx < len(cur) && cur[idx].RemoteID == att.RemoteID {
			s.Attachments[category] = append(cur[:idx], cur[idx+1:]...)
		}
	})
	if err != nil {
		return
	}
	e.send(userID, Message{
		Text: fmt.Sprintf("🗑️ Foto *%s* dihapus. Total foto: %d", att.FileName, updated.AttachmentCount()),
	})
}

// packageAndSend snapshots the session into a completed report and pushes the
// spreadsheet row. On append failure the completed report and the folder
// survive, so the idle menu offers a retry.
func (e *Engine) packageAndSend(ctx context.Context, mu *sync.Mutex, userID int64) {
	rep, err := e.store.MoveToCompleted(userID, e.flow.AllowEmptyPackage)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoAttachments):
		e.send(userID, Message{
			Text:      "⚠️ Belum ada foto terlampir. Upload minimal satu foto sebelum mengirim laporan.",
			ReplyRows: confirmKeyboard(),
		})
		return
	default:
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return
	}
	e.submitCompleted(ctx, mu, userID, rep)
}

// sendCompleted retries submission of an already-packaged report.
func (e *Engine) sendCompleted(ctx context.Context, mu *sync.Mutex, userID int64) {
	rep, ok := e.store.CompletedFor(userID)
	if !ok {
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return
	}
	e.submitCompleted(ctx, mu, userID, rep)
}

func (e *Engine) submitCompleted(ctx context.Context, mu *sync.Mutex, userID int64, rep *session.CompletedReport) {
	folderLink := e.storage.FolderLink(rep.FolderID)
	row := report.BuildRow(rep.Category, rep.ReportID, rep.PackagedAt, rep.Fields, e.flow.RequiredFields, rep.AttachmentCount(), folderLink)
	start := time.Now()

	mu.Unlock()
	err := e.table.AppendRow(ctx, row)
	mu.Lock()

	if err != nil {
		logger.Error(ctx, component, "row_append_failed",
			slog.Int64("user_id", userID), slog.String("report_id", rep.ReportID), slog.Any("error", err))
		e.send(userID, Message{Text: sendFailedText(), ReplyRows: idleMenuKeyboard(true)})
		return
	}
	e.store.DiscardCompleted(userID)
	logger.Info(ctx, component, "report_sent",
		slog.Int64("user_id", userID), slog.String("report_id", rep.ReportID),
		slog.Int("photos", rep.AttachmentCount()), slog.Duration("took", logger.Took(start)))
	e.send(userID, Message{Text: sentText(folderLink), ReplyRows: idleMenuKeyboard(false), RemoveKeyboard: false})
}

// Cancel aborts the live session and removes its remote folder.
func (e *Engine) Cancel(ctx context.Context, userID int64) error {
	mu := e.userMu(userID)
	mu.Lock()
	defer mu.Unlock()
	e.cancel(ctx, mu, userID)
	return nil
}

func (e *Engine) cancel(ctx context.Context, mu *sync.Mutex, userID int64) {
	folderID, ok := e.store.EndSession(userID)
	if !ok {
		e.send(userID, Message{Text: restartText(), RemoveKeyboard: true})
		return
	}
	logger.Info(ctx, component, "session_cancelled", slog.Int64("user_id", userID))

	mu.Unlock()
	if folderID != "" {
		e.cleanupFolder(ctx, folderID)
	}
	mu.Lock()

	e.send(userID, Message{Text: cancelledText(), ReplyRows: idleMenuKeyboard(false)})
}
