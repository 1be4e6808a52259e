package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldops/reportbot/report"
	"github.com/fieldops/reportbot/session"
)

type sentMsg struct {
	userID int64
	msg    Message
}

type fakeOut struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (f *fakeOut) Send(userID int64, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{userID: userID, msg: msg})
	return nil
}

func (f *fakeOut) contains(sub string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if strings.Contains(s.msg.Text, sub) {
			return true
		}
	}
	return false
}

func (f *fakeOut) indexOf(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sent {
		if strings.Contains(s.msg.Text, sub) {
			return i
		}
	}
	return -1
}

func (f *fakeOut) lastIndexOf(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if strings.Contains(f.sent[i].msg.Text, sub) {
			return i
		}
	}
	return -1
}

func (f *fakeOut) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].msg.Text
}

type remoteEntry struct {
	id, name, parent string
}

type fakeStorage struct {
	mu      sync.Mutex
	next    int
	folders map[string]string
	files   []remoteEntry
	deleted []string

	failCreate bool
	failUpload bool
	failDelete bool

	// When set, Delete signals deleteEntered once and then blocks until
	// deleteBlock is closed. Lets tests hold a cleanup mid-flight.
	deleteEntered chan struct{}
	deleteBlock   chan struct{}
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{folders: make(map[string]string)}
}

func (f *fakeStorage) CreateFolder(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", fmt.Errorf("storage: create refused")
	}
	f.next++
	id := fmt.Sprintf("folder-%d", f.next)
	f.folders[id] = name
	return id, nil
}

func (f *fakeStorage) Upload(_ context.Context, content io.Reader, name, folderID string) (string, error) {
	io.Copy(io.Discard, content)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return "", fmt.Errorf("storage: upload refused")
	}
	f.next++
	id := fmt.Sprintf("file-%d", f.next)
	f.files = append(f.files, remoteEntry{id: id, name: name, parent: folderID})
	return id, nil
}

func (f *fakeStorage) Delete(_ context.Context, id string) error {
	if f.deleteEntered != nil {
		select {
		case f.deleteEntered <- struct{}{}:
		default:
		}
	}
	if f.deleteBlock != nil {
		<-f.deleteBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return fmt.Errorf("storage: delete refused")
	}
	f.deleted = append(f.deleted, id)
	delete(f.folders, id)
	for i, e := range f.files {
		if e.id == id {
			f.files = append(f.files[:i], f.files[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStorage) ListChildren(_ context.Context, folderID string) ([]RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RemoteFile
	for _, e := range f.files {
		if e.parent == folderID {
			out = append(out, RemoteFile{ID: e.id, Name: e.name})
		}
	}
	return out, nil
}

func (f *fakeStorage) FolderLink(folderID string) string {
	return "https://drive.google.com/drive/folders/" + folderID
}

func (f *fakeStorage) fileNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, e := range f.files {
		names = append(names, e.name)
	}
	return names
}

func (f *fakeStorage) fileIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, e := range f.files {
		ids = append(ids, e.id)
	}
	return ids
}

type fakeTable struct {
	mu   sync.Mutex
	rows [][]interface{}
	fail bool
}

func (f *fakeTable) AppendRow(_ context.Context, values []interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("table: append refused")
	}
	f.rows = append(f.rows, values)
	return nil
}

type fakeFiles struct{}

func (fakeFiles) Fetch(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("jpeg-bytes")), nil
}

var testRequired = []string{
	"Customer Name", "Service No", "Segment", "Teknisi 1", "Teknisi 2", "STO", "Valins ID",
}

func testFlow() *report.Flow {
	return &report.Flow{
		Categories:     []string{"Non B2B", "BGES", "Squad"},
		RequiredFields: append([]string(nil), testRequired...),
		PhotoCategories: []report.PhotoCategory{
			{Key: "odp", Label: "📷 Foto ODP"},
			{Key: "odc", Label: "📷 Foto ODC"},
			{Key: "speed_test", Label: "📶 Foto Speed Test"},
		},
		AutoPrefix: "foto",
	}
}

type testRig struct {
	eng     *Engine
	out     *fakeOut
	storage *fakeStorage
	table   *fakeTable
	store   *session.Store
}

func newTestRig(t *testing.T, warning, expiry time.Duration) *testRig {
	t.Helper()
	tk := session.NewTimekeeper(warning, expiry)
	store := session.NewStore(tk)
	out := &fakeOut{}
	storage := newFakeStorage()
	table := &fakeTable{}
	eng := New(testFlow(), store, tk, out, storage, table, fakeFiles{}, warning, expiry)
	return &testRig{eng: eng, out: out, storage: storage, table: table, store: store}
}

func fullFieldBlock() string {
	var b strings.Builder
	for _, name := range testRequired {
		fmt.Fprintf(&b, "%s: v-%s\n", name, strings.ReplaceAll(name, " ", ""))
	}
	return b.String()
}

const userID = int64(42)

// reaches StateConfirming with a created folder and complete field data.
func (r *testRig) reachConfirming(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := r.eng.NewReport(ctx, userID); err != nil {
		t.Fatalf("NewReport: %v", err)
	}
	r.eng.HandleText(ctx, userID, "BGES")
	r.eng.HandleText(ctx, userID, "T-100")
	r.eng.HandleText(ctx, userID, fullFieldBlock())

	sess, ok := r.store.Get(userID)
	if !ok {
		t.Fatalf("no session after field submission")
	}
	if sess.State != session.StateConfirming {
		t.Fatalf("state = %s, want %s", sess.State, session.StateConfirming)
	}
	if sess.FolderID == "" {
		t.Fatalf("folder not assigned")
	}
}

func (r *testRig) uploadAutoPhoto(t *testing.T, category string) {
	t.Helper()
	ctx := context.Background()
	r.eng.HandleText(ctx, userID, btnUploadPhoto)
	r.eng.HandleText(ctx, userID, btnModeAuto)
	r.eng.HandleCallback(ctx, userID, cbPhoto, category)
	r.eng.HandlePhoto(ctx, userID, "tg-file-1")
}

func TestReportFlowEndToEnd(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.uploadAutoPhoto(t, "odp")

	names := rig.storage.fileNames()
	if len(names) != 1 || !strings.HasPrefix(names[0], "foto_1_") || !strings.HasSuffix(names[0], ".jpg") {
		t.Fatalf("uploaded files = %v, want one foto_1_*.jpg", names)
	}

	rig.eng.HandleText(ctx, userID, btnFinishUpload)
	rig.eng.HandleText(ctx, userID, btnSendReport)

	if got := len(rig.table.rows); got != 1 {
		t.Fatalf("rows appended = %d, want 1", got)
	}
	row := rig.table.rows[0]
	if row[0] != "BGES" || row[1] != "T-100" {
		t.Fatalf("row head = %v %v", row[0], row[1])
	}
	if row[len(row)-2] != 1 {
		t.Fatalf("photo count column = %v, want 1", row[len(row)-2])
	}
	link, _ := row[len(row)-1].(string)
	if !strings.HasPrefix(link, "https://drive.google.com/drive/folders/") {
		t.Fatalf("last column = %v, want folder link", row[len(row)-1])
	}

	live, completed := rig.store.Counts()
	if live != 0 || completed != 0 {
		t.Fatalf("store counts after send = %d live %d completed", live, completed)
	}
	if !rig.out.contains("terkirim ke spreadsheet") {
		t.Fatalf("missing success notification")
	}
}

func TestMissingFieldsPrompt(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.eng.NewReport(ctx, userID)
	rig.eng.HandleText(ctx, userID, "Squad")
	rig.eng.HandleText(ctx, userID, "IN-778")

	rig.eng.HandleText(ctx, userID, "Customer Name: Budi\nService No: 123456\nSTO: BKS")
	last := rig.out.last()
	for _, name := range []string{"Segment", "Teknisi 1", "Teknisi 2", "Valins ID"} {
		if !strings.Contains(last, name) {
			t.Fatalf("missing-field prompt lacks %q:\n%s", name, last)
		}
	}
	if strings.Contains(last, "Customer Name") {
		t.Fatalf("filled field listed as missing:\n%s", last)
	}

	// Resubmitting only the remaining lines completes the block.
	rig.eng.HandleText(ctx, userID, "Segment: DGS\nTeknisi 1: Andi\nTeknisi 2: Rudi\nValins ID: VL-1")
	sess, _ := rig.store.Get(userID)
	if sess.State != session.StateConfirming {
		t.Fatalf("state = %s, want confirming", sess.State)
	}
	if !strings.Contains(rig.out.last(), "Ringkasan") {
		t.Fatalf("confirmation summary not sent")
	}
}

func TestPackageRequiresAttachment(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.eng.HandleText(ctx, userID, btnSendReport)

	if len(rig.table.rows) != 0 {
		t.Fatalf("row appended despite zero attachments")
	}
	if _, ok := rig.store.Get(userID); !ok {
		t.Fatalf("session ended on rejected packaging")
	}
	if !rig.out.contains("Belum ada foto") {
		t.Fatalf("missing zero-attachment rejection message")
	}
}

func TestCancelCleansFolder(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.uploadAutoPhoto(t, "odc")
	sess, _ := rig.store.Get(userID)
	folderID := sess.FolderID

	rig.eng.HandleText(ctx, userID, btnCancel)

	if _, ok := rig.store.Get(userID); ok {
		t.Fatalf("session survived cancel")
	}
	if _, ok := rig.storage.folders[folderID]; ok {
		t.Fatalf("folder survived cancel")
	}
	if len(rig.storage.fileNames()) != 0 {
		t.Fatalf("folder contents survived cancel: %v", rig.storage.fileNames())
	}
	if !rig.out.contains("dibatalkan") {
		t.Fatalf("missing cancel confirmation")
	}
}

func TestCancelSurvivesDeleteFailure(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.storage.failDelete = true
	rig.eng.HandleText(ctx, userID, btnCancel)

	if _, ok := rig.store.Get(userID); ok {
		t.Fatalf("session survived cancel on storage failure")
	}
	if !rig.out.contains("dibatalkan") {
		t.Fatalf("cancel confirmation suppressed by storage failure")
	}
}

func TestNewReportReplacesSession(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	first, _ := rig.store.Get(userID)
	firstFolder := first.FolderID

	rig.eng.NewReport(ctx, userID)

	live, _ := rig.store.Counts()
	if live != 1 {
		t.Fatalf("live sessions = %d, want 1", live)
	}
	sess, _ := rig.store.Get(userID)
	if sess.State != session.StateSelectingType {
		t.Fatalf("replacement state = %s", sess.State)
	}
	if sess.Epoch == first.Epoch {
		t.Fatalf("replacement reused epoch %d", sess.Epoch)
	}
	if _, ok := rig.storage.folders[firstFolder]; ok {
		t.Fatalf("old folder survived replacement")
	}
}

func TestSendFailureKeepsPending(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.uploadAutoPhoto(t, "odp")
	rig.eng.HandleText(ctx, userID, btnFinishUpload)
	sess, _ := rig.store.Get(userID)
	folderID := sess.FolderID

	rig.table.fail = true
	rig.eng.HandleText(ctx, userID, btnSendReport)

	if _, ok := rig.store.CompletedFor(userID); !ok {
		t.Fatalf("completed report lost on append failure")
	}
	if _, ok := rig.storage.folders[folderID]; !ok {
		t.Fatalf("folder deleted on append failure")
	}
	if !rig.out.contains("tetap tersimpan") {
		t.Fatalf("missing retry guidance")
	}

	// Retry from the idle menu succeeds once the backend recovers.
	rig.table.fail = false
	rig.eng.HandleText(ctx, userID, btnSendPending)

	if len(rig.table.rows) != 1 {
		t.Fatalf("retry did not append a row")
	}
	if _, ok := rig.store.CompletedFor(userID); ok {
		t.Fatalf("completed report not cleared after retry")
	}
}

func TestSinglePhotoModeNamesFile(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.eng.HandleText(ctx, userID, btnUploadPhoto)
	rig.eng.HandleText(ctx, userID, btnModeSingle)
	rig.eng.HandleCallback(ctx, userID, cbPhoto, "speed_test")
	rig.eng.HandlePhoto(ctx, userID, "tg-file-9")

	sess, _ := rig.store.Get(userID)
	if sess.State != session.StateEnteringPhotoDesc {
		t.Fatalf("state after held photo = %s", sess.State)
	}

	rig.eng.HandleText(ctx, userID, "Speed Test 100 Mbps!")

	names := rig.storage.fileNames()
	if len(names) != 1 {
		t.Fatalf("uploaded files = %v", names)
	}
	if !strings.HasPrefix(names[0], "Speed_Test_100_Mbps_") || !strings.HasSuffix(names[0], ".jpg") {
		t.Fatalf("file name = %q, want sanitized label stem", names[0])
	}

	sess, _ = rig.store.Get(userID)
	if sess.State != session.StateUploading {
		t.Fatalf("state after description = %s", sess.State)
	}
	atts := sess.Attachments["speed_test"]
	if len(atts) != 1 || atts[0].Description != "Speed Test 100 Mbps!" {
		t.Fatalf("attachment record = %+v", atts)
	}
	if sess.PendingFileID != "" || sess.PendingCategory != "" {
		t.Fatalf("pending upload state not cleared")
	}
}

func TestLocationTagsUploads(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.eng.HandleText(ctx, userID, btnUploadPhoto)
	rig.eng.HandleText(ctx, userID, btnModeAuto)
	rig.eng.HandleCallback(ctx, userID, cbPhoto, "odp")
	rig.eng.HandleLocation(ctx, userID, -6.2, 106.8)
	rig.eng.HandlePhoto(ctx, userID, "tg-file-3")

	sess, _ := rig.store.Get(userID)
	atts := sess.Attachments["odp"]
	if len(atts) != 1 || atts[0].Location == nil {
		t.Fatalf("attachment location = %+v", atts)
	}
	if atts[0].Location.Lat != -6.2 || atts[0].Location.Lon != 106.8 {
		t.Fatalf("location coords = %+v", atts[0].Location)
	}
}

func TestDeletePhotoCallback(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.uploadAutoPhoto(t, "odp")
	rig.eng.HandleText(ctx, userID, btnFinishUpload)

	rig.eng.HandleCallback(ctx, userID, cbDelPhoto, "odp|0")

	sess, _ := rig.store.Get(userID)
	if sess.AttachmentCount() != 0 {
		t.Fatalf("attachment survived deletion")
	}
	if len(rig.storage.fileNames()) != 0 {
		t.Fatalf("remote file survived deletion: %v", rig.storage.fileNames())
	}
}

func TestDeletePhotoRemovesExactRemoteFile(t *testing.T) {
	rig := newTestRig(t, time.Hour, 2*time.Hour)
	ctx := context.Background()

	rig.reachConfirming(t)
	rig.eng.HandleText(ctx, userID, btnUploadPhoto)
	rig.eng.HandleText(ctx, userID, btnModeSingle)

	// Same label twice can yield identical remote names within one second, so
	// deletion must go by the stored remote id, not a name lookup.
	rig.eng.HandleCallback(ctx, userID, cbPhoto, "odp")
	rig.eng.HandlePhoto(ctx, userID, "tg-file-1")
	rig.eng.HandleText(ctx, userID, "ODP depan rumah")
	rig.eng.HandleCallback(ctx, userID, cbPhoto, "odp")
	rig.eng.HandlePhoto(ctx, userID, "tg-file-2")
	rig.eng.HandleText(ctx, userID, "ODP depan rumah")

	sess, _ := rig.store.Get(userID)
	atts := sess.Attachments["odp"]
	if len(atts) != 2 || atts[0].RemoteID == "" || atts[0].RemoteID == atts[1].RemoteID {
		t.Fatalf("attachment remote ids = %+v", atts)
	}
	keep := atts[1].RemoteID

	rig.eng.HandleCallback(ctx, userID, cbDelPhoto, "odp|0")

	sess, _ = rig.store.Get(userID)
	if got := sess.Attachments["odp"]; len(got) != 1 || got[0].RemoteID != keep {
		t.Fatalf("attachments after delete = %+v, want only %s", got, keep)
	}
	if ids := rig.storage.fileIDs(); len(ids) != 1 || ids[0] != keep {
		t.Fatalf("remote files after delete = %v, want [%s]", ids, keep)
	}
}

func TestInactivityWarningAndExpiry(t *testing.T) {
	rig := newTestRig(t, 40*time.Millisecond, 100*time.Millisecond)

	rig.reachConfirming(t)
	sess, _ := rig.store.Get(userID)
	folderID := sess.FolderID

	time.Sleep(65 * time.Millisecond)
	if !rig.out.contains("tidak aktif") {
		t.Fatalf("warning not delivered")
	}
	if _, ok := rig.store.Get(userID); !ok {
		t.Fatalf("session ended at warning stage")
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := rig.store.Get(userID); ok {
		t.Fatalf("session survived expiry")
	}
	if _, ok := rig.storage.folders[folderID]; ok {
		t.Fatalf("folder survived expiry")
	}
	if !rig.out.contains("Sesi laporan berakhir") {
		t.Fatalf("expiry notice not delivered")
	}
}

func TestExpiryNoticePrecedesReplacementSession(t *testing.T) {
	rig := newTestRig(t, 20*time.Millisecond, 50*time.Millisecond)
	ctx := context.Background()
	rig.storage.deleteEntered = make(chan struct{}, 1)
	rig.storage.deleteBlock = make(chan struct{})

	rig.reachConfirming(t)

	// Wait for the expiry to reach folder cleanup and hold it there.
	select {
	case <-rig.storage.deleteEntered:
	case <-time.After(time.Second):
		t.Fatalf("expiry cleanup never started")
	}

	// A new report started during the cleanup window must come after the
	// expiry notice, not before it.
	rig.eng.NewReport(ctx, userID)
	close(rig.storage.deleteBlock)

	// The prompt also appears once at the start of the initial session, so
	// the replacement session's prompt is the last occurrence.
	expired := rig.out.indexOf("Sesi laporan berakhir")
	fresh := rig.out.lastIndexOf("Silakan pilih jenis laporan")
	if expired == -1 || fresh == -1 {
		t.Fatalf("expiry notice at %d, new report prompt at %d", expired, fresh)
	}
	if expired > fresh {
		t.Fatalf("expiry notice delivered after replacement session began")
	}
}

func TestActivityResetsTimers(t *testing.T) {
	rig := newTestRig(t, 60*time.Millisecond, 150*time.Millisecond)
	ctx := context.Background()

	rig.eng.NewReport(ctx, userID)
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		rig.eng.HandleText(ctx, userID, "BGES")
	}

	if rig.out.contains("tidak aktif") {
		t.Fatalf("warning fired despite continuous activity")
	}
	if _, ok := rig.store.Get(userID); !ok {
		t.Fatalf("session lost despite continuous activity")
	}
}
