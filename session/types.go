// Package session owns the live report sessions, the completed-report holder,
// and the per-user inactivity schedule. It is deliberately transport-agnostic:
// the conversation engine drives it, timers call back into the engine.
package session

import (
	"errors"
	"time"
)

// State identifies a step of the report-authoring conversation.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
	// StateSelectingType waits for a report category choice.
	StateSelectingType State = "selecting_type"
	// StateEnteringID waits for the ticket/report identifier.
	StateEnteringID State = "entering_id"
	// StateEnteringFields waits for the bulk key:value field block.
	StateEnteringFields State = "entering_fields"
	// StateConfirming shows the package summary and waits for a decision.
	StateConfirming State = "confirming"
	// StateUploading accepts photos and upload-mode/category selections.
	StateUploading State = "uploading"
	// StateEnteringPhotoDesc waits for the label of a held photo.
	StateEnteringPhotoDesc State = "entering_photo_desc"
)

// UploadMode selects how inbound photos are named during an upload session.
type UploadMode string

const (
	// UploadModeNone means no mode has been chosen yet.
	UploadModeNone UploadMode = ""
	// UploadModeSingle holds each photo until the user supplies a label.
	UploadModeSingle UploadMode = "single"
	// UploadModeAuto uploads immediately with generated sequential names.
	UploadModeAuto UploadMode = "auto"
)

// Location is a geolocation snapshot attached to subsequent uploads.
type Location struct {
	Lat        float64
	Lon        float64
	ReceivedAt time.Time
}

// Attachment is one uploaded file within a category. RemoteID is the storage
// backend's id for the uploaded copy, used to delete it without a name scan.
type Attachment struct {
	RemoteID    string
	FileName    string
	Description string
	CapturedAt  time.Time
	Location    *Location
}

// Session is the live, mutable report being authored by one user.
type Session struct {
	UserID int64
	State  State

	Category string
	ReportID string
	Fields   map[string]string

	FolderID string

	// Attachments maps category key to the ordered uploads for that category.
	Attachments map[string][]Attachment

	PendingCategory string
	PendingFileID   string
	Mode            UploadMode
	LastLocation    *Location

	CreatedAt      time.Time
	LastActivityAt time.Time

	// Epoch distinguishes this session instance from any later one for the
	// same user. Callers that release the per-user lock around remote I/O
	// revalidate against it before applying results.
	Epoch uint64
}

// AttachmentCount returns the total number of uploads across all categories.
func (s *Session) AttachmentCount() int {
	n := 0
	for _, list := range s.Attachments {
		n += len(list)
	}
	return n
}

// CompletedReport is the immutable snapshot of a packaged session, pending
// final submission to the spreadsheet.
type CompletedReport struct {
	UserID      int64
	Category    string
	ReportID    string
	Fields      map[string]string
	FolderID    string
	Attachments map[string][]Attachment
	PackagedAt  time.Time
}

// AttachmentCount returns the total number of uploads across all categories.
func (r *CompletedReport) AttachmentCount() int {
	n := 0
	for _, list := range r.Attachments {
		n += len(list)
	}
	return n
}

var (
	// ErrAlreadyExists is returned when creating a session over a live one.
	ErrAlreadyExists = errors.New("session: already exists")
	// ErrNotFound is returned when the referenced session does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrNoAttachments rejects packaging a report without uploads.
	ErrNoAttachments = errors.New("session: no attachments")
)
