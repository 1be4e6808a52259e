package engine

import (
	"context"
	"io"
)

// RemoteFile is one entry inside a remote storage folder.
type RemoteFile struct {
	ID   string
	Name string
}

// Storage is the narrow slice of the object-storage client the engine needs.
type Storage interface {
	CreateFolder(ctx context.Context, name string) (string, error)
	Upload(ctx context.Context, content io.Reader, name, folderID string) (string, error)
	Delete(ctx context.Context, id string) error
	ListChildren(ctx context.Context, folderID string) ([]RemoteFile, error)
	FolderLink(folderID string) string
}

// Table appends one assembled row to the configured spreadsheet.
type Table interface {
	AppendRow(ctx context.Context, values []interface{}) error
}

// Files fetches the content of a transport file reference (a Telegram photo)
// for re-upload into remote storage.
type Files interface {
	Fetch(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// InlineButton describes one inline keyboard button. Key and Data round-trip
// through the transport and arrive back via HandleCallback.
type InlineButton struct {
	Text string
	Key  string
	Data string
}

// Message is a transport-agnostic outbound prompt.
type Message struct {
	Text string
	// ReplyRows renders a reply keyboard, one row per slice.
	ReplyRows [][]string
	// Inline renders an inline keyboard.
	Inline [][]InlineButton
	// RemoveKeyboard hides any visible reply keyboard.
	RemoveKeyboard bool
	// RequestLocation adds a share-location reply button.
	RequestLocation bool
}

// Outbound delivers prompts to the user. Implementations must be cheap to
// call: the engine may invoke Send while holding a per-user lock, so delivery
// is expected to be enqueued, not performed inline.
type Outbound interface {
	Send(userID int64, msg Message) error
}
