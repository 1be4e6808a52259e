package gsuite

import (
	"context"
	"fmt"
	"io"

	"log/slog"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/fieldops/reportbot/core/logger"
	"github.com/fieldops/reportbot/engine"
)

const folderMIME = "application/vnd.google-apps.folder"

// CreateFolder creates a report folder under the configured parent and makes
// it link-readable so the folder URL in the spreadsheet works for reviewers.
func (c *Client) CreateFolder(ctx context.Context, name string) (string, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: folderMIME,
	}
	if c.parentFolderID != "" {
		meta.Parents = []string{c.parentFolderID}
	}
	created, err := c.drive.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}

	perm := &drive.Permission{Type: "anyone", Role: "reader"}
	if _, err := c.drive.Permissions.Create(created.Id, perm).Context(ctx).Do(); err != nil {
		logger.Warn(ctx, "gsuite", "folder_share_failed",
			slog.String("folder_id", created.Id), slog.Any("error", err))
	}
	return created.Id, nil
}

// Upload streams content into the given folder under the given name.
func (c *Client) Upload(ctx context.Context, content io.Reader, name, folderID string) (string, error) {
	meta := &drive.File{
		Name:    name,
		Parents: []string{folderID},
	}
	created, err := c.drive.Files.Create(meta).
		Media(content, googleapi.ContentType("image/jpeg")).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", name, err)
	}
	return created.Id, nil
}

// Delete removes a file or folder by id. Deleting a folder removes its
// contents as well, but callers delete children first so partial failures
// leave less behind.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.drive.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// ListChildren lists the non-trashed files directly inside a folder.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]engine.RemoteFile, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	var out []engine.RemoteFile
	pageToken := ""
	for {
		call := c.drive.Files.List().Q(query).Fields("nextPageToken, files(id, name)").Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list folder %s: %w", folderID, err)
		}
		for _, f := range page.Files {
			out = append(out, engine.RemoteFile{ID: f.Id, Name: f.Name})
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// FolderLink returns the shareable web URL for a folder id.
func (c *Client) FolderLink(folderID string) string {
	return "https://drive.google.com/drive/folders/" + folderID
}
