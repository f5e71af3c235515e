// Package drive provides a content source for Google Drive folders.
package drive

import (
	"context"
	"fmt"
	"io"
	"time"

	drivev3 "google.golang.org/api/drive/v3"

	"github.com/custodia-labs/mediasync-cli/internal/connectors/google"
	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Ensure Source implements the interface.
var _ driven.ContentSource = (*Source)(nil)

// Type is the source type identifier for this connector.
const Type = "drive"

// Drive MIME types with special handling.
const (
	// MimeTypeFolder marks subfolder entries.
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// MimeTypeShortcut marks shortcut entries pointing at other files.
	MimeTypeShortcut = "application/vnd.google-apps.shortcut"
)

// MaxDownloadSize is the maximum size for downloaded content (20MB).
const MaxDownloadSize = 20 * 1024 * 1024

// listFields are the file attributes fetched during discovery.
const listFields = "nextPageToken, files(id, name, mimeType, modifiedTime, size, shortcutDetails)"

// Source discovers media files in Google Drive folders. Shortcuts are
// resolved to their canonical targets and subfolders are walked when
// configured, with de-duplication by file ID so items reachable through
// multiple paths are discovered once.
type Source struct {
	svc     *drivev3.Service
	cfg     *Config
	limiter *google.RateLimiter
}

// NewSource creates a Drive source over an authenticated service.
func NewSource(svc *drivev3.Service, cfg *Config) *Source {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Source{
		svc:     svc,
		cfg:     cfg,
		limiter: google.NewRateLimiter(google.ServiceDrive),
	}
}

// Type returns the source type identifier.
func (s *Source) Type() string {
	return Type
}

// Capabilities returns what this source supports.
func (s *Source) Capabilities() driven.SourceCapabilities {
	return driven.SourceCapabilities{
		SupportsIncremental:  true,
		SupportsHierarchy:    true,
		RequiresAuth:         true,
		SupportsRateLimiting: true,
	}
}

// Validate checks credentials with a lightweight About call.
func (s *Source) Validate(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return google.WrapError(err)
	}
	return nil
}

// List walks the configured folders and returns candidate items
// modified after the given time.
func (s *Source) List(ctx context.Context, modifiedAfter time.Time) ([]domain.CandidateItem, error) {
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	var items []domain.CandidateItem

	queue := append([]string(nil), s.cfg.FolderIDs...)
	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]
		if visited[folderID] {
			continue
		}
		visited[folderID] = true

		files, err := s.listFolder(ctx, folderID, modifiedAfter)
		if err != nil {
			return nil, err
		}

		for _, file := range files {
			// Shortcuts point at canonical files elsewhere in the Drive
			if file.MimeType == MimeTypeShortcut {
				file, err = s.resolveShortcut(ctx, file)
				if err != nil {
					return nil, err
				}
				if file == nil {
					continue // dangling shortcut
				}
			}

			if file.MimeType == MimeTypeFolder {
				if s.cfg.Recursive {
					queue = append(queue, file.Id)
				}
				continue
			}

			if seen[file.Id] || !s.cfg.Includes(file.MimeType) {
				continue
			}

			item, ok := fileToItem(file)
			if !ok || (!modifiedAfter.IsZero() && !item.ModifiedAt.After(modifiedAfter)) {
				continue
			}

			seen[file.Id] = true
			items = append(items, item)
		}
	}

	return items, nil
}

// listFolder pages through one folder's direct children. Subfolders are
// always returned regardless of the modified-time floor: a stale folder
// can still contain fresh items.
func (s *Source) listFolder(ctx context.Context, folderID string, modifiedAfter time.Time) ([]*drivev3.File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	if !modifiedAfter.IsZero() {
		query += fmt.Sprintf(" and (modifiedTime > '%s' or mimeType = '%s')",
			modifiedAfter.UTC().Format(time.RFC3339), MimeTypeFolder)
	}

	var files []*drivev3.File
	pageToken := ""
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		call := s.svc.Files.List().
			Q(query).
			Fields(listFields).
			PageSize(s.cfg.MaxResults).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			if google.IsRateLimited(err) {
				s.limiter.RecordRateLimitError(google.RetryAfterSeconds(err))
			}
			return nil, google.WrapError(err)
		}

		files = append(files, resp.Files...)
		if resp.NextPageToken == "" {
			return files, nil
		}
		pageToken = resp.NextPageToken
	}
}

// resolveShortcut fetches the shortcut's target file. Dangling
// shortcuts resolve to nil without error.
func (s *Source) resolveShortcut(ctx context.Context, shortcut *drivev3.File) (*drivev3.File, error) {
	if shortcut.ShortcutDetails == nil || shortcut.ShortcutDetails.TargetId == "" {
		return nil, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target, err := s.svc.Files.Get(shortcut.ShortcutDetails.TargetId).
		Fields("id, name, mimeType, modifiedTime, size").
		Context(ctx).
		Do()
	if err != nil {
		if google.IsNotFound(err) {
			return nil, nil
		}
		return nil, google.WrapError(err)
	}
	return target, nil
}

// Download fetches the raw bytes for a file.
func (s *Source) Download(ctx context.Context, itemID string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.svc.Files.Get(itemID).Context(ctx).Download()
	if err != nil {
		if google.IsRateLimited(err) {
			s.limiter.RecordRateLimitError(google.RetryAfterSeconds(err))
		}
		return nil, google.WrapError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("drive: read %s: %w: %w", itemID, domain.ErrTransientProvider, err)
	}
	return data, nil
}

// VersionToken returns empty: this source tracks changes by timestamps.
func (s *Source) VersionToken() string {
	return ""
}

// Watch is not supported for Drive.
func (s *Source) Watch(_ context.Context) (<-chan domain.CandidateItem, error) {
	return nil, fmt.Errorf("drive: watch: %w", domain.ErrUnsupportedType)
}

// Close releases resources.
func (s *Source) Close() error {
	return nil
}

// fileToItem converts a Drive file to a candidate item. Files with an
// unparseable modified time are dropped.
func fileToItem(file *drivev3.File) (domain.CandidateItem, bool) {
	modified, err := time.Parse(time.RFC3339, file.ModifiedTime)
	if err != nil {
		return domain.CandidateItem{}, false
	}

	return domain.CandidateItem{
		ID:         file.Id,
		Name:       file.Name,
		ModifiedAt: modified,
		SizeBytes:  file.Size,
		MIMEType:   file.MimeType,
	}, true
}
