// Package filesystem provides a content source for local directories.
package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/mediasync-cli/internal/logger"
)

// Ensure Source implements the interface.
var _ driven.ContentSource = (*Source)(nil)

// Type is the source type identifier for this connector.
const Type = "filesystem"

// Source discovers media files under a local root directory.
// Item IDs compose the scope ID with the root-relative path, so they
// stay stable across runs and never collide with another scope that
// happens to contain the same relative path.
type Source struct {
	scopeID    string
	rootPath   string
	mimeFilter map[string]bool
	closed     chan struct{}
}

// New creates a filesystem source for scopeID rooted at rootPath.
// mimeTypes limits discovery to the given MIME types; empty means all
// image types.
func New(scopeID, rootPath string, mimeTypes []string) *Source {
	filter := make(map[string]bool, len(mimeTypes))
	for _, m := range mimeTypes {
		filter[strings.TrimSpace(m)] = true
	}

	return &Source{
		scopeID:    scopeID,
		rootPath:   filepath.Clean(rootPath),
		mimeFilter: filter,
		closed:     make(chan struct{}),
	}
}

// NewFromScope builds a filesystem source from scope configuration.
// Recognised keys: "path" (required), "mime_types" (comma-separated).
func NewFromScope(_ context.Context, scope domain.SyncScope) (driven.ContentSource, error) {
	rootPath := scope.Config["path"]
	if rootPath == "" {
		return nil, fmt.Errorf("filesystem: scope %q has no path configured: %w", scope.ID, domain.ErrConfiguration)
	}

	var mimeTypes []string
	if val := scope.Config["mime_types"]; val != "" {
		mimeTypes = strings.Split(val, ",")
	}

	return New(scope.ID, rootPath, mimeTypes), nil
}

// itemID namespaces a root-relative path with the scope identity.
func (s *Source) itemID(rel string) string {
	return s.scopeID + "/" + rel
}

// relPath recovers the root-relative path from a namespaced item ID.
func (s *Source) relPath(itemID string) (string, error) {
	rel, ok := strings.CutPrefix(itemID, s.scopeID+"/")
	if !ok || rel == "" {
		return "", fmt.Errorf("filesystem: item %q does not belong to scope %q: %w", itemID, s.scopeID, domain.ErrPermanentItem)
	}
	return rel, nil
}

// Type returns the source type identifier.
func (s *Source) Type() string {
	return Type
}

// Capabilities returns what this source supports.
func (s *Source) Capabilities() driven.SourceCapabilities {
	return driven.SourceCapabilities{
		SupportsIncremental: true,
		SupportsWatch:       true,
		SupportsHierarchy:   true,
	}
}

// Validate checks the root path exists and is a readable directory.
func (s *Source) Validate(_ context.Context) error {
	info, err := os.Stat(s.rootPath)
	if err != nil {
		return fmt.Errorf("filesystem: stat %s: %w", s.rootPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filesystem: %s is not a directory", s.rootPath)
	}
	return nil
}

// List walks the root directory and returns candidate items modified
// after the given time. Hidden files and directories are skipped.
func (s *Source) List(_ context.Context, modifiedAfter time.Time) ([]domain.CandidateItem, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	var items []domain.CandidateItem
	err := filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != s.rootPath {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		mimeType := mimeTypeOf(path)
		if !s.includes(mimeType) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !modifiedAfter.IsZero() && !info.ModTime().After(modifiedAfter) {
			return nil
		}

		rel, err := filepath.Rel(s.rootPath, path)
		if err != nil {
			return err
		}

		items = append(items, domain.CandidateItem{
			ID:         s.itemID(filepath.ToSlash(rel)),
			Name:       name,
			ModifiedAt: info.ModTime(),
			SizeBytes:  info.Size(),
			MIMEType:   mimeType,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filesystem: walk %s: %w", s.rootPath, err)
	}

	return items, nil
}

// Download reads the file's bytes. The item ID must stay inside the
// root; anything that escapes it is rejected.
func (s *Source) Download(_ context.Context, itemID string) ([]byte, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	rel, err := s.relPath(itemID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.rootPath, filepath.FromSlash(rel))
	if !strings.HasPrefix(filepath.Clean(path), s.rootPath+string(filepath.Separator)) {
		return nil, fmt.Errorf("filesystem: item %q escapes root: %w", itemID, domain.ErrPermanentItem)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("filesystem: %s: %w", itemID, domain.ErrPermanentItem)
		}
		return nil, fmt.Errorf("filesystem: read %s: %w", itemID, err)
	}
	return data, nil
}

// VersionToken returns empty: this source tracks changes by timestamps.
func (s *Source) VersionToken() string {
	return ""
}

// Watch emits candidate items for files created or modified under the
// root until the context is cancelled.
func (s *Source) Watch(ctx context.Context) (<-chan domain.CandidateItem, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filesystem: create watcher: %w", err)
	}

	// Watch the root and every subdirectory. New directories are added
	// as their create events arrive.
	err = filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != s.rootPath {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("filesystem: watch %s: %w", s.rootPath, err)
	}

	events := make(chan domain.CandidateItem)
	go s.forwardEvents(ctx, watcher, events)

	return events, nil
}

// forwardEvents converts fsnotify events into candidate items.
func (s *Source) forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, events chan<- domain.CandidateItem) {
	defer close(events)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil {
				continue // removed before we could stat it
			}
			if info.IsDir() {
				if event.Has(fsnotify.Create) {
					if err := watcher.Add(event.Name); err != nil {
						logger.Warn("filesystem: watch new directory %s: %v", event.Name, err)
					}
				}
				continue
			}

			mimeType := mimeTypeOf(event.Name)
			if !s.includes(mimeType) || strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}

			rel, err := filepath.Rel(s.rootPath, event.Name)
			if err != nil {
				continue
			}

			item := domain.CandidateItem{
				ID:         s.itemID(filepath.ToSlash(rel)),
				Name:       filepath.Base(event.Name),
				ModifiedAt: info.ModTime(),
				SizeBytes:  info.Size(),
				MIMEType:   mimeType,
			}

			select {
			case events <- item:
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("filesystem: watcher error: %v", err)
		}
	}
}

// Close releases resources. Further calls on the source fail.
func (s *Source) Close() error {
	select {
	case <-s.closed:
		// already closed
	default:
		close(s.closed)
	}
	return nil
}

// checkClosed reports an error once the source has been closed.
func (s *Source) checkClosed() error {
	select {
	case <-s.closed:
		return domain.ErrSourceClosed
	default:
		return nil
	}
}

// includes reports whether the MIME type passes the configured filter.
// With no explicit filter, all image types pass.
func (s *Source) includes(mimeType string) bool {
	if len(s.mimeFilter) > 0 {
		return s.mimeFilter[mimeType]
	}
	return strings.HasPrefix(mimeType, "image/")
}

// mimeTypeOf derives a MIME type from the file extension, without
// parameters like charset.
func mimeTypeOf(path string) string {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return mimeType
}
