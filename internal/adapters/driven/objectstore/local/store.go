// Package local implements the ObjectStore port over files on the local
// filesystem selected by glob patterns.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/fsnotify/fsnotify"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
	"github.com/sequra/s3logsbeat/internal/logger"
)

// Ensure Store implements the interfaces.
var (
	_ driven.ObjectStore = (*Store)(nil)
	_ driven.Watcher     = (*Store)(nil)
)

// Store serves files matching glob patterns. The prefix passed to List is
// a pattern; "**" matches any number of directories.
type Store struct {
	patterns []string
}

// New creates a store. patterns are only used by Watch to find the
// directories to observe.
func New(patterns ...string) *Store {
	return &Store{patterns: patterns}
}

// List calls fn for every regular file matching pattern.
func (s *Store) List(ctx context.Context, pattern string, fn func(domain.ObjectRef) error) error {
	matches, err := doublestar.Glob(pattern)
	if err != nil {
		return fmt.Errorf("%w: glob %q: %v", domain.ErrInvalidConfig, pattern, err)
	}
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			// Removed between glob and stat.
			continue
		}
		if !info.Mode().IsRegular() || isHidden(path) {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		ref := domain.ObjectRef{
			Key:          abs,
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

// Open opens the file of ref positioned at offset.
func (s *Store) Open(_ context.Context, ref domain.ObjectRef, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(ref.Key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ref.Key)
		}
		return nil, fmt.Errorf("open %s: %w", ref.Key, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("seek %s: %w", ref.Key, err)
		}
	}
	return f, nil
}

// Watch signals when files are created or written under the directories
// of the store's patterns. Signals are coalesced while unconsumed.
func (s *Store) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	for _, dir := range s.watchDirs() {
		if err := watcher.Add(dir); err != nil {
			logger.Warn("Cannot watch %s: %v", dir, err)
		}
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isHidden(event.Name) {
						_ = watcher.Add(event.Name)
					}
				}
				if !handleFsEvent(event) {
					continue
				}
				select {
				case changes <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Watcher error: %v", err)
			}
		}
	}()

	return changes, nil
}

// handleFsEvent reports whether event may have produced new data.
func handleFsEvent(event fsnotify.Event) bool {
	if isHidden(event.Name) {
		return false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// watchDirs returns the existing directories covered by the patterns.
func (s *Store) watchDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, pattern := range s.patterns {
		base := baseDir(pattern)
		info, err := os.Stat(base)
		if err != nil || !info.IsDir() {
			continue
		}
		if !strings.Contains(pattern, "**") {
			add(base)
			continue
		}
		_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != base && isHidden(path) {
					return filepath.SkipDir
				}
				add(path)
			}
			return nil
		})
	}
	return dirs
}

// baseDir returns the longest leading directory of pattern without glob
// metacharacters.
func baseDir(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	static := parts[:0:0]
	for _, p := range parts[:len(parts)-1] {
		if strings.ContainsAny(p, "*?[{") {
			break
		}
		static = append(static, p)
	}
	dir := strings.Join(static, "/")
	switch {
	case dir == "" && strings.HasPrefix(pattern, "/"):
		return "/"
	case dir == "":
		return "."
	}
	return filepath.FromSlash(dir)
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
