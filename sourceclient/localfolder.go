package sourceclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFolderBackend discovers and fetches files from a directory mounted
// on the ingest host's own filesystem, spec.md section 4.2/6. It has no
// network to break, so it skips the circuit breaker the WebDAV and S3
// backends wrap themselves in.
type LocalFolderBackend struct {
	root       string
	extensions map[string]struct{} // lower-cased, includes leading dot; empty means allow all
}

// NewLocalFolderBackend roots discovery at root, restricting the files
// ListDirectory reports to extensions when non-empty (e.g.
// []string{".pdf", ".tiff"}). Fetch does not check the extension.
func NewLocalFolderBackend(root string, extensions []string) *LocalFolderBackend {
	allow := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		allow[strings.ToLower(ext)] = struct{}{}
	}
	return &LocalFolderBackend{root: root, extensions: allow}
}

// ListDirectory lists the immediate children of path (relative to root),
// filtering files by extension allow-list; directories always pass
// through so discovery can recurse into them.
func (l *LocalFolderBackend) ListDirectory(ctx context.Context, path string) ([]Entry, error) {
	abs := filepath.Join(l.root, path)
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("local readdir %s: %w", abs, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() && !l.allowed(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("local stat %s: %w", filepath.Join(abs, de.Name()), err)
		}
		entries = append(entries, Entry{
			Path:    filepath.ToSlash(filepath.Join(path, de.Name())),
			IsDir:   de.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			ETag:    changeToken(info.ModTime().UnixNano(), info.Size()),
		})
	}
	return entries, nil
}

// Metadata stats a single path, synthesizing an ETag-like change token
// from (mtime, size) since the local filesystem has no native ETag
// concept — the sync engine's smart-equal comparison treats this token
// the same as a server-issued ETag.
func (l *LocalFolderBackend) Metadata(ctx context.Context, path string) (Entry, error) {
	abs := filepath.Join(l.root, path)
	info, err := os.Stat(abs)
	if err != nil {
		return Entry{}, fmt.Errorf("local stat %s: %w", abs, err)
	}
	return Entry{
		Path:    path,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		ETag:    changeToken(info.ModTime().UnixNano(), info.Size()),
	}, nil
}

// Fetch opens path for reading. The caller is responsible for closing it.
func (l *LocalFolderBackend) Fetch(ctx context.Context, path string) (io.ReadCloser, error) {
	abs := filepath.Join(l.root, path)
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("local open %s: %w", abs, err)
	}
	return f, nil
}

func (l *LocalFolderBackend) allowed(name string) bool {
	if len(l.extensions) == 0 {
		return true
	}
	_, ok := l.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func changeToken(modNanos int64, size int64) string {
	return fmt.Sprintf("%x-%x", modNanos, size)
}
