package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"campusbot/internal/port"
)

// Invalidator drops cached search results after the store changes.
type Invalidator interface {
	Invalidate()
}

// Library keeps the vector store in step with the documents directory.
type Library struct {
	store     port.DocumentStore
	extractor port.Extractor
	walker    port.FileWalker
	cache     Invalidator
	logger    *zap.Logger
}

// NewLibrary creates a new library use case. cache may be nil.
func NewLibrary(
	store port.DocumentStore,
	extractor port.Extractor,
	walker port.FileWalker,
	cache Invalidator,
	logger *zap.Logger,
) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		store:     store,
		extractor: extractor,
		walker:    walker,
		cache:     cache,
		logger:    logger.Named("library"),
	}
}

// DocID is the store key for a file: its cleaned absolute path.
func DocID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// AddFile extracts and indexes a file, replacing any earlier version.
// It reports false when the file yielded no text.
func (l *Library) AddFile(ctx context.Context, path string) (bool, error) {
	id := DocID(path)
	text := l.extractor.Extract(id)
	if strings.TrimSpace(text) == "" {
		l.logger.Warn("no text extracted, not indexing", zap.String("path", id))
		return false, nil
	}
	if err := l.store.Add(ctx, id, text); err != nil {
		return false, fmt.Errorf("failed to index %s: %w", id, err)
	}
	l.invalidate()
	return true, nil
}

// DeleteFile removes a file from the store. It reports false when the
// file was not indexed.
func (l *Library) DeleteFile(ctx context.Context, path string) (bool, error) {
	ok, err := l.store.Delete(ctx, DocID(path))
	if err != nil {
		return ok, err
	}
	if ok {
		l.invalidate()
	}
	return ok, nil
}

// UpdateFile replaces oldPath's entry with newPath's content.
func (l *Library) UpdateFile(ctx context.Context, oldPath, newPath string) (bool, error) {
	if DocID(oldPath) != DocID(newPath) {
		if _, err := l.DeleteFile(ctx, oldPath); err != nil {
			return false, err
		}
	}
	return l.AddFile(ctx, newPath)
}

// ErrNotInDir is returned for names that resolve outside the documents
// directory.
var ErrNotInDir = errors.New("path is outside the documents directory")

// Import copies src into dir (unless it already lives there) and indexes
// the copy. It returns the indexed path.
func (l *Library) Import(ctx context.Context, dir, src string) (string, bool, error) {
	if !l.extractor.Supported(src) {
		return "", false, fmt.Errorf("unsupported file type: %s", filepath.Ext(src))
	}
	dst, err := l.copyInto(dir, src)
	if err != nil {
		return "", false, err
	}
	ok, err := l.AddFile(ctx, dst)
	return dst, ok, err
}

// Remove deletes the named file from dir and drops its entry.
func (l *Library) Remove(ctx context.Context, dir, name string) (bool, error) {
	path, err := resolveIn(dir, name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return l.DeleteFile(ctx, path)
}

// Replace swaps the named file in dir for src and re-indexes. The old file
// is removed when the new one has a different name.
func (l *Library) Replace(ctx context.Context, dir, oldName, src string) (string, bool, error) {
	oldPath, err := resolveIn(dir, oldName)
	if err != nil {
		return "", false, err
	}
	if !l.extractor.Supported(src) {
		return "", false, fmt.Errorf("unsupported file type: %s", filepath.Ext(src))
	}
	newPath, err := l.copyInto(dir, src)
	if err != nil {
		return "", false, err
	}
	if DocID(oldPath) != DocID(newPath) {
		if err := os.Remove(oldPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to remove %s: %w", oldPath, err)
		}
	}
	ok, err := l.UpdateFile(ctx, oldPath, newPath)
	return newPath, ok, err
}

func (l *Library) copyInto(dir, src string) (string, error) {
	absDir := DocID(dir)
	absSrc := DocID(src)
	if rel, err := filepath.Rel(absDir, absSrc); err == nil && filepath.IsLocal(rel) {
		return absSrc, nil
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return "", err
	}
	dst := filepath.Join(absDir, filepath.Base(absSrc))

	in, err := os.Open(absSrc)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to copy %s: %w", absSrc, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	l.logger.Debug("copied document", zap.String("src", absSrc), zap.String("dst", dst))
	return dst, nil
}

// resolveIn maps a name relative to dir onto a path inside it.
func resolveIn(dir, name string) (string, error) {
	local := filepath.FromSlash(name)
	if filepath.IsAbs(local) {
		rel, err := filepath.Rel(DocID(dir), local)
		if err != nil || !filepath.IsLocal(rel) {
			return "", fmt.Errorf("%s: %w", name, ErrNotInDir)
		}
		return local, nil
	}
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%s: %w", name, ErrNotInDir)
	}
	return filepath.Join(DocID(dir), local), nil
}

// SyncOptions tunes a Sync run.
type SyncOptions struct {
	// Force re-extracts files that are already indexed.
	Force bool
	// Progress is called after each file with (done, total).
	Progress func(done, total int)
}

// SyncResult contains the results of a sync operation.
type SyncResult struct {
	FilesIndexed int
	FilesSkipped int
	FilesEmpty   int
	FilesDeleted int
	Errors       []string
}

// Sync indexes supported files under dir that the store does not hold yet
// and removes entries whose file is gone.
func (l *Library) Sync(ctx context.Context, dir string, opts SyncOptions) (*SyncResult, error) {
	result := &SyncResult{}

	files, err := l.walker.Walk(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	existing := make(map[string]bool)
	for _, id := range l.store.IDs() {
		existing[id] = true
	}

	var todo []port.FileInfo
	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		if !l.extractor.Supported(f.Path) {
			continue
		}
		id := DocID(f.Path)
		onDisk[id] = true
		if existing[id] && !opts.Force {
			result.FilesSkipped++
			continue
		}
		todo = append(todo, f)
	}

	for i, f := range todo {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		ok, err := l.AddFile(ctx, f.Path)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, err.Error())
		case ok:
			result.FilesIndexed++
			l.logger.Debug("indexed document", zap.String("path", f.Path))
		default:
			result.FilesEmpty++
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(todo))
		}
	}

	for id := range existing {
		if onDisk[id] {
			continue
		}
		if _, err := l.DeleteFile(ctx, id); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", id, err))
			continue
		}
		result.FilesDeleted++
		l.logger.Info("removed document missing on disk", zap.String("path", id))
	}

	l.logger.Info("sync complete",
		zap.Int("indexed", result.FilesIndexed),
		zap.Int("skipped", result.FilesSkipped),
		zap.Int("deleted", result.FilesDeleted),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// Files lists the document files under dir.
func (l *Library) Files(dir string) ([]port.FileInfo, error) {
	return l.walker.Walk(dir)
}

func (l *Library) invalidate() {
	if l.cache != nil {
		l.cache.Invalidate()
	}
}
