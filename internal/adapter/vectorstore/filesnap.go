package vectorstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	indexFileName = "vectors.index"
	docsFileName  = "documents.jsonl"
)

// FileSnapshotter keeps a snapshot as two files in a directory: a binary
// vector index and a JSONL document file. Both are rewritten in full.
type FileSnapshotter struct {
	dir string
}

func NewFileSnapshotter(dir string) (*FileSnapshotter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector dir: %w", err)
	}
	return &FileSnapshotter{dir: dir}, nil
}

func (f *FileSnapshotter) IndexPath() string { return filepath.Join(f.dir, indexFileName) }

func (f *FileSnapshotter) DocsPath() string { return filepath.Join(f.dir, docsFileName) }

// Save writes the documents first, then the index.
func (f *FileSnapshotter) Save(snap *Snapshot) error {
	docs, err := encodeDocs(snap.Docs)
	if err != nil {
		return fmt.Errorf("failed to encode documents: %w", err)
	}
	if err := writeAtomic(f.DocsPath(), docs); err != nil {
		return fmt.Errorf("failed to write documents: %w", err)
	}

	blob, err := encodeIndexFile(snap.Model, snap.Index)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := writeAtomic(f.IndexPath(), blob); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

func (f *FileSnapshotter) Load() (*Snapshot, error) {
	docsData, docsErr := os.ReadFile(f.DocsPath())
	indexData, indexErr := os.ReadFile(f.IndexPath())
	if errors.Is(docsErr, os.ErrNotExist) && errors.Is(indexErr, os.ErrNotExist) {
		return nil, nil
	}

	snap := &Snapshot{}
	if docsErr != nil && !errors.Is(docsErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read documents: %w", docsErr)
	}
	docs, err := decodeDocs(bytes.NewReader(docsData))
	snap.Docs = docs
	if err != nil {
		return snap, err
	}

	if indexErr != nil {
		if errors.Is(indexErr, os.ErrNotExist) {
			return snap, fmt.Errorf("%w: index file missing", ErrCorruptSnapshot)
		}
		return nil, fmt.Errorf("failed to read index: %w", indexErr)
	}
	model, idx, err := decodeIndexFile(indexData)
	if err != nil {
		return snap, err
	}
	snap.Model, snap.Index = model, idx
	return snap, nil
}

func (f *FileSnapshotter) Close() error { return nil }

// writeAtomic writes data to a temp file in the same directory and renames
// it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
