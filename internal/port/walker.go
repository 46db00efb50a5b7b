package port

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	Name    string
	ModTime int64
	Size    int64
}

// Extractor turns a file into indexable text. An empty string means
// nothing indexable.
type Extractor interface {
	Extract(path string) string
	Supported(path string) bool
}
