package port

import (
	"context"

	"campusbot/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension, or 0 when the
	// model decides it and it is only known from the vectors returned.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// QueryEmbedder is implemented by embedders that encode search queries
// differently from the documents they are matched against.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher answers nearest-neighbour queries over indexed documents.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// DocumentStore is the mutable side of the vector store.
type DocumentStore interface {
	Searcher

	// Add upserts a document by id.
	Add(ctx context.Context, id, text string) error

	// Delete removes a document; it reports false when the id is unknown.
	Delete(ctx context.Context, id string) (bool, error)

	Has(id string) bool

	IDs() []string
}
