package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"campusbot/internal/domain"
	"campusbot/internal/port"
)

// Options configures a Store.
type Options struct {
	Metric      Metric
	Embedder    port.Embedder
	Snapshotter Snapshotter
	Logger      *zap.Logger
	BatchSize   int // Embedding batch size used when rebuilding
}

// Store holds documents and their embeddings in parallel: docs[i] is the
// document whose vector sits at index position i. Every mutation rewrites
// the snapshot in full.
type Store struct {
	mu        sync.RWMutex
	metric    Metric
	embedder  port.Embedder
	snap      Snapshotter
	logger    *zap.Logger
	batchSize int

	index *FlatIndex
	docs  []domain.Document
}

// Open loads the persisted snapshot, rebuilding the vectors from the stored
// texts when they are missing, misaligned or were produced by another model.
// Unreadable document records are dropped before the rebuild; their files
// come back on the next library sync.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("vector store requires an embedder")
	}
	if opts.Snapshotter == nil {
		return nil, fmt.Errorf("vector store requires a snapshotter")
	}
	metric, err := ParseMetric(string(opts.Metric))
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	s := &Store{
		metric:    metric,
		embedder:  opts.Embedder,
		snap:      opts.Snapshotter,
		logger:    logger.Named("vectorstore"),
		batchSize: batchSize,
	}

	snap, err := s.snap.Load()
	if err != nil && !(errors.Is(err, ErrCorruptSnapshot) && snap != nil) {
		return nil, fmt.Errorf("failed to load vector snapshot: %w", err)
	}
	if snap == nil {
		s.logger.Debug("no snapshot found, starting empty")
		return s, nil
	}

	s.docs = snap.Docs
	s.index = snap.Index

	reason := s.staleReason(snap)
	if err != nil {
		reason = err.Error()
	}
	if reason != "" {
		s.logger.Warn("rebuilding vector index", zap.String("reason", reason), zap.Int("documents", len(s.docs)))
		if err := s.rebuild(ctx); err != nil {
			return nil, fmt.Errorf("failed to rebuild vector index: %w", err)
		}
	}

	s.logger.Debug("loaded vector store", zap.Int("documents", len(s.docs)))
	return s, nil
}

func (s *Store) staleReason(snap *Snapshot) string {
	if snap.Index == nil {
		if len(snap.Docs) > 0 {
			return "index missing"
		}
		return ""
	}
	switch {
	case snap.Index.NTotal() != len(snap.Docs):
		return fmt.Sprintf("index holds %d vectors for %d documents", snap.Index.NTotal(), len(snap.Docs))
	case snap.Model != s.embedder.ModelName():
		return fmt.Sprintf("embedding model changed from %q to %q", snap.Model, s.embedder.ModelName())
	case snap.Index.Metric() != s.metric:
		return fmt.Sprintf("metric changed from %s to %s", snap.Index.Metric(), s.metric)
	case s.embedder.Dimension() > 0 && snap.Index.Dimension() != s.embedder.Dimension():
		return fmt.Sprintf("dimension changed from %d to %d", snap.Index.Dimension(), s.embedder.Dimension())
	}
	return ""
}

// rebuild re-embeds every stored text and saves the result.
func (s *Store) rebuild(ctx context.Context) error {
	s.index = nil
	for start := 0; start < len(s.docs); start += s.batchSize {
		end := min(start+s.batchSize, len(s.docs))
		texts := make([]string, 0, end-start)
		for _, d := range s.docs[start:end] {
			texts = append(texts, d.Text)
		}
		vecs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed documents: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for _, vec := range vecs {
			if err := s.appendVector(vec); err != nil {
				return err
			}
		}
	}
	return s.persist()
}

func (s *Store) appendVector(vec []float32) error {
	if s.index == nil {
		idx, err := NewFlatIndex(s.metric, len(vec))
		if err != nil {
			return err
		}
		s.index = idx
		s.logger.Debug("initialized index", zap.Int("dimension", len(vec)), zap.String("metric", string(s.metric)))
	}
	return s.index.Add(vec)
}

func (s *Store) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}
	return vecs[0], nil
}

func (s *Store) embedQuery(ctx context.Context, query string) ([]float32, error) {
	qe, ok := s.embedder.(port.QueryEmbedder)
	if !ok {
		return s.embedOne(ctx, query)
	}
	vec, err := qe.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}
	return vec, nil
}

// Add embeds text and stores it under id, replacing any existing document
// with the same id in place.
func (s *Store) Add(ctx context.Context, id, text string) error {
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	vec, err := s.embedOne(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos := s.position(id); pos >= 0 {
		if err := s.index.Set(pos, vec); err != nil {
			return err
		}
		s.docs[pos].Text = text
		s.logger.Info("replaced document", zap.String("id", id))
	} else {
		if err := s.appendVector(vec); err != nil {
			return err
		}
		s.docs = append(s.docs, domain.Document{ID: id, Text: text})
		s.logger.Info("added document", zap.String("id", id), zap.Int("total", len(s.docs)))
	}

	return s.persist()
}

// Search returns the k documents nearest to query. An empty store returns
// no results without calling the embedder.
func (s *Store) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if s.Len() == 0 {
		return nil, nil
	}
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || len(s.docs) == 0 {
		return nil, nil
	}
	if k <= 0 || k > len(s.docs) {
		k = len(s.docs)
	}
	hits, err := s.index.Search(vec, k)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Pos >= len(s.docs) {
			continue
		}
		results = append(results, domain.SearchResult{
			Document: s.docs[h.Pos],
			Distance: h.Distance,
			Score:    s.metric.Score(h.Distance),
		})
	}
	s.logger.Debug("search", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// Delete removes the document with the given id. An unknown id is not an
// error; it reports false.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.position(id)
	if pos < 0 {
		s.logger.Warn("document not found for deletion", zap.String("id", id))
		return false, nil
	}
	if err := s.index.RemoveAt(pos); err != nil {
		return false, err
	}
	s.docs = append(s.docs[:pos], s.docs[pos+1:]...)

	if err := s.persist(); err != nil {
		return true, err
	}
	s.logger.Info("deleted document", zap.String("id", id), zap.Int("total", len(s.docs)))
	return true, nil
}

// Has reports whether a document with id is stored.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position(id) >= 0
}

// IDs returns the stored document ids in index order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.docs))
	for i, d := range s.docs {
		ids[i] = d.ID
	}
	return ids
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := domain.Stats{
		Documents: len(s.docs),
		Metric:    string(s.metric),
		Model:     s.embedder.ModelName(),
	}
	if s.index != nil {
		st.Vectors = s.index.NTotal()
		st.Dimension = s.index.Dimension()
	}
	return st
}

func (s *Store) Close() error {
	return s.snap.Close()
}

// position does a linear scan; callers hold the lock.
func (s *Store) position(id string) int {
	for i, d := range s.docs {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// persist saves the current state; callers hold the write lock.
func (s *Store) persist() error {
	if err := s.snap.Save(&Snapshot{Model: s.embedder.ModelName(), Index: s.index, Docs: s.docs}); err != nil {
		return fmt.Errorf("failed to persist vector store: %w", err)
	}
	return nil
}
