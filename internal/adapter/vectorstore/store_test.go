package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campusbot/internal/adapter/embedding"
	"campusbot/internal/domain"
	"campusbot/internal/port"
)

// countingEmbedder wraps the hash embedder and counts embedded texts.
type countingEmbedder struct {
	*embedding.HashEmbedder
	calls atomic.Int64
	fail  bool
}

func newCountingEmbedder(dim int) *countingEmbedder {
	return &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(dim)}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(int64(len(texts)))
	if e.fail {
		return nil, errors.New("embedder unavailable")
	}
	return e.HashEmbedder.Embed(ctx, texts)
}

func openFileStore(t *testing.T, dir string, emb port.Embedder) *Store {
	t.Helper()
	snap, err := NewFileSnapshotter(dir)
	require.NoError(t, err)
	s, err := Open(context.Background(), Options{
		Metric:      MetricL2,
		Embedder:    emb,
		Snapshotter: snap,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return s
}

func assertAligned(t *testing.T, s *Store) {
	t.Helper()
	st := s.Stats()
	assert.Equal(t, st.Documents, st.Vectors, "documents and vectors out of step")
}

func TestStore_OSIExample(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir(), newCountingEmbedder(384))

	require.NoError(t, s.Add(ctx, "intro.txt", "Computer networks cover the OSI model."))
	require.NoError(t, s.Add(ctx, "dsp.txt", "Fourier transforms in signal processing."))

	results, err := s.Search(ctx, "OSI model", 3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "intro.txt", results[0].Document.ID)
	assert.Greater(t, results[0].Score, 0.5)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)

	ok, err := s.Delete(ctx, "intro.txt")
	require.NoError(t, err)
	require.True(t, ok)

	results, err = s.Search(ctx, "OSI model", 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "intro.txt", r.Document.ID)
	}
	assertAligned(t, s)
}

func TestStore_FreshlyAddedIsRetrievable(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir(), newCountingEmbedder(128))

	texts := map[string]string{
		"a.txt": "compiler design lexical analysis parsing",
		"b.txt": "database normalization relational algebra",
		"c.txt": "operating systems process scheduling",
	}
	for id, text := range texts {
		require.NoError(t, s.Add(ctx, id, text))
	}

	for id, text := range texts {
		results, err := s.Search(ctx, text, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, id, results[0].Document.ID)
		assert.InDelta(t, 0, results[0].Distance, 1e-6)
	}
	assertAligned(t, s)
}

func TestStore_AddUpsertsByID(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir(), newCountingEmbedder(64))

	require.NoError(t, s.Add(ctx, "paper.pdf", "old text"))
	require.NoError(t, s.Add(ctx, "paper.pdf", "graph theory shortest paths"))

	assert.Equal(t, []string{"paper.pdf"}, s.IDs())
	results, err := s.Search(ctx, "graph theory", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "graph theory shortest paths", results[0].Document.Text)
	assertAligned(t, s)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir(), newCountingEmbedder(64))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Add(ctx, id, "text of "+id))
	}

	ok, err := s.Delete(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, s.Has("b"))
	assert.Equal(t, []string{"a", "c"}, s.IDs())
	assertAligned(t, s)

	results, err := s.Search(ctx, "text of b", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "b", r.Document.ID)
	}

	ok, err = s.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestStore_AddThenDeleteAllIsEmpty(t *testing.T) {
	ctx := context.Background()
	emb := newCountingEmbedder(32)
	s := openFileStore(t, t.TempDir(), emb)

	ids := []string{"one", "two", "three", "four"}
	for _, id := range ids {
		require.NoError(t, s.Add(ctx, id, id+" content"))
	}
	for _, id := range ids {
		ok, err := s.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.Equal(t, 0, s.Len())
	assertAligned(t, s)

	before := emb.calls.Load()
	results, err := s.Search(ctx, "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, before, emb.calls.Load(), "empty store must not embed the query")
}

func TestStore_SearchClampsK(t *testing.T) {
	ctx := context.Background()
	s := openFileStore(t, t.TempDir(), newCountingEmbedder(32))
	require.NoError(t, s.Add(ctx, "a", "alpha"))
	require.NoError(t, s.Add(ctx, "b", "beta"))

	for _, k := range []int{-1, 0, 2, 50} {
		results, err := s.Search(ctx, "alpha", k)
		require.NoError(t, err)
		assert.Len(t, results, 2, "k=%d", k)
	}
	results, err := s.Search(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStore_EmbedFailureLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	emb := newCountingEmbedder(32)
	s := openFileStore(t, t.TempDir(), emb)
	require.NoError(t, s.Add(ctx, "a", "alpha"))

	emb.fail = true
	assert.Error(t, s.Add(ctx, "b", "beta"))
	assert.Equal(t, []string{"a"}, s.IDs())
	assertAligned(t, s)
}

func TestStore_InnerProductMetric(t *testing.T) {
	ctx := context.Background()
	snap, err := NewFileSnapshotter(t.TempDir())
	require.NoError(t, err)
	s, err := Open(ctx, Options{Metric: MetricIP, Embedder: newCountingEmbedder(128), Snapshotter: snap})
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, "net.txt", "Computer networks cover the OSI model."))
	require.NoError(t, s.Add(ctx, "db.txt", "Relational databases and SQL joins."))

	results, err := s.Search(ctx, "OSI model", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "net.txt", results[0].Document.ID)
	assert.Equal(t, results[0].Distance, results[0].Score)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T, dir string) Snapshotter
	}{
		{"files", func(t *testing.T, dir string) Snapshotter {
			s, err := NewFileSnapshotter(dir)
			require.NoError(t, err)
			return s
		}},
		{"bolt", func(t *testing.T, dir string) Snapshotter {
			s, err := NewBoltSnapshotter(filepath.Join(dir, "store.db"))
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T, dir string) Snapshotter {
			s, err := NewSQLiteSnapshotter(filepath.Join(dir, "store.sqlite"))
			require.NoError(t, err)
			return s
		}},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			emb := newCountingEmbedder(64)

			s, err := Open(ctx, Options{Embedder: emb, Snapshotter: b.open(t, dir)})
			require.NoError(t, err)
			require.NoError(t, s.Add(ctx, "x.txt", "queueing theory"))
			require.NoError(t, s.Add(ctx, "y.txt", "line ending\nwith \"quotes\" inside"))
			require.NoError(t, s.Add(ctx, "z.txt", "discrete mathematics"))
			_, err = s.Delete(ctx, "z.txt")
			require.NoError(t, err)
			require.NoError(t, s.Close())

			emb.calls.Store(0)
			reopened, err := Open(ctx, Options{Embedder: emb, Snapshotter: b.open(t, dir)})
			require.NoError(t, err)
			defer reopened.Close()

			assert.Equal(t, int64(0), emb.calls.Load(), "reopen must not re-embed")
			assert.Equal(t, []string{"x.txt", "y.txt"}, reopened.IDs())
			assertAligned(t, reopened)

			results, err := reopened.Search(ctx, "queueing theory", 1)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, domain.Document{ID: "x.txt", Text: "queueing theory"}, results[0].Document)
		})
	}
}

func TestStore_RebuildsOnModelChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openFileStore(t, dir, newCountingEmbedder(16))
	require.NoError(t, s.Add(ctx, "a", "alpha"))
	require.NoError(t, s.Add(ctx, "b", "beta"))

	emb := newCountingEmbedder(32)
	reopened := openFileStore(t, dir, emb)
	assert.Equal(t, int64(2), emb.calls.Load())

	st := reopened.Stats()
	assert.Equal(t, 32, st.Dimension)
	assert.Equal(t, "hash-32", st.Model)
	assert.Equal(t, 2, st.Vectors)
}

func TestStore_RebuildsCorruptIndexFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openFileStore(t, dir, newCountingEmbedder(16))
	require.NoError(t, s.Add(ctx, "a", "alpha"))
	require.NoError(t, s.Add(ctx, "b", "beta"))

	snap, err := NewFileSnapshotter(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snap.IndexPath(), []byte("garbage"), 0644))

	reopened := openFileStore(t, dir, newCountingEmbedder(16))
	assert.Equal(t, []string{"a", "b"}, reopened.IDs())
	assertAligned(t, reopened)

	results, err := reopened.Search(ctx, "beta", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Document.ID)
}

func TestStore_RebuildsMisalignedSnapshot(t *testing.T) {
	dir := t.TempDir()
	emb := newCountingEmbedder(8)

	idx, err := NewFlatIndex(MetricL2, 8)
	require.NoError(t, err)
	require.NoError(t, idx.Add(make([]float32, 8)))

	snap, err := NewFileSnapshotter(dir)
	require.NoError(t, err)
	require.NoError(t, snap.Save(&Snapshot{
		Model: emb.ModelName(),
		Index: idx,
		Docs:  []domain.Document{{ID: "a", Text: "alpha"}, {ID: "b", Text: "beta"}},
	}))

	s := openFileStore(t, dir, emb)
	assertAligned(t, s)
	assert.Equal(t, 2, s.Stats().Vectors)
	assert.Equal(t, int64(2), emb.calls.Load())
}

func TestStore_OpenRequiresCollaborators(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)

	snap, err := NewFileSnapshotter(t.TempDir())
	require.NoError(t, err)
	_, err = Open(context.Background(), Options{Embedder: newCountingEmbedder(4), Snapshotter: snap, Metric: "cosine"})
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

// embeddingServer serves 4-dimensional vectors from an OpenAI-compatible
// /embeddings endpoint and counts the inputs it embedded.
func embeddingServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls.Add(int64(len(req.Input)))

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"embedding": []float32{float32(len(text)), 1, 0, 0},
				"index":     i,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStore_ReopenWithRemoteEmbedderKeepsVectors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var calls atomic.Int64
	srv := embeddingServer(t, &calls)
	emb, err := embedding.NewOllamaEmbedder("bge-m3", srv.URL, 0)
	require.NoError(t, err)

	s := openFileStore(t, dir, emb)
	require.NoError(t, s.Add(ctx, "a", "alpha"))
	require.NoError(t, s.Add(ctx, "b", "beta gamma"))
	require.Equal(t, int64(2), calls.Load())

	for range 2 {
		reopened := openFileStore(t, dir, emb)
		assert.Equal(t, []string{"a", "b"}, reopened.IDs())
		assert.Equal(t, 4, reopened.Stats().Dimension)
	}
	assert.Equal(t, int64(2), calls.Load(), "reopening must not re-embed")
}

type queryEmbedder struct {
	*countingEmbedder
	queries []string
}

func (e *queryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.queries = append(e.queries, text)
	vecs, err := e.HashEmbedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func TestStore_SearchUsesQueryEmbedding(t *testing.T) {
	ctx := context.Background()
	emb := &queryEmbedder{countingEmbedder: newCountingEmbedder(16)}
	s := openFileStore(t, t.TempDir(), emb)

	require.NoError(t, s.Add(ctx, "a", "alpha"))
	require.Equal(t, int64(1), emb.calls.Load())

	results, err := s.Search(ctx, "alpha", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"alpha"}, emb.queries)
	assert.Equal(t, int64(1), emb.calls.Load(), "queries go through EmbedQuery")
}

func TestStore_DropsUnreadableDocumentRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openFileStore(t, dir, newCountingEmbedder(16))
	require.NoError(t, s.Add(ctx, "a", "alpha"))
	require.NoError(t, s.Add(ctx, "b", "beta"))

	snap, err := NewFileSnapshotter(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(snap.DocsPath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snap.DocsPath(), append([]byte("{broken\n"), data...), 0644))

	emb := newCountingEmbedder(16)
	reopened := openFileStore(t, dir, emb)
	assert.Equal(t, []string{"a", "b"}, reopened.IDs())
	assertAligned(t, reopened)
	assert.Equal(t, int64(2), emb.calls.Load(), "readable records are re-embedded")

	data, err = os.ReadFile(snap.DocsPath())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "{broken")
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
