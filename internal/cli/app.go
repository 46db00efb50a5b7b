package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"campusbot/config"
	"campusbot/internal/adapter/cache"
	"campusbot/internal/adapter/embedding"
	"campusbot/internal/adapter/extract"
	"campusbot/internal/adapter/fs"
	"campusbot/internal/adapter/lexical"
	"campusbot/internal/adapter/llm"
	"campusbot/internal/adapter/vectorstore"
	"campusbot/internal/usecase"
)

// app is the wired set of collaborators shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	docsDir   string
	walker    *fs.Walker
	extractor *extract.Extractor
	store     *vectorstore.Store
	cache     *cache.QueryCache
	library   *usecase.Library
	students  *lexical.Index
	faculty   *lexical.Index
}

// openApp wires the vector store and the library. Lexical indexes and the
// router are built on demand.
func openApp(ctx context.Context) (*app, error) {
	cfg := GetConfig()
	root := GetRootDir()
	log := GetLogger()

	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	snap, err := openSnapshotter(cfg, root)
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.Open(ctx, vectorstore.Options{
		Metric:      vectorstore.Metric(cfg.Vector.Metric),
		Embedder:    embedder,
		Snapshotter: snap,
		Logger:      log,
		BatchSize:   cfg.Embedding.BatchSize,
	})
	if err != nil {
		snap.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    log,
		docsDir:   cfg.DocsDir(root),
		walker:    fs.NewWalker(cfg.Data.DocIncludes, cfg.Data.DocExcludes),
		extractor: extract.NewExtractor(log),
		store:     store,
		cache:     cache.NewQueryCache(cfg.Vector.CacheSize, cfg.CacheTTL()),
	}
	a.library = usecase.NewLibrary(a.store, a.extractor, a.walker, a.cache, log)
	return a, nil
}

func openSnapshotter(cfg *config.Config, root string) (vectorstore.Snapshotter, error) {
	dir := cfg.VectorDir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector directory: %w", err)
	}
	switch cfg.Vector.Backend {
	case "", "files":
		return vectorstore.NewFileSnapshotter(dir)
	case "bolt":
		return vectorstore.NewBoltSnapshotter(cfg.BoltPath(root))
	case "sqlite":
		return vectorstore.NewSQLiteSnapshotter(cfg.SQLitePath(root))
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}
}

// loadRecords reads the student and faculty CSV files.
func (a *app) loadRecords() {
	root := GetRootDir()
	aliases := a.cfg.Router.YearAliases

	var res lexical.LoadResult
	a.students, res = lexical.Load(resolveAll(root, a.cfg.Data.StudentCSV), a.cfg.Data.StudentFields, aliases, a.logger)
	a.logger.Info("loaded student records", zap.Int("files", res.Files), zap.Int("rows", res.Rows), zap.Int("skipped", res.Skipped))

	a.faculty, res = lexical.Load(resolveAll(root, a.cfg.Data.FacultyCSV), a.cfg.Data.FacultyFields, aliases, a.logger)
	a.logger.Info("loaded faculty records", zap.Int("files", res.Files), zap.Int("rows", res.Rows), zap.Int("skipped", res.Skipped))
}

// newRouter builds the query router, loading records first if needed.
func (a *app) newRouter(ctx context.Context) *usecase.Router {
	if a.students == nil || a.faculty == nil {
		a.loadRecords()
	}

	gen, err := llm.New(ctx, a.cfg, a.logger)
	if err != nil {
		a.logger.Warn("generative model unavailable, answers will list retrieved documents", zap.Error(err))
	} else if gen == nil {
		a.logger.Info("no generative model configured, answers will list retrieved documents")
	}

	return usecase.NewRouter(usecase.RouterOptions{
		Config:     a.cfg.Router,
		Students:   a.students,
		Faculty:    a.faculty,
		Searcher:   cache.NewCachedSearcher(a.store, a.cache),
		LLM:        gen,
		Walker:     a.walker,
		DocsDir:    a.docsDir,
		TopK:       a.cfg.Vector.TopK,
		MinScore:   a.cfg.Vector.MinScore,
		ContextLen: a.cfg.Vector.ContextLen,
		Logger:     a.logger,
	})
}

// watchFilter accepts absolute paths the walker and extractor both accept.
func (a *app) watchFilter(path string) bool {
	rel, err := filepath.Rel(a.docsDir, path)
	if err != nil || !filepath.IsLocal(rel) {
		return false
	}
	return a.walker.Match(rel) && a.extractor.Supported(path)
}

func (a *app) Close() error {
	return a.store.Close()
}

func resolveAll(root string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = config.Resolve(root, p)
	}
	return out
}
