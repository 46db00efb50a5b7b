package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campusbot/internal/adapter/watch"
	"campusbot/internal/httpapi"
	"campusbot/internal/usecase"
)

var (
	serveAddr    string
	serveNoWatch bool
	serveNoSync  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat API",
	Long: `Start the HTTP chat API. The documents directory is synced at startup
and, unless disabled, watched for changes while the server runs.

Endpoints:
  POST /api/chat              {"message": "..."} -> {"response": "..."}
  GET  /api/documents         list of document files
  GET  /download/{filename}   download a document`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not watch the documents directory")
	serveCmd.Flags().BoolVar(&serveNoSync, "no-sync", false, "skip the startup sync")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !serveNoSync {
		res, err := a.library.Sync(ctx, a.docsDir, usecase.SyncOptions{})
		if err != nil {
			return fmt.Errorf("startup sync failed: %w", err)
		}
		for _, e := range res.Errors {
			a.logger.Warn("sync error", zap.String("error", e))
		}
	}

	router := a.newRouter(ctx)
	srv := httpapi.New(httpapi.Options{
		Router:  router,
		Lister:  a.library,
		DocsDir: a.docsDir,
		BaseURL: a.cfg.Server.BaseURL,
		Logger:  a.logger,
	})

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})

	if a.cfg.Server.Watch && !serveNoWatch {
		w, err := watch.New(a.docsDir, a.library, watch.Options{
			Filter: a.watchFilter,
			Logger: a.logger,
		})
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("failed to watch %s: %w", a.docsDir, err)
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
