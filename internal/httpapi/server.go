// Package httpapi exposes the router and the documents directory over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campusbot/internal/domain"
	"campusbot/internal/port"
)

const (
	emptyMessageReply = "Please provide a message."
	downloadMissReply = "I couldn't find a PDF with that name."
	busyReply         = "The request was cancelled before an answer was ready."
	maxBodyBytes      = 1 << 20
	requestIDHeader   = "X-Request-ID"
)

// Router answers one chat message.
type Router interface {
	Route(ctx context.Context, message string) (domain.Reply, error)
}

// Lister lists the files of the documents directory.
type Lister interface {
	Files(dir string) ([]port.FileInfo, error)
}

// Options holds the server's collaborators.
type Options struct {
	Router  Router
	Lister  Lister
	DocsDir string
	// BaseURL prefixes download links; empty derives it from the request.
	BaseURL string
	Logger  *zap.Logger
}

type Server struct {
	opts   Options
	logger *zap.Logger
	mux    *http.ServeMux
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type errResponse struct {
	Error string `json:"error"`
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	s := &Server{
		opts:   opts,
		logger: opts.Logger.Named("http"),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/documents", s.handleDocuments)
	s.mux.HandleFunc("GET /download/{filename...}", s.handleDownload)
	return s
}

// Handler returns the request handler with access logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("chat decode error", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, chatResponse{Response: emptyMessageReply})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Response: emptyMessageReply})
		return
	}

	reply, err := s.opts.Router.Route(r.Context(), req.Message)
	if err != nil {
		s.logger.Warn("chat cancelled", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, chatResponse{Response: busyReply})
		return
	}

	if reply.Kind == domain.ReplyDownload {
		if reply.Filename == "" {
			writeJSON(w, http.StatusOK, chatResponse{Response: downloadMissReply})
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Response: s.downloadURL(r, reply.Filename)})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply.Text})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	files, err := s.opts.Lister.Files(s.opts.DocsDir)
	if err != nil {
		s.logger.Error("failed to list documents", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errResponse{Error: "failed to list documents"})
		return
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "invalid file name"})
		return
	}
	if !s.listed(name) {
		writeJSON(w, http.StatusNotFound, errResponse{Error: "file not found"})
		return
	}

	root, err := os.OpenRoot(s.opts.DocsDir)
	if err != nil {
		s.logger.Error("failed to open documents directory", zap.Error(err))
		writeJSON(w, http.StatusNotFound, errResponse{Error: "file not found"})
		return
	}
	defer root.Close()

	f, err := root.Open(filepath.FromSlash(name))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errResponse{Error: "file not found"})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeJSON(w, http.StatusNotFound, errResponse{Error: "file not found"})
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(name)}))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// listed reports whether name is one of the documents the walker exposes,
// so excluded files are never served.
func (s *Server) listed(name string) bool {
	files, err := s.opts.Lister.Files(s.opts.DocsDir)
	if err != nil {
		s.logger.Error("failed to list documents", zap.Error(err))
		return false
	}
	for _, f := range files {
		if f.Name == name {
			return true
		}
	}
	return false
}

// downloadURL builds an absolute link to the download route.
func (s *Server) downloadURL(r *http.Request, name string) string {
	segments := strings.Split(name, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	base := s.opts.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/download/" + strings.Join(segments, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// logRequests tags each request with an X-Request-ID, reusing the
// caller's when present.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
