package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campusbot/internal/adapter/fs"
	"campusbot/internal/domain"
	"campusbot/internal/port"
)

type stubRouter struct {
	reply domain.Reply
	err   error
	got   string
}

func (s *stubRouter) Route(ctx context.Context, message string) (domain.Reply, error) {
	s.got = message
	return s.reply, s.err
}

type walkerLister struct{ w *fs.Walker }

func (l walkerLister) Files(dir string) ([]port.FileInfo, error) { return l.w.Walk(dir) }

func newTestServer(t *testing.T, router Router, baseURL string) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2023"), 0755))
	for name, content := range map[string]string{
		"CN_Model_Paper.pdf":  "%PDF-1.4 fake",
		"2023/DBMS Final.pdf": "%PDF-1.4 dbms",
		".secret.txt":         "hidden",
		"notes.txt":           "osi model",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), []byte(content), 0644))
	}
	walker := fs.NewWalker([]string{"**/*.pdf", "**/*.txt"}, []string{"**/.*"})
	return New(Options{
		Router:  router,
		Lister:  walkerLister{walker},
		DocsDir: dir,
		BaseURL: baseURL,
		Logger:  zaptest.NewLogger(t),
	}), dir
}

func postChat(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, chatResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestChat_TextReply(t *testing.T) {
	router := &stubRouter{reply: domain.TextReply("greeting", "Hello!")}
	srv, _ := newTestServer(t, router, "")

	rec, resp := postChat(t, srv.Handler(), `{"message":"hi there"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello!", resp.Response)
	assert.Equal(t, "hi there", router.got)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestChat_EmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{}, "")

	for _, body := range []string{`{}`, `{"message":"   "}`, ``, `not json`} {
		rec, resp := postChat(t, srv.Handler(), body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Please provide a message.", resp.Response, body)
	}
}

func TestChat_DownloadLink(t *testing.T) {
	router := &stubRouter{reply: domain.DownloadReply("download", "2023/DBMS Final.pdf")}

	srv, _ := newTestServer(t, router, "")
	_, resp := postChat(t, srv.Handler(), `{"message":"download dbms"}`)
	assert.Equal(t, "http://example.com/download/2023/DBMS%20Final.pdf", resp.Response)

	srv, _ = newTestServer(t, router, "https://campus.example.edu/bot/")
	_, resp = postChat(t, srv.Handler(), `{"message":"download dbms"}`)
	assert.Equal(t, "https://campus.example.edu/bot/download/2023/DBMS%20Final.pdf", resp.Response)
}

func TestChat_DownloadWithoutFile(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{reply: domain.DownloadReply("download", "")}, "")
	_, resp := postChat(t, srv.Handler(), `{"message":"download"}`)
	assert.Equal(t, "I couldn't find a PDF with that name.", resp.Response)
}

func TestChat_RouterCancelled(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{err: context.Canceled}, "")
	rec, _ := postChat(t, srv.Handler(), `{"message":"what is tcp"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocuments(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{}, "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.ElementsMatch(t, []string{"CN_Model_Paper.pdf", "2023/DBMS Final.pdf", "notes.txt"}, names)
}

func TestDownload(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{}, "")
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/2023/DBMS%20Final.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="DBMS Final.pdf"`, rec.Header().Get("Content-Disposition"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 dbms", string(body))

	tests := []struct {
		path string
		code int
	}{
		{"/download/missing.pdf", http.StatusNotFound},
		{"/download/.secret.txt", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, rec.Code, tt.path)
	}
}

func TestDownload_RejectsEscapingNames(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{}, "")
	for _, name := range []string{"../etc/passwd", "/etc/passwd", "2023/../../x.pdf"} {
		req := httptest.NewRequest(http.MethodGet, "/download/x", nil)
		req.SetPathValue("filename", name)
		rec := httptest.NewRecorder()
		srv.handleDownload(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{}, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}

func TestRequestID(t *testing.T) {
	srv, _ := newTestServer(t, &stubRouter{}, "")
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
