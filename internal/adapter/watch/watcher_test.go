package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type recordingTarget struct {
	mu      sync.Mutex
	added   []string
	deleted []string
	err     error
}

func (r *recordingTarget) AddFile(ctx context.Context, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.added = append(r.added, path)
	return true, nil
}

func (r *recordingTarget) DeleteFile(ctx context.Context, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, path)
	return true, nil
}

func (r *recordingTarget) snapshot() (added, deleted []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.added...), append([]string(nil), r.deleted...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func txtOnly(path string) bool { return strings.HasSuffix(path, ".txt") }

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	target := &recordingTarget{}
	w, err := New(dir, target, Options{Filter: txtOnly, Debounce: time.Second, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("osi model"), 0644))

	start := time.Now()
	w.enqueue(path, start)
	w.enqueue(path, start.Add(500*time.Millisecond))
	w.enqueue(filepath.Join(dir, "image.png"), start)

	ctx := context.Background()
	w.processDebounced(ctx, start.Add(time.Second))
	added, _ := target.snapshot()
	assert.Empty(t, added, "path is still settling")

	w.processDebounced(ctx, start.Add(1500*time.Millisecond))
	added, _ = target.snapshot()
	assert.Equal(t, []string{path}, added)

	w.processDebounced(ctx, start.Add(5*time.Second))
	added, _ = target.snapshot()
	assert.Len(t, added, 1, "a settled path is applied once")
	assert.Equal(t, 2, w.Stats().Events)
}

func TestWatcher_ApplyDeletesMissing(t *testing.T) {
	dir := t.TempDir()
	target := &recordingTarget{}
	w, err := New(dir, target, Options{Debounce: time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	gone := filepath.Join(dir, "gone.txt")
	w.enqueue(gone, time.Now().Add(-time.Second))
	w.processDebounced(context.Background(), time.Now())

	_, deleted := target.snapshot()
	assert.Equal(t, []string{gone}, deleted)
	assert.Equal(t, 1, w.Stats().Removed)
}

func TestWatcher_ApplyError(t *testing.T) {
	dir := t.TempDir()
	target := &recordingTarget{err: errors.New("embedder down")}
	w, err := New(dir, target, Options{Debounce: time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	w.enqueue(path, time.Now().Add(-time.Second))
	w.processDebounced(context.Background(), time.Now())

	assert.Equal(t, 1, w.Stats().Errors)
}

func TestWatcher_IgnoresChmod(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, &recordingTarget{}, Options{})
	require.NoError(t, err)
	defer w.Close()

	w.handleEvent(fsnotify.Event{Name: filepath.Join(dir, "a.txt"), Op: fsnotify.Chmod})
	assert.Zero(t, w.Stats().Events)
}

func TestWatcher_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	target := &recordingTarget{}
	w, err := New(dir, target, Options{Filter: txtOnly, Debounce: 20 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := filepath.Join(dir, "cn_notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("transport layer"), 0644))
	assert.Eventually(t, func() bool {
		added, _ := target.snapshot()
		return contains(added, path)
	}, 5*time.Second, 10*time.Millisecond)

	sub := filepath.Join(dir, "2023")
	require.NoError(t, os.Mkdir(sub, 0755))
	nested := filepath.Join(sub, "dbms.txt")
	require.NoError(t, os.WriteFile(nested, []byte("normal forms"), 0644))
	assert.Eventually(t, func() bool {
		added, _ := target.snapshot()
		return contains(added, nested)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, deleted := target.snapshot()
		return contains(deleted, path)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
