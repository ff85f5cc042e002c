// Package obslog provides a rotating-file slog.Logger a host can build
// and inject into the store packages; a store package given a nil
// logger falls back to slog.Default(), not to this one. Rotation size
// and backup count are driven by storeconfig.LogConfig rather than
// fixed constants, so a host application tunes them the same way it
// tunes polling and batching.
package obslog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"convostore/storeconfig"
)

// logFileName is the name of the current log file.
const logFileName = "convostore.log"

// rotatingWriter is an io.Writer that writes to a file and rotates when
// the file exceeds maxSize. Old log files are kept up to maxFiles.
type rotatingWriter struct {
	mu       sync.Mutex
	file     *os.File
	dir      string
	size     int64
	maxSize  int64
	maxFiles int
}

func newRotatingWriter(dir string, maxSize int64, maxFiles int) (*rotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if maxSize <= 0 {
		maxSize = storeconfig.DefaultLogConfig().MaxFileSizeBytes
	}
	if maxFiles <= 0 {
		maxFiles = storeconfig.DefaultLogConfig().MaxBackups
	}

	w := &rotatingWriter{
		dir:      dir,
		maxSize:  maxSize,
		maxFiles: maxFiles,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) openFile() error {
	path := filepath.Join(w.dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			_ = err
		}
	}

	n, err = w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	src := filepath.Join(w.dir, logFileName)
	stamp := time.Now().Format("20060102-150405")
	dst := filepath.Join(w.dir, fmt.Sprintf("convostore-%s.log", stamp))
	if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
		return w.openFile()
	}

	w.cleanBackups()

	return w.openFile()
}

func (w *rotatingWriter) cleanBackups() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if name != logFileName && strings.HasPrefix(name, "convostore-") && strings.HasSuffix(name, ".log") {
			backups = append(backups, name)
		}
	}

	if len(backups) <= w.maxFiles {
		return
	}

	sort.Strings(backups)
	for _, name := range backups[:len(backups)-w.maxFiles] {
		os.Remove(filepath.Join(w.dir, name))
	}
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// New creates a *slog.Logger that writes to a rotating file under
// cfg.Dir, sized and retained per cfg.MaxFileSizeBytes/cfg.MaxBackups,
// additionally mirroring to stderr when cfg.MirrorStderr is true. The
// returned cleanup function flushes and closes the log file; callers
// must invoke it on shutdown.
func New(cfg storeconfig.LogConfig) (logger *slog.Logger, cleanup func(), err error) {
	w, err := newRotatingWriter(cfg.Dir, cfg.MaxFileSizeBytes, cfg.MaxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("init rotating writer: %w", err)
	}

	var writer io.Writer = w
	if cfg.MirrorStderr {
		writer = io.MultiWriter(os.Stderr, w)
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger = slog.New(handler)

	cleanup = func() {
		w.Close()
	}

	return logger, cleanup, nil
}

// Noop returns a logger that discards everything. The store packages
// do not use it as their default; they fall back to slog.Default().
func Noop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
