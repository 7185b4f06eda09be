package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is a size-based log rotator. When the current file grows
// past the limit it is renamed aside with a UTC timestamp suffix and a
// fresh file is started; the oldest timestamped backups beyond maxBackups
// are pruned. Implements io.Writer and is safe for concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	limit      int64
	maxBackups int
	size       int64
}

// backupTimeLayout sorts lexicographically in time order, which is what
// prune relies on.
const backupTimeLayout = "20060102-150405.000"

// NewRotatingWriter creates a writer over path that rotates past maxSizeMB,
// keeping at most maxBackups rotated files. The log file and its directory
// are private to the user, like every other file this daemon writes.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}

	rw := &RotatingWriter{
		path:       path,
		limit:      int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write appends p, rotating afterward once the file has grown past the
// limit. A record is never split across two files.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	if err != nil {
		return n, err
	}

	if rw.size >= rw.limit {
		if rerr := rw.rotate(); rerr != nil {
			return n, fmt.Errorf("logging: rotate: %w", rerr)
		}
	}
	return n, nil
}

// Reopen closes and reopens the current file, for SIGHUP-style handling
// after an external tool moved the log aside.
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		rw.file.Close()
	}
	return rw.open()
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

func (rw *RotatingWriter) rotate() error {
	rw.file.Close()
	rw.file = nil

	stamp := time.Now().UTC().Format(backupTimeLayout)
	if err := os.Rename(rw.path, rw.path+"."+stamp); err != nil && !os.IsNotExist(err) {
		return err
	}

	rw.prune()
	return rw.open()
}

// prune removes the oldest timestamped backups beyond maxBackups. Best
// effort: a failed removal is skipped, not retried.
func (rw *RotatingWriter) prune() {
	dir := filepath.Dir(rw.path)
	prefix := filepath.Base(rw.path) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			backups = append(backups, name)
		}
	}
	if len(backups) <= rw.maxBackups {
		return
	}

	// Timestamp suffixes sort lexicographically in time order; oldest first.
	sort.Strings(backups)
	for _, name := range backups[:len(backups)-rw.maxBackups] {
		os.Remove(filepath.Join(dir, name))
	}
}
