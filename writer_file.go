// writer_file.go: rotating file Writer implementation
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import (
	"compress/gzip"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	timecache "github.com/agilira/go-timecache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FileWriterConfig configures a FileWriter. Only Filename is required;
// every other field has the same defaults as the teacher library's
// Logger did.
type FileWriterConfig struct {
	Filename string

	MaxSize    int64
	MaxSizeStr string

	MaxAge    time.Duration
	MaxAgeStr string

	MaxBackups int
	MaxFileAge time.Duration
	LocalTime  bool

	Compress bool
	Checksum bool

	FileMode   os.FileMode
	RetryCount int
	RetryDelay time.Duration

	// Log receives non-fatal background-task diagnostics (rotation,
	// compression, checksum and cleanup failures). Defaults to a no-op
	// logger.
	Log *zap.SugaredLogger
}

// FileWriter is a Writer backed by a local file with size- and age-based
// rotation, optional gzip compression, optional SHA-256 checksums, and
// bounded backup retention. It is the concrete, production-shaped sink
// this package ships so a LogFront can be opened and exercised
// end-to-end without requiring a caller-supplied Writer.
//
// Unlike the teacher's Logger, FileWriter has no buffering, async mode,
// or auto-scaling of its own: a LogFront's ConsumerWorker is already the
// single writer of any FileWriter instance, so FileWriter only needs to
// be correct for sequential calls, not safe for concurrent ones.
type FileWriter struct {
	cfg FileWriterConfig

	currentFile  atomic.Pointer[os.File]
	bytesWritten atomic.Uint64
	rotationSeq  atomic.Uint64
	fileCreated  atomic.Int64
	maxSizeBytes int64

	initMutex sync.Mutex
	closeOnce sync.Once

	timeCache *timecache.TimeCache
	log       *zap.SugaredLogger

	bg     *errgroup.Group
	bgDone bool
	bgMu   sync.Mutex
}

// NewFileWriter constructs a FileWriter. The underlying file is not
// opened until the first Write call.
func NewFileWriter(cfg FileWriterConfig) (*FileWriter, error) {
	if cfg.Filename == "" {
		return nil, errors.New("ember: FileWriterConfig.Filename is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}

	g := &errgroup.Group{}
	g.SetLimit(2)

	return &FileWriter{
		cfg:       cfg,
		timeCache: timecache.NewWithResolution(time.Millisecond),
		log:       cfg.Log,
		bg:        g,
	}, nil
}

// Write implements Writer. It opens the file lazily on first use,
// classifies any failure as temporary or permanent, and triggers
// rotation once the configured size or age threshold is crossed.
func (w *FileWriter) Write(p []byte) (WriteStatus, error) {
	if w.currentFile.Load() == nil {
		w.initMutex.Lock()
		if w.currentFile.Load() == nil {
			if err := w.initFile(); err != nil {
				w.initMutex.Unlock()
				return classifyWriteError(err), err
			}
		}
		w.initMutex.Unlock()
	}

	file := w.currentFile.Load()
	if file == nil {
		return StatusPermanentError, errors.New("ember: no current file")
	}

	n, err := file.Write(p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return classifyWriteError(err), err
	}

	newSize := w.bytesWritten.Add(uint64(n))
	if w.shouldRotate(newSize) {
		if err := w.rotate(); err != nil {
			w.log.Warnw("rotation failed", "error", err)
		}
	}
	return StatusOK, nil
}

// classifyWriteError distinguishes a retriable sink failure from one
// that will never succeed no matter how many times it is retried.
func classifyWriteError(err error) WriteStatus {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
		return StatusPermanentError
	}
	return StatusTemporaryError
}

// Close closes the current file and waits for any in-flight background
// task (compression, checksum, cleanup) to finish. Safe to call more
// than once.
func (w *FileWriter) Close() error {
	var closeErr error
	w.closeOnce.Do(func() {
		w.bgMu.Lock()
		w.bgDone = true
		w.bgMu.Unlock()
		_ = w.bg.Wait()

		w.timeCache.Stop()
		if file := w.currentFile.Load(); file != nil {
			closeErr = file.Close()
		}
	})
	return closeErr
}

// Rotate forces an immediate rotation regardless of size or age.
func (w *FileWriter) Rotate() error {
	return w.rotate()
}

func (w *FileWriter) now() time.Time {
	if w.timeCache != nil {
		return w.timeCache.CachedTime()
	}
	return time.Now()
}

func (w *FileWriter) initFile() error {
	w.initSizeConfig()
	retryCount, retryDelay, fileMode := w.retryConfig()

	if err := ValidatePathLength(w.cfg.Filename); err != nil {
		return fmt.Errorf("invalid log file path: %w", err)
	}
	dir := filepath.Dir(w.cfg.Filename)
	sanitized := filepath.Join(dir, SanitizeFilename(filepath.Base(w.cfg.Filename)))
	w.cfg.Filename = sanitized

	if dir != "." {
		if err := RetryFileOperation(func() error {
			return os.MkdirAll(dir, 0o750)
		}, retryCount, retryDelay); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	var file *os.File
	if err := RetryFileOperation(func() error {
		var err error
		file, err = os.OpenFile(sanitized, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode) // #nosec G304 -- sanitized by SanitizeFilename above
		return err
	}, retryCount, retryDelay); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.currentFile.Store(file)
	size := info.Size()
	if size < 0 {
		size = 0
	}
	w.bytesWritten.Store(uint64(size))
	w.fileCreated.Store(w.now().Unix())
	return nil
}

func (w *FileWriter) initSizeConfig() {
	if w.maxSizeBytes != 0 {
		return
	}
	if w.cfg.MaxSizeStr != "" {
		if size, err := ParseSize(w.cfg.MaxSizeStr); err == nil {
			w.maxSizeBytes = size
		} else {
			w.log.Warnw("invalid MaxSizeStr", "value", w.cfg.MaxSizeStr, "error", err)
		}
	} else if w.cfg.MaxSize > 0 {
		w.maxSizeBytes = w.cfg.MaxSize * 1024 * 1024
	}
}

func (w *FileWriter) retryConfig() (int, time.Duration, os.FileMode) {
	retryCount := w.cfg.RetryCount
	if retryCount == 0 {
		retryCount = 3
	}
	retryDelay := w.cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 10 * time.Millisecond
	}
	fileMode := w.cfg.FileMode
	if fileMode == 0 {
		fileMode = GetDefaultFileMode()
	}
	return retryCount, retryDelay, fileMode
}

func (w *FileWriter) shouldRotate(currentSize uint64) bool {
	w.initSizeConfig()
	if w.maxSizeBytes > 0 && currentSize >= uint64(w.maxSizeBytes) {
		return true
	}

	maxAge := w.cfg.MaxAge
	if w.cfg.MaxAgeStr != "" {
		if d, err := ParseDuration(w.cfg.MaxAgeStr); err == nil {
			maxAge = d
		}
	}
	if maxAge > 0 {
		if created := w.fileCreated.Load(); created > 0 {
			if time.Since(time.Unix(created, 0)) >= maxAge {
				return true
			}
		}
	}
	return false
}

func (w *FileWriter) rotate() error {
	currentFile := w.currentFile.Load()
	if currentFile == nil {
		return errors.New("no current file to rotate")
	}

	backupName := w.backupName()
	retryCount, retryDelay, fileMode := w.retryConfig()

	if err := RetryFileOperation(currentFile.Close, retryCount, retryDelay); err != nil {
		return fmt.Errorf("failed to close current file: %w", err)
	}
	if err := RetryFileOperation(func() error {
		return os.Rename(w.cfg.Filename, backupName)
	}, retryCount, retryDelay); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	time.Sleep(retryDelay)

	var newFile *os.File
	if err := RetryFileOperation(func() error {
		var err error
		newFile, err = os.OpenFile(w.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode) // #nosec G304 -- Filename is controlled by caller, not user input
		return err
	}, retryCount, retryDelay); err != nil {
		return fmt.Errorf("failed to create new log file: %w", err)
	}

	w.currentFile.Store(newFile)
	w.bytesWritten.Store(0)
	w.fileCreated.Store(w.now().Unix())
	w.rotationSeq.Add(1)

	w.scheduleBackgroundTasks(backupName)
	return nil
}

func (w *FileWriter) backupName() string {
	now := w.now()
	if !w.cfg.LocalTime {
		now = now.UTC()
	}
	return fmt.Sprintf("%s.%s", w.cfg.Filename, now.Format("2006-01-02-15-04-05"))
}

// scheduleBackgroundTasks submits post-rotation work to the errgroup
// pool. Each task is independent, so a failure in one (e.g. compression)
// never blocks the others (e.g. cleanup).
func (w *FileWriter) scheduleBackgroundTasks(backupName string) {
	w.bgMu.Lock()
	defer w.bgMu.Unlock()
	if w.bgDone {
		return
	}

	if w.cfg.MaxBackups > 0 || w.cfg.MaxFileAge > 0 {
		w.bg.Go(func() error {
			w.cleanupOldFiles()
			return nil
		})
	}
	if w.cfg.Checksum {
		w.bg.Go(func() error {
			w.generateChecksum(backupName)
			return nil
		})
	}
	if w.cfg.Compress {
		w.bg.Go(func() error {
			w.compressFile(backupName)
			return nil
		})
	}
}

func (w *FileWriter) cleanupOldFiles() {
	matches, err := filepath.Glob(w.cfg.Filename + ".*")
	if err != nil {
		return
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	now := w.now()

	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if w.cfg.MaxFileAge > 0 {
			if age := now.Sub(info.ModTime()); age > w.cfg.MaxFileAge {
				if err := os.Remove(match); err != nil {
					w.log.Warnw("age-based cleanup failed", "file", match, "error", err)
				}
				continue
			}
		}
		files = append(files, fileInfo{name: match, modTime: info.ModTime()})
	}

	if w.cfg.MaxBackups <= 0 || len(files) <= w.cfg.MaxBackups {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for _, f := range files[:len(files)-w.cfg.MaxBackups] {
		if err := os.Remove(f.name); err != nil {
			w.log.Warnw("backup count cleanup failed", "file", f.name, "error", err)
		}
	}
}

func (w *FileWriter) compressFile(filename string) {
	source, err := os.Open(filename) // #nosec G304 -- filename is an internal backup path
	if err != nil {
		w.log.Warnw("compress: open failed", "file", filename, "error", err)
		return
	}
	defer source.Close()

	compressedName := filename + ".gz"
	tempName := compressedName + ".tmp"

	target, err := os.Create(tempName) // #nosec G304 -- tempName is internally generated
	if err != nil {
		w.log.Warnw("compress: create failed", "file", tempName, "error", err)
		return
	}

	gzWriter := gzip.NewWriter(target)
	if _, err := io.Copy(gzWriter, source); err != nil {
		gzWriter.Close()
		target.Close()
		os.Remove(tempName)
		w.log.Warnw("compress: copy failed", "file", filename, "error", err)
		return
	}
	if err := gzWriter.Close(); err != nil {
		target.Close()
		os.Remove(tempName)
		w.log.Warnw("compress: finalize failed", "file", filename, "error", err)
		return
	}
	if err := target.Close(); err != nil {
		os.Remove(tempName)
		w.log.Warnw("compress: close failed", "file", filename, "error", err)
		return
	}
	if err := os.Rename(tempName, compressedName); err != nil {
		os.Remove(tempName)
		w.log.Warnw("compress: rename failed", "from", tempName, "to", compressedName, "error", err)
		return
	}
	if err := os.Remove(filename); err != nil {
		w.log.Warnw("compress: cleanup of source failed", "file", filename, "error", err)
	}
}

func (w *FileWriter) generateChecksum(filename string) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		if !strings.HasSuffix(filename, ".gz") {
			if _, err := os.Stat(filename + ".gz"); err == nil {
				filename += ".gz"
			} else {
				w.log.Warnw("checksum: file not found", "file", filename)
				return
			}
		} else {
			w.log.Warnw("checksum: file not found", "file", filename)
			return
		}
	}

	file, err := os.Open(filename) // #nosec G304 -- filename is an internal backup path
	if err != nil {
		w.log.Warnw("checksum: open failed", "file", filename, "error", err)
		return
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		w.log.Warnw("checksum: read failed", "file", filename, "error", err)
		return
	}

	checksumFile := filename + ".sha256"
	content := fmt.Sprintf("%x  %s\n", hash.Sum(nil), filepath.Base(filename))
	if err := os.WriteFile(checksumFile, []byte(content), 0o600); err != nil {
		w.log.Warnw("checksum: write failed", "file", checksumFile, "error", err)
	}
}
