// Package filereader replays OTLP telemetry from JSONL files written by the
// OpenTelemetry Collector's file exporter. Lines are fed into the same store
// the gRPC receiver writes to, so charts over file data update live as the
// collector appends.
package filereader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
)

const (
	// OTLP JSON lines can be large for batched spans with many attributes.
	jsonlBufferInitial = 1 * 1024 * 1024
	jsonlBufferMax     = 10 * 1024 * 1024
)

// Signals read from a source directory. Each is a subdirectory holding
// <signal>.jsonl and its rotated archives.
var signals = []string{"traces", "metrics"}

// StorageReceiver receives decoded telemetry.
type StorageReceiver interface {
	ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error
	ReceiveMetrics(ctx context.Context, resourceMetrics []*metricspb.ResourceMetrics) error
}

// FileSource reads OTLP telemetry from a directory of JSONL files and
// follows appends.
type FileSource struct {
	directory  string
	storage    StorageReceiver
	logger     *zap.SugaredLogger
	activeOnly bool

	watcher *fsnotify.Watcher

	// Read offsets so appends are read once.
	mu          sync.Mutex
	fileOffsets map[string]int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration for a FileSource.
type Config struct {
	Directory string // Base directory, e.g. /tank/otel
	Logger    *zap.SugaredLogger

	// ActiveOnly loads only traces.jsonl and metrics.jsonl, skipping
	// rotated archives like traces-2025-12-09T13-10-56.jsonl.
	ActiveOnly bool
}

// New creates a FileSource for the given directory. The directory should
// contain traces/ and metrics/ subdirectories; either may be missing.
func New(cfg Config, storage StorageReceiver) (*FileSource, error) {
	if cfg.Directory == "" {
		return nil, errors.New("directory is required")
	}
	if storage == nil {
		return nil, errors.New("storage cannot be nil")
	}

	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", cfg.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Directory)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FileSource{
		directory:   cfg.Directory,
		storage:     storage,
		logger:      logger.With("directory", cfg.Directory),
		activeOnly:  cfg.ActiveOnly,
		watcher:     watcher,
		fileOffsets: make(map[string]int64),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start loads existing files and then follows appends in the background.
// It returns once the initial load completes.
func (fs *FileSource) Start(ctx context.Context) error {
	for _, signal := range signals {
		dir := filepath.Join(fs.directory, signal)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fs.watcher.Add(dir); err != nil {
			fs.logger.Warnw("could not watch directory", "path", dir, "error", err)
		} else {
			fs.logger.Debugw("watching directory", "path", dir)
		}
	}

	if err := fs.loadInitialData(ctx); err != nil {
		return fmt.Errorf("initial data load failed: %w", err)
	}

	fs.wg.Add(1)
	go fs.watchLoop()

	return nil
}

// Stop stops the file watcher and waits for the watch loop to exit.
func (fs *FileSource) Stop() {
	fs.cancel()
	fs.watcher.Close()
	fs.wg.Wait()
}

// Directory returns the base directory being watched.
func (fs *FileSource) Directory() string {
	return fs.directory
}

func (fs *FileSource) loadInitialData(ctx context.Context) error {
	for _, signal := range signals {
		files, err := fs.findJSONLFiles(filepath.Join(fs.directory, signal))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		for _, file := range files {
			count, err := fs.load(ctx, signal, file)
			if err != nil {
				fs.logger.Warnw("error loading file", "file", file, "error", err)
				continue
			}
			if count > 0 {
				fs.logger.Infow("loaded telemetry", "signal", signal, "lines", count, "file", filepath.Base(file))
			}
		}
	}

	return nil
}

// findJSONLFiles returns the .jsonl files in dir, oldest first.
func (fs *FileSource) findJSONLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	activeFileName := filepath.Base(dir) + ".jsonl"

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo

	for _, entry := range entries {
		if entry.IsDir() || !isJSONL(entry.Name()) {
			continue
		}
		if fs.activeOnly && entry.Name() != activeFileName {
			fs.logger.Debugw("skipping archived file", "file", entry.Name())
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	result := make([]string, len(files))
	for i, f := range files {
		result[i] = f.path
	}
	return result, nil
}

func isJSONL(name string) bool {
	return strings.HasSuffix(name, ".jsonl") || strings.Contains(name, ".jsonl.")
}

func (fs *FileSource) load(ctx context.Context, signal, path string) (int, error) {
	switch signal {
	case "traces":
		return fs.loadTraceFile(ctx, path)
	case "metrics":
		return fs.loadMetricFile(ctx, path)
	}
	return 0, nil
}

func (fs *FileSource) loadTraceFile(ctx context.Context, path string) (int, error) {
	return fs.processFile(ctx, path, func(line []byte) error {
		var data tracepb.TracesData
		if err := protojson.Unmarshal(line, &data); err != nil {
			return fmt.Errorf("parse trace JSON: %w", err)
		}
		if len(data.ResourceSpans) > 0 {
			return fs.storage.ReceiveSpans(ctx, data.ResourceSpans)
		}
		return nil
	})
}

func (fs *FileSource) loadMetricFile(ctx context.Context, path string) (int, error) {
	return fs.processFile(ctx, path, func(line []byte) error {
		var data metricspb.MetricsData
		if err := protojson.Unmarshal(line, &data); err != nil {
			return fmt.Errorf("parse metric JSON: %w", err)
		}
		if len(data.ResourceMetrics) > 0 {
			return fs.storage.ReceiveMetrics(ctx, data.ResourceMetrics)
		}
		return nil
	})
}

// processFile reads path from the last known offset, calling handler for
// each non-empty line, and returns the number of lines handled.
func (fs *FileSource) processFile(ctx context.Context, path string, handler func([]byte) error) (int, error) {
	fs.mu.Lock()
	offset := fs.fileOffsets[path]
	fs.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	// A file shorter than the offset was truncated or rotated in place.
	if info, err := file.Stat(); err == nil && info.Size() < offset {
		offset = 0
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			offset = 0
		}
	}

	// Only complete lines are consumed; a partially written trailing line
	// is picked up on the next write event.
	reader := bufio.NewReaderSize(file, jsonlBufferInitial)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			line, err = readLongLine(reader, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return count, fmt.Errorf("reading %s: %w", path, err)
		}

		offset += int64(len(line))
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}

		if err := handler(line); err != nil {
			fs.logger.Debugw("skipping bad line", "file", filepath.Base(path), "error", err)
			continue
		}
		count++
	}

	fs.mu.Lock()
	fs.fileOffsets[path] = offset
	fs.mu.Unlock()

	return count, nil
}

// readLongLine continues a line that overflowed the reader buffer, up to
// jsonlBufferMax bytes.
func readLongLine(reader *bufio.Reader, prefix []byte) ([]byte, error) {
	buf := append([]byte(nil), prefix...)
	for {
		chunk, err := reader.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > jsonlBufferMax {
			return nil, fmt.Errorf("line exceeds %d bytes", jsonlBufferMax)
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return buf, err
		}
	}
}

func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

func (fs *FileSource) watchLoop() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.ctx.Done():
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isJSONL(event.Name) {
				continue
			}
			if fs.activeOnly && filepath.Base(event.Name) != filepath.Base(filepath.Dir(event.Name))+".jsonl" {
				continue
			}

			signal := filepath.Base(filepath.Dir(event.Name))
			count, err := fs.load(fs.ctx, signal, event.Name)
			if err != nil {
				fs.logger.Warnw("error reading file", "file", event.Name, "error", err)
			} else if count > 0 {
				fs.logger.Debugw("loaded new telemetry", "signal", signal, "lines", count, "file", filepath.Base(event.Name))
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warnw("watcher error", "error", err)
		}
	}
}

// Stats describes a file source.
type Stats struct {
	Directory    string   `json:"directory"`
	WatchedDirs  []string `json:"watched_dirs"`
	FilesTracked int      `json:"files_tracked"`
}

// Stats returns current statistics.
func (fs *FileSource) Stats() Stats {
	fs.mu.Lock()
	filesTracked := len(fs.fileOffsets)
	fs.mu.Unlock()

	return Stats{
		Directory:    fs.directory,
		WatchedDirs:  fs.watcher.WatchList(),
		FilesTracked: filesTracked,
	}
}
