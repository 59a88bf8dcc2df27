package filereader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

const traceLine = `{"resourceSpans":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"api"}}]},"scopeSpans":[{"spans":[{"traceId":"0102030405060708090a0b0c0d0e0f10","spanId":"0102030405060708","name":"GET /"}]}]}]}`

const metricLine = `{"resourceMetrics":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"api"}}]},"scopeMetrics":[{"metrics":[{"name":"queue.depth","gauge":{"dataPoints":[{"timeUnixNano":"1700000000000000000","asInt":"4"}]}}]}]}]}`

type recordingStorage struct {
	mu      sync.Mutex
	spans   []*tracepb.ResourceSpans
	metrics []*metricspb.ResourceMetrics
}

func (r *recordingStorage) ReceiveSpans(ctx context.Context, rs []*tracepb.ResourceSpans) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, rs...)
	return nil
}

func (r *recordingStorage) ReceiveMetrics(ctx context.Context, rm []*metricspb.ResourceMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, rm...)
	return nil
}

func (r *recordingStorage) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spans), len(r.metrics)
}

func writeSignal(t *testing.T, dir, signal, name, content string) string {
	t.Helper()
	sigDir := filepath.Join(dir, signal)
	require.NoError(t, os.MkdirAll(sigDir, 0o755))
	path := filepath.Join(sigDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRejectsBadDirectory(t *testing.T) {
	_, err := New(Config{}, &recordingStorage{})
	assert.Error(t, err)

	_, err = New(Config{Directory: filepath.Join(t.TempDir(), "missing")}, &recordingStorage{})
	assert.Error(t, err)

	_, err = New(Config{Directory: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestInitialLoad(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "traces", "traces.jsonl", traceLine+"\n\nnot json\n")
	writeSignal(t, dir, "metrics", "metrics.jsonl", metricLine+"\n"+metricLine+"\n")
	writeSignal(t, dir, "metrics", "metrics-2025-12-09T13-10-56.jsonl", metricLine+"\n")

	storage := &recordingStorage{}
	fs, err := New(Config{Directory: dir, ActiveOnly: true}, storage)
	require.NoError(t, err)
	require.NoError(t, fs.Start(context.Background()))
	defer fs.Stop()

	spans, metrics := storage.counts()
	assert.Equal(t, 1, spans)
	assert.Equal(t, 2, metrics, "archived file should be skipped in active-only mode")
	assert.Equal(t, 2, fs.Stats().FilesTracked)
	assert.Equal(t, dir, fs.Directory())
}

func TestLoadLogsCarryDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "traces", "traces.jsonl", traceLine+"\n")

	core, logs := observer.New(zap.InfoLevel)
	fs, err := New(Config{Directory: dir, Logger: zap.New(core).Sugar()}, &recordingStorage{})
	require.NoError(t, err)
	require.NoError(t, fs.Start(context.Background()))
	defer fs.Stop()

	entries := logs.FilterMessage("loaded telemetry").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, dir, fields["directory"])
	assert.Equal(t, "traces", fields["signal"])
	assert.Equal(t, "traces.jsonl", fields["file"])
}

func TestInitialLoadIncludesArchives(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "metrics", "metrics.jsonl", metricLine+"\n")
	writeSignal(t, dir, "metrics", "metrics-2025-12-09T13-10-56.jsonl", metricLine+"\n")

	storage := &recordingStorage{}
	fs, err := New(Config{Directory: dir}, storage)
	require.NoError(t, err)
	require.NoError(t, fs.Start(context.Background()))
	defer fs.Stop()

	_, metrics := storage.counts()
	assert.Equal(t, 2, metrics)
}

func TestFollowsAppends(t *testing.T) {
	dir := t.TempDir()
	path := writeSignal(t, dir, "traces", "traces.jsonl", traceLine+"\n")

	storage := &recordingStorage{}
	fs, err := New(Config{Directory: dir, ActiveOnly: true}, storage)
	require.NoError(t, err)
	require.NoError(t, fs.Start(context.Background()))
	defer fs.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(traceLine + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Eventually(t, func() bool {
		spans, _ := storage.counts()
		return spans == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPartialLineIsDeferred(t *testing.T) {
	dir := t.TempDir()
	path := writeSignal(t, dir, "traces", "traces.jsonl", traceLine+"\n"+traceLine[:20])

	storage := &recordingStorage{}
	fs, err := New(Config{Directory: dir}, storage)
	require.NoError(t, err)
	defer fs.Stop()

	n, err := fs.loadTraceFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, os.WriteFile(path, []byte(traceLine+"\n"+traceLine+"\n"), 0o644))
	n, err = fs.loadTraceFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the completed line should be read")

	spans, _ := storage.counts()
	assert.Equal(t, 2, spans)
}
