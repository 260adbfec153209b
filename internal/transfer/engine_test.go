package transfer

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3mcp/internal/model"
	"s3mcp/internal/protocol"
)

type fakeFetcher struct {
	mu          sync.Mutex
	content     []byte
	etag        string
	contentType string
	statErr     error

	fetchCalls int
	// failuresAt maps a chunk offset to the number of transient failures to
	// inject before letting the fetch succeed.
	failuresAt map[int64]int
	// shortAt returns fewer bytes than requested at this offset when >= 0.
	shortAt int64
	// blockUntilCancel makes every fetch wait for ctx cancellation.
	blockUntilCancel bool
}

func newFakeFetcher(content []byte) *fakeFetcher {
	sum := md5.Sum(content)
	return &fakeFetcher{
		content:     content,
		etag:        hex.EncodeToString(sum[:]),
		contentType: "application/octet-stream",
		failuresAt:  map[int64]int{},
		shortAt:     -1,
	}
}

func (f *fakeFetcher) StatObject(_ context.Context, bucket, key string) (model.ObjectInfo, error) {
	if f.statErr != nil {
		return model.ObjectInfo{}, f.statErr
	}
	return model.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		SizeBytes:    int64(len(f.content)),
		LastModified: time.Now(),
		ContentType:  f.contentType,
		ETag:         f.etag,
	}, nil
}

func (f *fakeFetcher) GetObjectRange(ctx context.Context, _, _ string, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	f.fetchCalls++
	if remaining, ok := f.failuresAt[offset]; ok && remaining > 0 {
		f.failuresAt[offset] = remaining - 1
		f.mu.Unlock()
		return nil, model.NewConnectivityError("injected network failure", nil)
	}
	f.mu.Unlock()

	if f.blockUntilCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if offset > int64(len(f.content)) {
		return nil, model.NewRangeNotSatisfiableError("offset beyond object size", nil)
	}
	end := offset + length
	if end > int64(len(f.content)) {
		end = int64(len(f.content))
	}
	data := append([]byte(nil), f.content[offset:end]...)
	if f.shortAt >= 0 && offset == f.shortAt && len(data) > 1 {
		data = data[:len(data)-1]
	}
	return data, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func testEngine(t *testing.T, fetcher *fakeFetcher, opts Options) *Engine {
	t.Helper()
	if opts.DownloadDir == "" {
		opts.DownloadDir = t.TempDir()
	}
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
	}
	return NewEngine(fetcher, opts, zerolog.Nop())
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestDownload_SingleChunkLargerThanObject(t *testing.T) {
	content := randomBytes(t, 2_048_000)
	fetcher := newFakeFetcher(content)
	engine := testEngine(t, fetcher, Options{ChunkSize: 8 << 20})

	res, err := engine.Download(context.Background(), "docs", "report.pdf")
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls(), "a file smaller than the chunk size needs exactly one fetch")
	assert.Equal(t, model.TaskCompleted, res.Task.State)
	assert.Equal(t, int64(len(content)), res.Task.BytesTransferred)
	assert.Equal(t, "docs", res.Task.Object.Bucket)
	assert.Equal(t, "report.pdf", res.Task.Object.Key)

	written, err := os.ReadFile(res.Task.Destination)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, written))

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)
}

func TestDownload_MultiChunkOrderedWrites(t *testing.T) {
	content := randomBytes(t, 1<<20+137)
	fetcher := newFakeFetcher(content)
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10, Window: 4})

	res, err := engine.Download(context.Background(), "b", "large.bin")
	require.NoError(t, err)

	written, err := os.ReadFile(res.Task.Destination)
	require.NoError(t, err)
	require.True(t, bytes.Equal(content, written), "parallel fetches must commit in order")
	assert.GreaterOrEqual(t, fetcher.calls(), 17)
}

func TestDownload_ZeroByteObject(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	engine := testEngine(t, fetcher, Options{})

	res, err := engine.Download(context.Background(), "b", "empty.txt")
	require.NoError(t, err)

	assert.Equal(t, 0, fetcher.calls())
	assert.Equal(t, model.TaskCompleted, res.Task.State)
	info, err := os.Stat(res.Task.Destination)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDownload_RetriesTransientFailureOnMiddleChunk(t *testing.T) {
	// 40 MiB object, 8 MiB chunks: five chunks; chunk 3 (index 2) fails twice.
	content := randomBytes(t, 40 << 20)
	fetcher := newFakeFetcher(content)
	fetcher.failuresAt[2*(8<<20)] = 2
	engine := testEngine(t, fetcher, Options{ChunkSize: 8 << 20, Window: 2, MaxRetries: 3})

	res, err := engine.Download(context.Background(), "b", "payload.bin")
	require.NoError(t, err)

	written, err := os.ReadFile(res.Task.Destination)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, written), "recovered transfer must be byte-identical")
	assert.Equal(t, 5+2, fetcher.calls())
}

func TestDownload_RetriesExhausted(t *testing.T) {
	content := randomBytes(t, 256 << 10)
	fetcher := newFakeFetcher(content)
	fetcher.failuresAt[0] = 10
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10, MaxRetries: 2})

	res, err := engine.Download(context.Background(), "b", "flaky.bin")
	require.Error(t, err)

	assert.Equal(t, model.TaskFailed, res.Task.State)
	assert.Equal(t, protocol.ErrorKindConnectivity, model.KindOf(err))
	_, statErr := os.Stat(res.Task.Destination)
	assert.True(t, os.IsNotExist(statErr), "partial file must be removed on failure")
}

func TestDownload_ChecksumMismatch(t *testing.T) {
	content := randomBytes(t, 128 << 10)
	fetcher := newFakeFetcher(content)
	// Pretend the stat reported a different plain-MD5 checksum, as if the
	// object was replaced between stat and fetch.
	fetcher.etag = "00000000000000000000000000000000"
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10})

	res, err := engine.Download(context.Background(), "b", "mutated.bin")
	require.Error(t, err)

	assert.Equal(t, protocol.ErrorKindIntegrity, model.KindOf(err))
	assert.Equal(t, model.TaskFailed, res.Task.State)
	_, statErr := os.Stat(res.Task.Destination)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_ShortChunkDetected(t *testing.T) {
	content := randomBytes(t, 256 << 10)
	fetcher := newFakeFetcher(content)
	fetcher.shortAt = 64 << 10
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10})

	_, err := engine.Download(context.Background(), "b", "shrunk.bin")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindIntegrity, model.KindOf(err))
}

func TestDownload_MultipartETagSkipsChecksum(t *testing.T) {
	content := randomBytes(t, 128 << 10)
	fetcher := newFakeFetcher(content)
	// Multipart-style ETag is not a content MD5; only the size check applies.
	fetcher.etag = "9b2cf535f27731c974343645a3985328-4"
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10})

	_, err := engine.Download(context.Background(), "b", "multipart.bin")
	require.NoError(t, err)
}

func TestDownload_Cancellation(t *testing.T) {
	content := randomBytes(t, 256 << 10)
	fetcher := newFakeFetcher(content)
	fetcher.blockUntilCancel = true
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10, Window: 2})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := engine.Download(ctx, "b", "cancelled.bin")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindCancelled, model.KindOf(err))
	assert.Equal(t, model.TaskFailed, res.Task.State)
	_, statErr := os.Stat(res.Task.Destination)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_Timeout(t *testing.T) {
	content := randomBytes(t, 256 << 10)
	fetcher := newFakeFetcher(content)
	fetcher.blockUntilCancel = true
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Download(ctx, "b", "slow.bin")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindTimeout, model.KindOf(err))
}

func TestDownload_IdempotentContent(t *testing.T) {
	content := randomBytes(t, 300 << 10)
	fetcher := newFakeFetcher(content)
	engine := testEngine(t, fetcher, Options{ChunkSize: 64 << 10})

	first, err := engine.Download(context.Background(), "b", "same.bin")
	require.NoError(t, err)
	second, err := engine.Download(context.Background(), "b", "same.bin")
	require.NoError(t, err)

	a, err := os.ReadFile(first.Task.Destination)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Task.Destination)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.NotEqual(t, first.Task.Destination, second.Task.Destination,
		"each task gets its own destination directory")
}

func TestDownload_StatFailurePropagates(t *testing.T) {
	fetcher := newFakeFetcher([]byte("x"))
	fetcher.statErr = model.NewNotFoundError("no such key", nil)
	engine := testEngine(t, fetcher, Options{})

	res, err := engine.Download(context.Background(), "b", "missing.txt")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindNotFound, model.KindOf(err))
	assert.Equal(t, model.TaskFailed, res.Task.State)
	assert.Zero(t, fetcher.calls())
}

func TestDownload_KeyBaseNameMayContainDots(t *testing.T) {
	content := randomBytes(t, 4 << 10)
	fetcher := newFakeFetcher(content)
	engine := testEngine(t, fetcher, Options{})

	res, err := engine.Download(context.Background(), "b", "diffs/v1..v2.diff")
	require.NoError(t, err)
	assert.Equal(t, "v1..v2.diff", filepath.Base(res.Task.Destination))
}

func TestDownload_ParentTraversalKeyRejected(t *testing.T) {
	fetcher := newFakeFetcher([]byte("x"))
	engine := testEngine(t, fetcher, Options{})

	_, err := engine.Download(context.Background(), "b", "secrets/..")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindSchemaValidation, model.KindOf(err))
}

func TestDownload_UnwritableDestination(t *testing.T) {
	content := randomBytes(t, 4 << 10)
	fetcher := newFakeFetcher(content)

	// A regular file in place of the download dir makes every MkdirAll under
	// it fail, regardless of the uid the tests run as.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	engine := testEngine(t, fetcher, Options{DownloadDir: blocker})

	res, err := engine.Download(context.Background(), "b", "a.bin")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindDestination, model.KindOf(err))
	assert.False(t, model.IsRetryable(err), "local sink failures must not be retried")
	assert.Equal(t, model.TaskFailed, res.Task.State)
}

func TestSnapshotCounters(t *testing.T) {
	content := randomBytes(t, 10 << 10)
	fetcher := newFakeFetcher(content)
	engine := testEngine(t, fetcher, Options{})

	_, err := engine.Download(context.Background(), "b", "a.bin")
	require.NoError(t, err)
	fetcher.statErr = model.NewNotFoundError("gone", nil)
	_, err = engine.Download(context.Background(), "b", "b.bin")
	require.Error(t, err)

	counters := engine.Snapshot()
	assert.Equal(t, uint64(1), counters.Completed)
	assert.Equal(t, uint64(1), counters.Failed)
	assert.Equal(t, uint64(10 << 10), counters.BytesTransferred)
}
