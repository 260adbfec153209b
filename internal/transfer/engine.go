package transfer

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"s3mcp/internal/model"
)

// ObjectFetcher is what the engine needs from the storage adapter.
type ObjectFetcher interface {
	StatObject(ctx context.Context, bucket, key string) (model.ObjectInfo, error)
	GetObjectRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error)
}

// Options tune one engine instance. Zero values fall back to defaults.
type Options struct {
	DownloadDir    string
	ChunkSize      int64
	Window         int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

const (
	defaultChunkSize      = 8 << 20
	defaultWindow         = 4
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Engine moves object bytes from the store to local files with bounded chunk
// parallelism, strict in-order commits, bounded retries, and post-transfer
// integrity verification.
//
// Resume policy: a failed or cancelled transfer never resumes; the partial
// destination file is always deleted. Re-invoking the download starts from
// byte zero, which keeps the IntegrityError recovery path trivial (a stale
// partial file can never be stitched onto a newer object version).
type Engine struct {
	fetcher ObjectFetcher
	opts    Options
	log     zerolog.Logger

	completed atomic.Uint64
	failed    atomic.Uint64
	bytesDown atomic.Uint64
}

func NewEngine(fetcher ObjectFetcher, opts Options, log zerolog.Logger) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Window < 1 {
		opts.Window = defaultWindow
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join(os.TempDir(), "s3mcp")
	}
	return &Engine{fetcher: fetcher, opts: opts, log: log}
}

// Result is what a finished download exposes to the caller: the final task
// record plus the content checksum computed over the written bytes.
type Result struct {
	Task   *model.TransferTask
	SHA256 string
}

// Counters is a point-in-time snapshot for the stats tool.
type Counters struct {
	Completed        uint64
	Failed           uint64
	BytesTransferred uint64
}

func (e *Engine) Snapshot() Counters {
	return Counters{
		Completed:        e.completed.Load(),
		Failed:           e.failed.Load(),
		BytesTransferred: e.bytesDown.Load(),
	}
}

// Download transfers bucket/key into the engine's download directory. The
// returned task is always populated; on error its State is TaskFailed and the
// destination has been removed.
func (e *Engine) Download(ctx context.Context, bucket, key string) (Result, error) {
	task := &model.TransferTask{
		ID:        uuid.NewString(),
		Bucket:    bucket,
		Key:       key,
		State:     model.TaskPending,
		StartedAt: time.Now(),
	}

	info, err := e.fetcher.StatObject(ctx, bucket, key)
	if err != nil {
		return e.fail(task, err)
	}
	task.Object = info
	task.TotalBytes = info.SizeBytes

	dest, err := e.destinationPath(task.ID, key)
	if err != nil {
		return e.fail(task, err)
	}
	task.Destination = dest

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return e.fail(task, model.NewDestinationError("create download directory", err))
	}
	out, err := os.Create(dest)
	if err != nil {
		return e.fail(task, model.NewDestinationError("create destination file", err))
	}

	task.State = model.TaskRunning
	e.log.Info().Str("task", task.ID).Str("bucket", bucket).Str("key", key).
		Int64("size", info.SizeBytes).Msg("transfer started")

	digest, err := e.run(ctx, task, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = model.NewDestinationError("close destination file", closeErr)
	}
	if err == nil {
		err = e.verify(task, digest)
	}
	if err != nil {
		if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.log.Warn().Str("task", task.ID).Err(rmErr).Msg("partial file cleanup failed")
		}
		return e.fail(task, err)
	}

	task.State = model.TaskCompleted
	task.FinishedAt = time.Now()
	e.completed.Add(1)
	e.bytesDown.Add(uint64(task.BytesTransferred))
	e.log.Info().Str("task", task.ID).Str("dest", dest).
		Int64("bytes", task.BytesTransferred).
		Dur("elapsed", task.FinishedAt.Sub(task.StartedAt)).Msg("transfer completed")
	return Result{Task: task, SHA256: hex.EncodeToString(digest.sha[:])}, nil
}

type digests struct {
	sha [sha256.Size]byte
	md5 [md5.Size]byte
}

type fetchedChunk struct {
	data []byte
	err  error
}

// run streams every chunk to out. Up to opts.Window fetches are in flight at
// once; commits happen strictly in chunk order so the file is never written
// out of sequence.
func (e *Engine) run(ctx context.Context, task *model.TransferTask, out *os.File) (digests, error) {
	var dg digests
	total := task.TotalBytes
	if total == 0 {
		// Zero-byte object: a single no-op chunk.
		dg.sha = sha256.Sum256(nil)
		dg.md5 = md5.Sum(nil)
		return dg, nil
	}

	chunkSize := e.opts.ChunkSize
	numChunks := int((total + chunkSize - 1) / chunkSize)
	results := make([]chan fetchedChunk, numChunks)
	for i := range results {
		results[i] = make(chan fetchedChunk, 1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, fetchCtx := errgroup.WithContext(runCtx)
	g.SetLimit(e.opts.Window)
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i := 0; i < numChunks; i++ {
			i := i
			if fetchCtx.Err() != nil {
				results[i] <- fetchedChunk{err: fetchCtx.Err()}
				continue
			}
			g.Go(func() error {
				offset := int64(i) * chunkSize
				length := chunkSize
				if offset+length > total {
					length = total - offset
				}
				data, err := e.fetchChunkWithRetry(fetchCtx, task, offset, length)
				results[i] <- fetchedChunk{data: data, err: err}
				return err
			})
		}
	}()

	shaHash := sha256.New()
	md5Hash := md5.New()
	var written int64
	for i := 0; i < numChunks; i++ {
		res := <-results[i]
		if res.err != nil {
			cancel()
			<-producerDone
			// The ordered commit may observe a context error from a chunk
			// that was aborted because a later chunk failed first; g.Wait
			// holds the root cause in that case.
			waitErr := g.Wait()
			cause := res.err
			if ctx.Err() == nil && waitErr != nil &&
				(errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
				cause = waitErr
			}
			return dg, e.classifyAbort(ctx, cause)
		}
		if _, err := out.Write(res.data); err != nil {
			cancel()
			<-producerDone
			_ = g.Wait()
			return dg, model.NewDestinationError(fmt.Sprintf("write chunk %d", i), err)
		}
		shaHash.Write(res.data)
		md5Hash.Write(res.data)
		written += int64(len(res.data))
		task.BytesTransferred = written
	}
	if err := g.Wait(); err != nil {
		return dg, e.classifyAbort(ctx, err)
	}

	copy(dg.sha[:], shaHash.Sum(nil))
	copy(dg.md5[:], md5Hash.Sum(nil))
	return dg, nil
}

// fetchChunkWithRetry fetches one byte range, retrying connectivity-class
// failures with exponential backoff up to the configured budget.
func (e *Engine) fetchChunkWithRetry(ctx context.Context, task *model.TransferTask, offset, length int64) ([]byte, error) {
	delay := e.opts.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			e.log.Warn().Str("task", task.ID).Int64("offset", offset).
				Int("attempt", attempt).Err(lastErr).Msg("retrying chunk fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		data, err := e.fetcher.GetObjectRange(ctx, task.Bucket, task.Key, offset, length)
		if err == nil {
			if int64(len(data)) != length {
				// The object shrank between stat and fetch.
				return nil, model.NewIntegrityError(
					fmt.Sprintf("chunk at offset %d returned %d bytes, expected %d", offset, len(data), length), nil)
			}
			return data, nil
		}
		lastErr = err
		if !model.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// verify enforces the size/checksum invariant: what was written must match
// the metadata reported by the stat that created the task.
func (e *Engine) verify(task *model.TransferTask, dg digests) error {
	if task.BytesTransferred != task.TotalBytes {
		return model.NewIntegrityError(
			fmt.Sprintf("wrote %d bytes, expected %d", task.BytesTransferred, task.TotalBytes), nil)
	}
	// A plain-MD5 ETag (no multipart suffix) is a content checksum we can
	// recompute; anything else only supports the size check above.
	etag := task.Object.ETag
	if len(etag) == 32 && !strings.Contains(etag, "-") {
		if got := hex.EncodeToString(dg.md5[:]); !strings.EqualFold(got, etag) {
			return model.NewIntegrityError(
				fmt.Sprintf("checksum mismatch: got %s, expected %s", got, etag), nil)
		}
	}
	return nil
}

// classifyAbort distinguishes a caller cancel/deadline from a transfer error.
func (e *Engine) classifyAbort(ctx context.Context, err error) error {
	if _, ok := model.AsError(err); ok {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeoutError("transfer deadline exceeded", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return model.NewCancelledError("transfer cancelled", err)
	}
	return err
}

func (e *Engine) fail(task *model.TransferTask, err error) (Result, error) {
	task.State = model.TaskFailed
	task.Err = err
	task.FinishedAt = time.Now()
	e.failed.Add(1)
	e.log.Error().Str("task", task.ID).Str("bucket", task.Bucket).
		Str("key", task.Key).Err(err).Msg("transfer failed")
	return Result{Task: task}, err
}

// destinationPath derives a per-task local path under the download dir. The
// task ID segment keeps concurrent downloads of the same key from colliding;
// the key's base name is preserved so the chat client sees a sensible file.
func (e *Engine) destinationPath(taskID, key string) (string, error) {
	base := filepath.Base(filepath.FromSlash(key))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", model.NewSchemaValidationError(fmt.Sprintf("invalid object key %q", key))
	}
	return filepath.Join(e.opts.DownloadDir, taskID, base), nil
}
