// Package downloader drives the end-to-end download of a single staged
// file: fetching ciphertext parts concurrently from a presigned URL,
// reassembling them in order through a priority-queue reorder buffer,
// and envelope-decrypting the resulting stream to the destination file.
package downloader

import (
	"bytes"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
	"github.com/ghga-de/ghga-connector/internal/logging"
	"github.com/ghga-de/ghga-connector/internal/partplan"
	"github.com/ghga-de/ghga-connector/internal/progress"
)

// downloadedPart is one completed range download, buffered in memory
// until it is its turn to be written to the reassembly stream.
type downloadedPart struct {
	number int
	data   []byte
}

// partHeap is a min-heap of downloadedPart ordered by part number,
// realizing the priority queue that reorders out-of-order completions
// from concurrent range downloads back into a single sequential stream.
type partHeap []downloadedPart

func (h partHeap) Len() int            { return len(h) }
func (h partHeap) Less(i, j int) bool  { return h[i].number < h[j].number }
func (h partHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *partHeap) Push(x interface{}) { *h = append(*h, x.(downloadedPart)) }
func (h *partHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// reorderBuffer accepts completed parts in any order and releases them,
// via a condition variable, strictly in ascending part-number order.
type reorderBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    partHeap
	next    int
	done    bool
	doneErr error
}

func newReorderBuffer(firstPart int) *reorderBuffer {
	b := &reorderBuffer{next: firstPart}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *reorderBuffer) push(p downloadedPart) {
	b.mu.Lock()
	heap.Push(&b.heap, p)
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *reorderBuffer) fail(err error) {
	b.mu.Lock()
	b.done = true
	b.doneErr = err
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *reorderBuffer) closeWhenDrained() {
	b.mu.Lock()
	b.done = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// pop blocks until the part numbered b.next is available, returning it
// and advancing, or returns ok=false with the failure once fail has been
// called, or once the buffer is closed and drained.
func (b *reorderBuffer) pop() (downloadedPart, error, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if len(b.heap) > 0 && b.heap[0].number == b.next {
			p := heap.Pop(&b.heap).(downloadedPart)
			b.next++
			return p, nil, true
		}
		if b.done && (b.doneErr != nil || len(b.heap) == 0) {
			return downloadedPart{}, b.doneErr, false
		}
		b.cond.Wait()
	}
}

// Downloader orchestrates a single file's concurrent range download and
// envelope decryption.
type Downloader struct {
	httpClient     *httpclient.Client
	logger         *logging.Logger
	maxConcurrency int
}

// New builds a Downloader.
func New(httpClient *httpclient.Client, logger *logging.Logger, maxConcurrency int) *Downloader {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Downloader{httpClient: httpClient, logger: logger, maxConcurrency: maxConcurrency}
}

// Result summarizes a completed download.
type Result struct {
	PlaintextSHA256 string
}

// urlRefreshFn re-resolves a fresh presigned download URL, used when a
// range request's URL has expired mid-download.
type urlRefreshFn func(ctx context.Context) (string, error)

// Download reads the pre-fetched Crypt4GH envelope, then fetches
// encryptedSize bytes of ciphertext from presignedURL in partSize
// chunks, bounded to d.maxConcurrency concurrent range requests,
// reassembles them in order, and writes the envelope-decrypted
// plaintext to destPath. A range request that comes back unauthorized
// is retried once against a freshly resolved URL via refreshURL, since
// presigned S3 URLs expire; refreshURL may be nil to disable this.
func (d *Downloader) Download(ctx context.Context, presignedURL, destPath string, envelope []byte, encryptedSize, partSize int64, recipient *crypt4gh.KeyPair, refreshURL urlRefreshFn, reporter progress.Reporter) (*Result, error) {
	env, err := crypt4gh.ParseEnvelopeHeader(bytes.NewReader(envelope), recipient)
	if err != nil {
		return nil, fmt.Errorf("parsing envelope header: %w", err)
	}

	ranges, err := partplan.CalcPartRanges(partSize, encryptedSize, 1)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("file has no content to download")
	}

	if reporter != nil {
		reporter.Start(encryptedSize, destPath)
	}

	tmpPath := destPath + ".part"
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating temporary file %q: %w", tmpPath, err)
	}
	defer out.Close()

	pr, pw := io.Pipe()
	buf := newReorderBuffer(ranges[0].PartNumber)

	group, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(d.maxConcurrency))

	for _, r := range ranges {
		r := r
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			data, err := d.fetchRange(gctx, presignedURL, refreshURL, r)
			if err != nil {
				buf.fail(err)
				return err
			}
			buf.push(downloadedPart{number: r.PartNumber, data: data})
			return nil
		})
	}

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- drainReorderBuffer(buf, pw, len(ranges))
	}()

	go func() {
		if err := group.Wait(); err != nil {
			buf.fail(err)
		} else {
			buf.closeWhenDrained()
		}
	}()

	checksums := crypt4gh.NewChecksums()
	decryptDone := make(chan error, 1)
	go func() {
		decryptDone <- decryptStream(pr, out, env, checksums, nonNilReporter(reporter))
	}()

	if werr := <-writerDone; werr != nil {
		pw.CloseWithError(werr)
	} else {
		pw.Close()
	}

	if err := <-decryptDone; err != nil {
		return nil, err
	}

	if err := out.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, &ghgaerrors.RenameDownloadedFileError{From: tmpPath, To: destPath, Err: err}
	}

	if reporter != nil {
		reporter.Finish()
	}

	return &Result{PlaintextSHA256: checksums.PlaintextSHA256()}, nil
}

// fetchRange downloads a single byte range, retrying once against a
// freshly resolved URL if the presigned URL has expired.
func (d *Downloader) fetchRange(ctx context.Context, url string, refreshURL urlRefreshFn, r partplan.Range) ([]byte, error) {
	data := make([]byte, 0, r.Size())
	w := &sliceWriter{buf: &data}

	_, err := d.httpClient.StreamTo(ctx, url, r.Start, r.End-1, w)
	if err == nil {
		return *w.buf, nil
	}

	var unauthorized *ghgaerrors.UnauthorizedAPICallError
	if refreshURL == nil || !errors.As(err, &unauthorized) {
		return nil, &ghgaerrors.DownloadError{Reason: err.Error()}
	}

	freshURL, refreshErr := refreshURL(ctx)
	if refreshErr != nil {
		return nil, &ghgaerrors.DownloadError{Reason: refreshErr.Error()}
	}

	if d.logger != nil {
		d.logger.Debugf("retrying part %d with a fresh presigned URL after 403", r.PartNumber)
	}

	*w.buf = (*w.buf)[:0]
	if _, err := d.httpClient.StreamTo(ctx, freshURL, r.Start, r.End-1, w); err != nil {
		return nil, &ghgaerrors.DownloadError{Reason: err.Error()}
	}
	return *w.buf, nil
}

// drainReorderBuffer pops parts off buf in order and writes them to w
// until count parts have been written or the buffer reports failure.
func drainReorderBuffer(buf *reorderBuffer, w io.Writer, count int) error {
	written := 0
	for written < count {
		p, err, ok := buf.pop()
		if !ok {
			if err != nil {
				return err
			}
			return fmt.Errorf("reorder buffer drained early: got %d of %d parts", written, count)
		}
		if _, err := w.Write(p.data); err != nil {
			return err
		}
		written++
	}
	return nil
}

// decryptStream streams decrypted plaintext segments from r, using the
// already-parsed envelope env, to out, accumulating the whole-file
// checksum.
func decryptStream(r io.Reader, out io.Writer, env *crypt4gh.Envelope, checksums *crypt4gh.Checksums, reporter progress.Reporter) error {
	decryptor, err := crypt4gh.NewDecryptor(r, env)
	if err != nil {
		return err
	}

	var total int64
	for {
		plain, err := decryptor.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		checksums.UpdatePlaintext(plain)
		if _, err := out.Write(plain); err != nil {
			return err
		}

		total += int64(len(plain))
		reporter.Update(total)
	}

	return nil
}

// sliceWriter implements io.Writer by appending to a pointer-to-slice,
// used to buffer one range download without a separate bytes.Buffer
// allocation per call.
type sliceWriter struct {
	buf *[]byte
}

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}

func nonNilReporter(r progress.Reporter) progress.Reporter {
	if r == nil {
		return progress.NewNoOpProgress()
	}
	return r
}
