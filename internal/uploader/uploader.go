// Package uploader drives the end-to-end upload of a single file:
// envelope-encrypting its plaintext, splitting the ciphertext into
// parts, and pushing those parts to presigned URLs with bounded
// concurrency.
package uploader

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/logging"
	"github.com/ghga-de/ghga-connector/internal/partplan"
	"github.com/ghga-de/ghga-connector/internal/progress"
	"github.com/ghga-de/ghga-connector/internal/uploadapi"
)

// part is one ciphertext part buffered in memory, ready to upload.
type part struct {
	number int
	data   []byte
}

// Uploader orchestrates a single file's envelope encryption and
// multipart upload.
type Uploader struct {
	api            *uploadapi.Client
	logger         *logging.Logger
	maxConcurrency int
}

// New builds an Uploader.
func New(api *uploadapi.Client, logger *logging.Logger, maxConcurrency int) *Uploader {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Uploader{api: api, logger: logger, maxConcurrency: maxConcurrency}
}

// Result summarizes a completed upload for the caller to pass to
// CompleteFileUpload.
type Result struct {
	PlaintextSHA256 string
	EncryptedSHA256 string
	PartMD5Sums     []string
	PartSHA256Sums  []string
	EncryptedSize   int64
}

// Upload streams plaintextPath through envelope encryption, partitions
// the resulting ciphertext into object-store parts sized by partSizeMiB
// (adjusted upward if needed to respect the part-count budget), and
// uploads each part to its own presigned URL obtained from the upload
// API, bounded to u.maxConcurrency concurrent part uploads.
func (u *Uploader) Upload(ctx context.Context, plaintextPath, boxID, fileID string, sender *crypt4gh.KeyPair, recipientPublicKey [32]byte, partSizeMiB int64, wot string, reporter progress.Reporter) (*Result, error) {
	f, err := os.Open(plaintextPath)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", plaintextPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if reporter != nil {
		reporter.Start(info.Size(), plaintextPath)
	}
	countingReader := progress.NewReader(f, nonNilReporter(reporter))

	checksums := crypt4gh.NewChecksums()
	hashedReader := io.TeeReader(countingReader, plaintextHashWriter{checksums})

	encryptor, err := crypt4gh.NewEncryptor(hashedReader, sender, recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	partSizeBytes := partSizeMiB * 1024 * 1024
	// The ciphertext size isn't known until encryption finishes, so the
	// part size is adjusted against the estimated worst case: plaintext
	// size plus header plus per-segment AEAD overhead.
	estimatedCiphertextSize := estimateCiphertextSize(info.Size()) + int64(encryptor.HeaderLength())
	adjustedPartSize, err := partplan.CheckAdjustPartSize(partSizeBytes, estimatedCiphertextSize)
	if err != nil {
		return nil, err
	}

	parts := make(chan part)
	group, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(u.maxConcurrency))

	group.Go(func() error {
		return u.uploadParts(gctx, sem, boxID, fileID, wot, parts)
	})

	group.Go(func() error {
		defer close(parts)
		return u.produceParts(gctx, encryptor, checksums, adjustedPartSize, parts)
	})

	if err := group.Wait(); err != nil {
		if reporter != nil {
			reporter.Error(err)
		}
		return nil, err
	}

	expectedEncryptedSize := estimateCiphertextSize(info.Size())
	if encryptor.EncryptedSize() != expectedEncryptedSize {
		err := &ghgaerrors.EncryptedSizeMismatchError{
			ActualSize:   encryptor.EncryptedSize(),
			ExpectedSize: expectedEncryptedSize,
		}
		if reporter != nil {
			reporter.Error(err)
		}
		return nil, err
	}

	if reporter != nil {
		reporter.Finish()
	}

	return &Result{
		PlaintextSHA256: checksums.PlaintextSHA256(),
		EncryptedSHA256: checksums.EncryptedSHA256(),
		PartMD5Sums:     checksums.PartMD5Sums(),
		PartSHA256Sums:  checksums.PartSHA256Sums(),
		EncryptedSize:   encryptor.EncryptedSize(),
	}, nil
}

// produceParts drives the encryptor, appending whole ciphertext segments
// to a buffer (the header is prepended to the first part) and sending the
// buffer downstream as a part once it holds at least partSize bytes,
// tracking the per-part ciphertext checksums as it goes. Parts end on
// segment boundaries: every part but the last holds at least partSize
// bytes and may exceed it by up to one segment, so parts are not cut at
// exactly partSize.
func (u *Uploader) produceParts(ctx context.Context, encryptor *crypt4gh.Encryptor, checksums *crypt4gh.Checksums, partSize int64, out chan<- part) error {
	partNumber := 1
	buf := make([]byte, 0, partSize)
	buf = append(buf, encryptor.Header()...)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		checksums.FinishPart()
		select {
		case out <- part{number: partNumber, data: buf}:
		case <-ctx.Done():
			return ctx.Err()
		}
		partNumber++
		buf = make([]byte, 0, partSize)
		return nil
	}

	for {
		segment, err := encryptor.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("encrypting segment: %w", err)
		}

		checksums.UpdatePart(segment)
		buf = append(buf, segment...)

		if int64(len(buf)) >= partSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}

// uploadParts pulls finished parts off the channel and uploads them
// concurrently, bounded by sem.
func (u *Uploader) uploadParts(ctx context.Context, sem *semaphore.Weighted, boxID, fileID, wot string, parts <-chan part) error {
	group, gctx := errgroup.WithContext(ctx)

	for p := range parts {
		p := p
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}

		group.Go(func() error {
			defer sem.Release(1)

			url, err := u.api.GetPartUploadURL(gctx, boxID, fileID, p.number, wot)
			if err != nil {
				return err
			}

			if err := u.api.UploadFilePart(gctx, url, p.data); err != nil {
				return &ghgaerrors.UploadFileError{FileID: fileID, PartNo: p.number, Err: err}
			}

			if u.logger != nil {
				u.logger.Debugf("uploaded part %d of upload %s", p.number, fileID)
			}
			return nil
		})
	}

	return group.Wait()
}

func estimateCiphertextSize(plaintextSize int64) int64 {
	const segmentPlain = 64 * 1024
	const segmentOverhead = 12 + 16
	segments := (plaintextSize + segmentPlain - 1) / segmentPlain
	return plaintextSize + segments*segmentOverhead
}

func nonNilReporter(r progress.Reporter) progress.Reporter {
	if r == nil {
		return progress.NewNoOpProgress()
	}
	return r
}

// plaintextHashWriter feeds bytes read from the source file into the
// whole-file plaintext digest as encryption consumes them, via
// io.TeeReader, since the encryptor itself only returns ciphertext.
type plaintextHashWriter struct {
	checksums *crypt4gh.Checksums
}

func (w plaintextHashWriter) Write(p []byte) (int, error) {
	w.checksums.UpdatePlaintext(p)
	return len(p), nil
}
