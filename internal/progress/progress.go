// Package progress provides progress-bar reporting for uploads and downloads.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Reporter is the interface for reporting progress of a single file transfer.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// CLIProgress reports progress with a terminal progress bar on stderr.
type CLIProgress struct {
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100_000_000),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error prints an error message below the bar.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
	}
}

// SetDescription updates the progress bar's description text.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// NoOpProgress discards all progress events; used in non-interactive or
// non-TTY contexts where a bar would just add noise to captured output.
type NoOpProgress struct{}

// NewNoOpProgress creates a no-op progress reporter.
func NewNoOpProgress() *NoOpProgress { return &NoOpProgress{} }

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                                {}
func (p *NoOpProgress) Error(err error)                        {}
func (p *NoOpProgress) SetDescription(desc string)             {}

// Reader wraps an io.Reader, reporting cumulative bytes read to a Reporter.
// Used to track plaintext-read progress during upload encryption.
type Reader struct {
	reader   io.Reader
	reporter Reporter
	current  int64
}

// NewReader creates a new progress-reporting reader.
func NewReader(reader io.Reader, reporter Reporter) *Reader {
	return &Reader{reader: reader, reporter: reporter}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.current += int64(n)
		r.reporter.Update(r.current)
	}
	return n, err
}

// BatchProgress renders one bar per file of a multi-file upload or
// download, all stacked in a single terminal region, so a batch of
// concurrently or sequentially transferred files doesn't scroll the
// terminal with one bar per file as CLIProgress would.
type BatchProgress struct {
	container *mpb.Progress
}

// NewBatchProgress creates a batch progress renderer writing to stderr.
func NewBatchProgress() *BatchProgress {
	return &BatchProgress{
		container: mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(180*time.Millisecond),
		),
	}
}

// Wait blocks until every bar added to the batch has completed.
func (b *BatchProgress) Wait() {
	b.container.Wait()
}

// NewFileReporter adds a new bar for one file to the batch and returns
// a Reporter bound to it. The returned Reporter's Start total is
// ignored in favor of the total given here, since mpb needs the total
// at bar-creation time to size the bar.
func (b *BatchProgress) NewFileReporter(description string, total int64) Reporter {
	bar := b.container.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(description, decor.WCSyncSpace),
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &batchFileReporter{bar: bar, total: total}
}

type batchFileReporter struct {
	bar   *mpb.Bar
	total int64
}

func (r *batchFileReporter) Start(total int64, description string) {}

func (r *batchFileReporter) Update(current int64) {
	r.bar.SetCurrent(current)
}

func (r *batchFileReporter) Finish() {
	r.bar.SetCurrent(r.total)
}

func (r *batchFileReporter) Error(err error) {
	if err != nil {
		r.bar.Abort(true)
	}
}

func (r *batchFileReporter) SetDescription(desc string) {}
