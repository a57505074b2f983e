package progress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	starts   []int64
	updates  []int64
	errs     []error
	finishes int
}

func (r *recordingReporter) Start(total int64, description string) { r.starts = append(r.starts, total) }
func (r *recordingReporter) Update(current int64)                  { r.updates = append(r.updates, current) }
func (r *recordingReporter) Finish()                                { r.finishes++ }
func (r *recordingReporter) Error(err error)                        { r.errs = append(r.errs, err) }
func (r *recordingReporter) SetDescription(desc string)              {}

func TestReaderReportsCumulativeBytesRead(t *testing.T) {
	t.Parallel()

	reporter := &recordingReporter{}
	source := strings.NewReader("hello world, this is a test stream")
	reader := NewReader(source, reporter)

	buf := make([]byte, 5)
	total := 0
	for {
		n, err := reader.Read(buf)
		total += n
		if err != nil {
			break
		}
	}

	require.NotEmpty(t, reporter.updates)
	assert.Equal(t, int64(total), reporter.updates[len(reporter.updates)-1])

	for i := 1; i < len(reporter.updates); i++ {
		assert.GreaterOrEqual(t, reporter.updates[i], reporter.updates[i-1], "cumulative reads must never decrease")
	}
}

func TestNoOpProgressDiscardsEverything(t *testing.T) {
	t.Parallel()

	p := NewNoOpProgress()
	// None of these should panic or have an observable effect; this test
	// exists to pin down that the no-op reporter is safe to call blindly
	// from every Reporter call site.
	p.Start(100, "file")
	p.Update(50)
	p.Error(nil)
	p.SetDescription("renamed")
	p.Finish()
}
