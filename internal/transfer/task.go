// Package transfer tracks the state of each file moving through a batch
// upload or download, independent of the progress bar rendering used
// for any one file's byte-level progress.
package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType indicates whether a task is an upload or download.
type TaskType string

const (
	TaskTypeUpload   TaskType = "upload"
	TaskTypeDownload TaskType = "download"
)

// TaskState represents the current state of a file within a batch.
type TaskState string

const (
	TaskQueued    TaskState = "queued"    // waiting for a worker slot
	TaskStaging   TaskState = "staging"   // polling the download service for readiness
	TaskActive    TaskState = "active"    // transferring bytes
	TaskCompleted TaskState = "completed" // finished successfully
	TaskFailed    TaskState = "failed"    // finished with an error
	TaskMissing   TaskState = "missing"   // reported not found by the archive
)

// FileTask tracks one file's progress through a batch transfer.
// Thread-safe: use the provided methods to read or update state.
type FileTask struct {
	ID   string
	Type TaskType

	Size int64

	mu       sync.RWMutex
	state    TaskState
	speed    float64
	err      error
	lastByte int64
	lastTime time.Time

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewFileTask creates a task in TaskQueued state for fileID.
func NewFileTask(taskType TaskType, fileID string, size int64) *FileTask {
	return &FileTask{
		ID:        fileID,
		Type:      taskType,
		Size:      size,
		state:     TaskQueued,
		CreatedAt: time.Now(),
	}
}

// State returns the current state.
func (t *FileTask) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState updates the task state, stamping StartedAt/CompletedAt as
// the state enters active or terminal phases.
func (t *FileTask) SetState(state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	if state == TaskActive && t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	if state == TaskCompleted || state == TaskFailed || state == TaskMissing {
		t.CompletedAt = time.Now()
	}
}

// SetError records err and transitions the task to TaskFailed.
func (t *FileTask) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	t.state = TaskFailed
	t.CompletedAt = time.Now()
}

// Error returns the recorded error, if any.
func (t *FileTask) Error() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// UpdateBytes records bytesTransferred so far, updating an
// exponentially smoothed throughput estimate.
func (t *FileTask) UpdateBytes(bytesTransferred int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.lastByte == 0 {
		t.lastByte = bytesTransferred
		t.lastTime = now
		return
	}

	elapsed := now.Sub(t.lastTime).Seconds()
	if elapsed <= 0.1 || bytesTransferred <= t.lastByte {
		return
	}

	const smoothingAlpha = 0.25
	instantRate := float64(bytesTransferred-t.lastByte) / elapsed
	if t.speed > 0 {
		t.speed = smoothingAlpha*instantRate + (1-smoothingAlpha)*t.speed
	} else {
		t.speed = instantRate
	}

	t.lastByte = bytesTransferred
	t.lastTime = now
}

// Speed returns the current smoothed throughput estimate in bytes/sec.
func (t *FileTask) Speed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.speed
}

// IsTerminal reports whether the task has finished, one way or another.
func (t *FileTask) IsTerminal() bool {
	switch t.State() {
	case TaskCompleted, TaskFailed, TaskMissing:
		return true
	default:
		return false
	}
}

// Batch tracks every FileTask in one upload or download invocation. ID
// identifies the run in log lines so a user reporting an issue can
// correlate it against server-side request logs for the same batch.
type Batch struct {
	ID string

	mu    sync.Mutex
	tasks map[string]*FileTask
}

// NewBatch creates an empty batch tracker with a fresh random ID.
func NewBatch() *Batch {
	return &Batch{ID: uuid.NewString(), tasks: make(map[string]*FileTask)}
}

// Add registers a new task in the batch.
func (b *Batch) Add(task *FileTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[task.ID] = task
}

// Get returns the task for fileID, if tracked.
func (b *Batch) Get(fileID string) (*FileTask, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[fileID]
	return t, ok
}

// Counts returns how many tasks are in each terminal state.
func (b *Batch) Counts() (completed, failed, missing int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tasks {
		switch t.State() {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		case TaskMissing:
			missing++
		}
	}
	return
}
