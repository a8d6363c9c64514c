package task

import (
	"time"

	"fileconv/internal/convert"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one conversion. Version grows with every change of the record.
type Task struct {
	ID           string           `json:"id"`
	BatchID      string           `json:"batch_id,omitempty"`
	OriginalName string           `json:"original_name"`
	InputPath    string           `json:"-"`
	OutputPath   string           `json:"-"`
	InputFormat  string           `json:"input_format"`
	OutputFormat string           `json:"output_format"`
	Category     convert.Category `json:"category"`
	Status       Status           `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Options      convert.Options  `json:"options"`
	Version      uint64           `json:"version"`
}

// NewTask is what the boundary hands over once the input is staged and the
// output location allocated.
type NewTask struct {
	OriginalName string
	InputPath    string
	OutputPath   string
	Options      convert.Options
}

type Batch struct {
	ID              string     `json:"id"`
	OutputFormat    string     `json:"output_format"`
	Tasks           []Task     `json:"tasks"`
	TotalFiles      int        `json:"total_files"`
	CompletedFiles  int        `json:"completed_files"`
	FailedFiles     int        `json:"failed_files"`
	OverallProgress int        `json:"overall_progress"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	Version         uint64     `json:"version"`
}

// Done reports whether every task in the batch reached a terminal state.
func (b Batch) Done() bool {
	return b.CompletedFiles+b.FailedFiles == b.TotalFiles
}

// BatchFile is one staged upload of a batch.
type BatchFile struct {
	OriginalName string
	InputPath    string
}

// Event is published after every state change. Exactly one of Task and
// Batch is set; Removed marks a cancellation.
type Event struct {
	ID      string `json:"id"`
	Task    *Task  `json:"task,omitempty"`
	Batch   *Batch `json:"batch,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

type Options struct {
	MaxConcurrentConversions int
	MaxBatchFiles            int
	// OutputDir receives batch outputs; single tasks bring their own path.
	OutputDir  string
	Dispatcher Dispatcher
}

const (
	DefaultMaxBatchFiles = 10
	defaultMaxConcurrent = 2
	defaultOutputDir     = "data/outputs"
)
