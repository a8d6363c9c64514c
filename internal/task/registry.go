package task

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fileconv/internal/convert"

	"github.com/google/uuid"
)

// Registry holds every task and batch record in memory. All reads return
// copies and all writes are read-modify-write under the lock, so a reader
// never sees a half-applied update.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	batches map[string]*Batch
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:   make(map[string]*Task),
		batches: make(map[string]*Batch),
		now:     time.Now,
	}
}

// Create stores a new Pending task and returns its id.
func (r *Registry) Create(nt NewTask) string {
	t := newTaskRecord(uuid.NewString(), "", nt, r.now())
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
	return t.ID
}

// Get returns a standalone task, or a batch task by its composite id.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tasks[id]; ok {
		return cloneTask(t), true
	}
	if t := r.batchTaskLocked(id); t != nil {
		return cloneTask(t), true
	}
	return Task{}, false
}

// Delete removes a standalone task and returns the removed record.
func (r *Registry) Delete(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	delete(r.tasks, id)
	return cloneTask(t), true
}

// Counts returns the number of standalone tasks and batches.
func (r *Registry) Counts() (tasks, batches int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks), len(r.batches)
}

// transition moves a standalone task to status and returns the new snapshot.
func (r *Registry) transition(id string, to Status, errMsg string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if err := applyTransition(t, to, errMsg, r.now()); err != nil {
		return Task{}, err
	}
	return cloneTask(t), nil
}

func (r *Registry) putBatch(b *Batch) {
	r.mu.Lock()
	r.batches[b.ID] = b
	r.mu.Unlock()
}

func (r *Registry) GetBatch(id string) (Batch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// updateBatch applies fn to the batch atomically and bumps its version. fn
// must leave the batch untouched when it returns an error.
func (r *Registry) updateBatch(id string, fn func(b *Batch, now time.Time) error) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	if err := fn(b, r.now()); err != nil {
		return Batch{}, err
	}
	b.Version++
	return cloneBatch(b), nil
}

func (r *Registry) deleteBatch(id string) (Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, false
	}
	delete(r.batches, id)
	return cloneBatch(b), true
}

func (r *Registry) batchTaskLocked(id string) *Task {
	sep := strings.LastIndexByte(id, '_')
	if sep <= 0 {
		return nil
	}
	b, ok := r.batches[id[:sep]]
	if !ok {
		return nil
	}
	for i := range b.Tasks {
		if b.Tasks[i].ID == id {
			return &b.Tasks[i]
		}
	}
	return nil
}

func newTaskRecord(id, batchID string, nt NewTask, now time.Time) *Task {
	return &Task{
		ID:           id,
		BatchID:      batchID,
		OriginalName: nt.OriginalName,
		InputPath:    nt.InputPath,
		OutputPath:   nt.OutputPath,
		InputFormat:  strings.ToLower(filepath.Ext(nt.InputPath)),
		OutputFormat: strings.ToLower(filepath.Ext(nt.OutputPath)),
		Category:     convert.Classify(nt.InputPath),
		Status:       StatusPending,
		CreatedAt:    now,
		Options:      nt.Options.Clone(),
		Version:      1,
	}
}

// applyTransition enforces Pending -> Processing -> {Completed, Failed}.
// Pending -> Failed is allowed for tasks that never got to run.
func applyTransition(t *Task, to Status, errMsg string, now time.Time) error {
	switch {
	case t.Status == StatusPending && to == StatusProcessing:
	case t.Status == StatusPending && to == StatusFailed:
	case t.Status == StatusProcessing && to.IsTerminal():
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.Version++
	if to.IsTerminal() {
		completed := now
		t.CompletedAt = &completed
	}
	if to == StatusFailed {
		if errMsg == "" {
			errMsg = "conversion failed"
		}
		t.ErrorMessage = errMsg
	}
	return nil
}

func cloneTask(t *Task) Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	c.Options = t.Options.Clone()
	return c
}

func cloneBatch(b *Batch) Batch {
	c := *b
	if b.CompletedAt != nil {
		at := *b.CompletedAt
		c.CompletedAt = &at
	}
	c.Tasks = make([]Task, len(b.Tasks))
	for i := range b.Tasks {
		c.Tasks[i] = cloneTask(&b.Tasks[i])
	}
	return c
}
