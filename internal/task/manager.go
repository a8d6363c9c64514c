package task

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"fileconv/internal/archive"
	"fileconv/internal/convert"
	fileutil "fileconv/internal/file"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Dispatcher runs one conversion. convert.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, category convert.Category, inputPath, outputPath string, opts convert.Options) error
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, category convert.Category, inputPath, outputPath string, opts convert.Options) error

func (f DispatchFunc) Dispatch(ctx context.Context, category convert.Category, inputPath, outputPath string, opts convert.Options) error {
	return f(ctx, category, inputPath, outputPath, opts)
}

// Manager runs conversions in the background on top of a Registry. A single
// weighted semaphore caps concurrent conversions across tasks and batches.
type Manager struct {
	registry      *Registry
	slots         *semaphore.Weighted
	maxSlots      int64
	active        atomic.Int64
	maxBatchFiles int
	outputDir     string

	mu           sync.RWMutex
	dispatcher   Dispatcher
	buildArchive func(ctx context.Context, destZipPath string, entries []archive.Entry) ([]archive.Result, error)
	notify       func(Event)
	baseCtx      context.Context

	workersWG sync.WaitGroup
}

// NewManager creates a manager with default options suitable for tests
func NewManager() *Manager {
	return NewManagerWithOptions(Options{})
}

// NewManagerWithOptions creates a manager with provided configuration
func NewManagerWithOptions(opts Options) *Manager {
	if opts.MaxConcurrentConversions <= 0 {
		opts.MaxConcurrentConversions = defaultMaxConcurrent
	}
	if opts.MaxBatchFiles <= 0 {
		opts.MaxBatchFiles = DefaultMaxBatchFiles
	}
	if opts.OutputDir == "" {
		opts.OutputDir = defaultOutputDir
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = convert.NewStandardDispatcher(convert.Tools{VideoPolicy: convert.DefaultVideoPolicy()})
	}
	return &Manager{
		registry:      NewRegistry(),
		slots:         semaphore.NewWeighted(int64(opts.MaxConcurrentConversions)),
		maxSlots:      int64(opts.MaxConcurrentConversions),
		maxBatchFiles: opts.MaxBatchFiles,
		outputDir:     opts.OutputDir,
		dispatcher:    opts.Dispatcher,
		buildArchive:  archive.BuildArchive,
		baseCtx:       context.Background(),
	}
}

// Registry exposes the underlying registry for read access.
func (m *Manager) Registry() *Registry { return m.registry }

// MaxBatchFiles is the largest accepted batch.
func (m *Manager) MaxBatchFiles() int { return m.maxBatchFiles }

// IsBusy reports whether the system is currently at max concurrent conversions
func (m *Manager) IsBusy() bool {
	return m.active.Load() >= m.maxSlots
}

// ActiveConversions is the number of conversions holding a slot right now.
func (m *Manager) ActiveConversions() int {
	return int(m.active.Load())
}

// Submit stores a Pending task and starts executing it.
func (m *Manager) Submit(nt NewTask) Task {
	id := m.registry.Create(nt)
	snapshot, _ := m.registry.Get(id)
	m.publish(Event{ID: id, Task: &snapshot})
	m.Execute(id)
	return snapshot
}

// Get returns a task snapshot. Batch tasks are found by their composite id.
func (m *Manager) Get(id string) (Task, bool) {
	return m.registry.Get(id)
}

// Output returns the task if its converted file can be served.
func (m *Manager) Output(id string) (Task, error) {
	t, ok := m.registry.Get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if t.Status != StatusCompleted {
		return t, fmt.Errorf("%w: status is %s", ErrNotCompleted, t.Status)
	}
	if !fileutil.Exists(t.OutputPath) {
		return t, ErrOutputMissing
	}
	return t, nil
}

// Execute runs the task in its own goroutine. The returned channel is closed
// once the task is terminal, or immediately if it cannot run.
func (m *Manager) Execute(id string) <-chan struct{} {
	done := make(chan struct{})
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer close(done)
		m.runTask(id)
	}()
	return done
}

// CreateBatch validates every file up front and stores the batch only if
// all of them are acceptable. Nothing is stored on error.
func (m *Manager) CreateBatch(files []BatchFile, outputFormat string, reqOpts convert.RequestOptions) (Batch, error) {
	if len(files) == 0 {
		return Batch{}, ErrNoFiles
	}
	if len(files) > m.maxBatchFiles {
		return Batch{}, fmt.Errorf("%w: %d files, max %d per batch", ErrTooManyFiles, len(files), m.maxBatchFiles)
	}
	format := convert.NormalizeFormat(outputFormat)
	if !convert.IsKnownFormat(format) {
		return Batch{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, outputFormat)
	}

	batchID := uuid.NewString()
	now := m.registry.now()
	tasks := make([]Task, 0, len(files))
	for i, f := range files {
		opts, err := reqOpts.For(convert.Classify(f.InputPath))
		if err != nil {
			return Batch{}, fmt.Errorf("file %q: %w", f.OriginalName, err)
		}
		taskID := batchID + "_" + strconv.Itoa(i)
		out := filepath.Join(m.outputDir, taskID+"_"+fileutil.Stem(f.OriginalName)+format)
		tasks = append(tasks, *newTaskRecord(taskID, batchID, NewTask{
			OriginalName: f.OriginalName,
			InputPath:    f.InputPath,
			OutputPath:   out,
			Options:      opts,
		}, now))
	}

	b := &Batch{
		ID:           batchID,
		OutputFormat: format,
		Tasks:        tasks,
		TotalFiles:   len(tasks),
		CreatedAt:    now,
		Version:      1,
	}
	m.registry.putBatch(b)
	snapshot, _ := m.registry.GetBatch(batchID)
	log.Info().Str("batch_id", batchID).Int("files", len(tasks)).Str("output_format", format).Msg("batch created")
	m.publish(Event{ID: batchID, Batch: &snapshot})
	return snapshot, nil
}

// RunBatch processes the batch tasks in input order in the background. The
// returned channel is closed when the loop ends.
func (m *Manager) RunBatch(id string) <-chan struct{} {
	done := make(chan struct{})
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer close(done)
		m.runBatch(id)
	}()
	return done
}

func (m *Manager) GetBatch(id string) (Batch, bool) {
	return m.registry.GetBatch(id)
}

// ArchiveBatch zips every completed output of the batch into destZipPath.
// Entries are named after the original upload with the output extension.
func (m *Manager) ArchiveBatch(ctx context.Context, id, destZipPath string) ([]archive.Result, error) {
	b, ok := m.registry.GetBatch(id)
	if !ok {
		return nil, ErrBatchNotFound
	}
	entries := make([]archive.Entry, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		if t.Status != StatusCompleted || !fileutil.Exists(t.OutputPath) {
			continue
		}
		entries = append(entries, archive.Entry{
			Name: fileutil.DownloadName(t.OriginalName, t.OutputFormat),
			Path: t.OutputPath,
		})
	}
	if len(entries) == 0 {
		return nil, ErrNothingToArchive
	}

	m.mu.RLock()
	builder := m.buildArchive
	m.mu.RUnlock()
	results, err := builder(ctx, destZipPath, entries)
	if err != nil {
		return results, fmt.Errorf("archive batch: %w", err)
	}
	// outputs may have been swept after the existence check
	for _, res := range results {
		if res.Err == "" {
			return results, nil
		}
	}
	fileutil.RemoveQuietly(destZipPath)
	return results, ErrNothingToArchive
}

// CancelTask removes a standalone task and best-effort deletes its files.
// A running conversion is not interrupted; its result is discarded.
func (m *Manager) CancelTask(id string) error {
	t, ok := m.registry.Delete(id)
	if !ok {
		if _, inBatch := m.registry.Get(id); inBatch {
			return ErrOwnedByBatch
		}
		return ErrTaskNotFound
	}
	fileutil.RemoveQuietly(t.InputPath, t.OutputPath)
	log.Info().Str("task_id", id).Str("status", string(t.Status)).Msg("task cancelled")
	m.publish(Event{ID: id, Removed: true})
	return nil
}

// CancelBatch removes the batch record, then best-effort deletes every
// staged input and output. A running RunBatch stops before the next task.
func (m *Manager) CancelBatch(id string) error {
	b, ok := m.registry.deleteBatch(id)
	if !ok {
		return ErrBatchNotFound
	}
	for _, t := range b.Tasks {
		fileutil.RemoveQuietly(t.InputPath, t.OutputPath)
	}
	log.Info().Str("batch_id", id).Int("files", b.TotalFiles).Msg("batch cancelled")
	m.publish(Event{ID: id, Removed: true})
	return nil
}

// UseNotifier registers fn to receive an Event after every state change.
// fn runs on the worker goroutine and must not block.
func (m *Manager) UseNotifier(fn func(Event)) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// UseDispatcher allows tests to inject a fake dispatcher.
// Not safe for concurrent mutation with running tasks; intended for test setup only.
func (m *Manager) UseDispatcher(d Dispatcher) {
	m.mu.Lock()
	m.dispatcher = d
	m.mu.Unlock()
}

// UseArchiveBuilder allows tests to inject a fake archive builder.
func (m *Manager) UseArchiveBuilder(builder func(ctx context.Context, destZipPath string, entries []archive.Entry) ([]archive.Result, error)) {
	m.mu.Lock()
	m.buildArchive = builder
	m.mu.Unlock()
}

// SetBaseContext sets the base context used to control long-running conversions.
// Intended to be set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight workers finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) context() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}

func (m *Manager) publish(ev Event) {
	m.mu.RLock()
	fn := m.notify
	m.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}
