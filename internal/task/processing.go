package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// runTask drives one standalone task to a terminal state. The task stays
// Pending while it waits for a slot.
func (m *Manager) runTask(id string) {
	ctx := m.context()

	if t, ok := m.registry.Get(id); !ok || t.Status != StatusPending {
		return
	}
	if err := m.acquire(ctx); err != nil {
		if failed, terr := m.registry.transition(id, StatusFailed, errServiceShutdown.Error()); terr == nil {
			m.publish(Event{ID: id, Task: &failed})
		}
		return
	}

	started, err := m.registry.transition(id, StatusProcessing, "")
	if err != nil {
		m.release()
		// cancelled while queued
		log.Debug().Str("task_id", id).Err(err).Msg("task skipped")
		return
	}
	m.publish(Event{ID: id, Task: &started})

	begin := time.Now()
	dispatchErr := m.dispatch(ctx, started)
	// the slot is free before subscribers hear about the outcome
	m.release()

	to, msg := StatusCompleted, ""
	if dispatchErr != nil {
		to, msg = StatusFailed, dispatchErr.Error()
	}
	final, err := m.registry.transition(id, to, msg)
	if err != nil {
		log.Debug().Str("task_id", id).Err(err).Msg("task removed during conversion")
		return
	}
	logOutcome(final, time.Since(begin))
	m.publish(Event{ID: id, Task: &final})
}

// runBatch processes the batch tasks sequentially. Every counter update is a
// single batch mutation, so progress and counts are always consistent. The
// loop stops as soon as the batch record disappears.
func (m *Manager) runBatch(id string) {
	ctx := m.context()

	b, ok := m.registry.GetBatch(id)
	if !ok {
		return
	}
	total := len(b.Tasks)
	log.Info().Str("batch_id", id).Int("files", total).Msg("batch started")

	var last Batch
	for i := 0; i < total; i++ {
		if err := m.acquire(ctx); err != nil {
			m.abortBatch(id, i)
			return
		}

		started, err := m.startBatchTask(id, i, total)
		if err != nil {
			m.release()
			log.Info().Str("batch_id", id).Err(err).Msg("batch stopped")
			return
		}

		dispatchErr := m.dispatch(ctx, started)
		m.release()

		if last, err = m.finishBatchTask(id, i, dispatchErr); err != nil {
			log.Info().Str("batch_id", id).Err(err).Msg("batch stopped")
			return
		}
	}
	log.Info().Str("batch_id", id).Int("completed", last.CompletedFiles).Int("failed", last.FailedFiles).Msg("batch finished")
}

func (m *Manager) startBatchTask(id string, i, total int) (Task, error) {
	snapshot, err := m.registry.updateBatch(id, func(b *Batch, now time.Time) error {
		if err := applyTransition(&b.Tasks[i], StatusProcessing, "", now); err != nil {
			return err
		}
		if p := i * 100 / total; p > b.OverallProgress {
			b.OverallProgress = p
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	m.publishBatch(snapshot, i)
	return snapshot.Tasks[i], nil
}

// finishBatchTask records the outcome of task i. The mutation that makes the
// last task terminal also sets progress to 100 and the batch completion time.
func (m *Manager) finishBatchTask(id string, i int, dispatchErr error) (Batch, error) {
	snapshot, err := m.registry.updateBatch(id, func(b *Batch, now time.Time) error {
		to, msg := StatusCompleted, ""
		if dispatchErr != nil {
			to, msg = StatusFailed, dispatchErr.Error()
		}
		if err := applyTransition(&b.Tasks[i], to, msg, now); err != nil {
			return err
		}
		if to == StatusCompleted {
			b.CompletedFiles++
		} else {
			b.FailedFiles++
		}
		if b.Done() {
			b.OverallProgress = 100
			completed := now
			b.CompletedAt = &completed
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	logOutcome(snapshot.Tasks[i], 0)
	m.publishBatch(snapshot, i)
	return snapshot, nil
}

// abortBatch fails every task from index from onwards when the service is
// shutting down, which still leaves the batch complete.
func (m *Manager) abortBatch(id string, from int) {
	snapshot, err := m.registry.updateBatch(id, func(b *Batch, now time.Time) error {
		for i := from; i < len(b.Tasks); i++ {
			if b.Tasks[i].Status.IsTerminal() {
				continue
			}
			if err := applyTransition(&b.Tasks[i], StatusFailed, errServiceShutdown.Error(), now); err != nil {
				continue
			}
			b.FailedFiles++
		}
		b.OverallProgress = 100
		completed := now
		b.CompletedAt = &completed
		return nil
	})
	if err != nil {
		return
	}
	log.Warn().Str("batch_id", id).Int("aborted_from", from).Msg("batch aborted on shutdown")
	m.publish(Event{ID: id, Batch: &snapshot})
}

// dispatch invokes the dispatcher and turns a panic into an error, so the
// caller always gets to record a terminal state.
func (m *Manager) dispatch(ctx context.Context, t Task) (err error) {
	m.mu.RLock()
	d := m.dispatcher
	m.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("task_id", t.ID).Msg("dispatch panicked")
			err = fmt.Errorf("unexpected conversion fault: %v", r)
		}
	}()
	if d == nil {
		return errors.New("no dispatcher configured")
	}
	return d.Dispatch(ctx, t.Category, t.InputPath, t.OutputPath, t.Options)
}

func (m *Manager) acquire(ctx context.Context) error {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire conversion slot: %w", err)
	}
	m.active.Add(1)
	return nil
}

func (m *Manager) release() {
	m.active.Add(-1)
	m.slots.Release(1)
}

func (m *Manager) publishBatch(b Batch, i int) {
	t := b.Tasks[i]
	m.publish(Event{ID: b.ID, Batch: &b})
	m.publish(Event{ID: t.ID, Task: &t})
}

func logOutcome(t Task, took time.Duration) {
	ev := log.Info()
	if t.Status == StatusFailed {
		ev = log.Warn().Str("error", t.ErrorMessage)
	}
	if took > 0 {
		ev = ev.Dur("took", took)
	}
	ev.Str("task_id", t.ID).Str("status", string(t.Status)).Msg("task finished")
}
