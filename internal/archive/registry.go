package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cctv-archive/internal/platform/logger"

	"golang.org/x/sync/errgroup"
)

// Runner runs one capture loop until it ends or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, src Source) error
}

// Registry owns at most one running capture loop per source.
type Registry struct {
	runner Runner
	log    *slog.Logger

	mu    sync.Mutex
	tasks map[SourceID]*task
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry returns an empty Registry that starts loops with runner.
func NewRegistry(runner Runner, log *slog.Logger) *Registry {
	return &Registry{
		runner: runner,
		log:    logger.Default(log).With(slog.String("component", "registry")),
		tasks:  make(map[SourceID]*task),
	}
}

// Start launches a loop for src. It returns ErrConflict if one is already
// registered for src.ID. The loop unregisters itself when it ends for any
// reason, before Stop for it returns.
func (r *Registry) Start(src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[src.ID]; ok {
		return fmt.Errorf("%w: capture already running for source %d", ErrConflict, src.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[src.ID] = t

	go r.run(ctx, t, src)
	return nil
}

func (r *Registry) run(ctx context.Context, t *task, src Source) {
	defer close(t.done)
	defer r.unregister(src.ID, t)
	defer t.cancel()

	if err := r.runner.Run(ctx, src); err != nil {
		r.log.Debug("loop ended with error", slog.Int64("source_id", int64(src.ID)), slog.String("error", err.Error()))
	}
}

func (r *Registry) unregister(id SourceID, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[id] == t {
		delete(r.tasks, id)
	}
}

// Stop cancels the loop for id and blocks until it has unwound. It reports
// whether a loop was registered.
func (r *Registry) Stop(id SourceID) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

// StopAll cancels every loop and waits for all of them, or until ctx ends.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	var g errgroup.Group
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			select {
			case <-t.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.log.Info("all captures stopped", slog.Int("count", len(tasks)))
	return nil
}

// Running reports whether a loop is registered for id.
func (r *Registry) Running(id SourceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// Done returns a channel closed when the loop for id has ended, or nil if
// none is registered.
func (r *Registry) Done(id SourceID) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		return t.done
	}
	return nil
}

// Len is the number of registered loops.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
