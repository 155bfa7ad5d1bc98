// Package background runs fire-and-forget tasks.
// A failing task never affects the code that started it, but its error is
// logged and kept until the next Wait, so the failure stays observable.
package background

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// TaskError is the error of a single failed task.
type TaskError struct {
	Task string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// Group supervises background tasks.
// The zero value is not usable, create groups with NewGroup.
type Group struct {
	wg  conc.WaitGroup
	log zerolog.Logger

	mu   sync.Mutex
	errs []error
}

func NewGroup(logger zerolog.Logger) *Group {
	return &Group{log: logger}
}

// Go runs fn in a new goroutine.
// A returned error or a panic is logged and recorded, never propagated.
func (g *Group) Go(task string, fn func() error) {
	g.wg.Go(func() {
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = fn() })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		if err == nil {
			return
		}
		g.log.Warn().Err(err).Str("task", task).Msg("Background task failed")
		g.mu.Lock()
		g.errs = append(g.errs, TaskError{Task: task, Err: err})
		g.mu.Unlock()
	})
}

// Wait blocks until all started tasks are done.
// It returns the errors recorded since the previous Wait.
func (g *Group) Wait() []error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	errs := g.errs
	g.errs = nil
	return errs
}
