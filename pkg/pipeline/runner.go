package pipeline

import (
	"context"
	"time"

	"github.com/harunnryd/voxline/pkg/runner"
)

// Runner ties the registry to the process lifecycle: on shutdown it stops
// admitting calls, lets live ones finish for a grace period, then ends the
// rest.
type Runner struct {
	reg *Registry
	lc  *runner.LifecycleRunner
}

func NewRunner(reg *Registry, hooks runner.Hooks, grace, timeout time.Duration) *Runner {
	lc := runner.NewLifecycleRunner(Drainer(reg, grace), hooks, timeout)
	return &Runner{reg: reg, lc: lc}
}

func (r *Runner) Run(ctx context.Context) error { return r.lc.Run(ctx) }
func (r *Runner) Stop() error                   { return r.lc.Stop() }

// Drainer drains reg the way Runner does, for callers with their own lifecycle.
func Drainer(reg *Registry, grace time.Duration) runner.Drainer {
	return runner.DrainerFunc(func(ctx context.Context) error {
		reg.SetDraining(true)
		if grace > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, grace)
			defer cancel()
			if reg.WaitForEmpty(waitCtx, 50*time.Millisecond) {
				return nil
			}
		}
		return reg.CloseAll(ctx)
	})
}
