package scheduler

import (
	"context"
	"fmt"

	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"
)

// Sweepable is anything that can purge its own expired entries and
// report how many it removed, satisfied by identity.SessionStore.Sweep
// (identity.TokenStore has no Sweep method).
type Sweepable interface {
	Sweep() int
}

// SweepRunner drives one or more Sweepable stores on a cron schedule,
// built on hardloop.NewCron over hardloop.Cron{Name, Specs, Func}.
type SweepRunner struct {
	cron cronRunner
}

// cronRunner mirrors hardloop.NewCron's unexported return type, an
// indirection used to store it without naming the unexported struct.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// NewSweepRunner builds a sweep runner that calls sweepable.Sweep()
// every tick of spec (a standard cron expression; "@every 1m" runs
// once a minute). name tags the cron job for logging.
func NewSweepRunner(name, spec string, sweepable Sweepable) (*SweepRunner, error) {
	job, err := hardloop.NewCron(hardloop.Cron{
		Name:  name,
		Specs: []string{spec},
		Func: func(ctx context.Context) error {
			n := sweepable.Sweep()
			if n > 0 {
				logi.Ctx(ctx).Info("scheduler: swept expired entries", "sweep", name, "count", n)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: create sweep cron %q: %w", name, err)
	}
	return &SweepRunner{cron: job}, nil
}

// Start begins running the sweep on its schedule until ctx is
// cancelled or Stop is called.
func (r *SweepRunner) Start(ctx context.Context) error {
	return r.cron.Start(ctx)
}

// Stop halts the sweep cron.
func (r *SweepRunner) Stop() {
	r.cron.Stop()
}
