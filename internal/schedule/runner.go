// Package schedule runs periodic jobs on cron specs with a seconds field.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"llm-dealer/internal/logger"
)

type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// New returns a runner whose jobs receive baseCtx. Schedules are evaluated
// in loc.
func New(baseCtx context.Context, loc *time.Location) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		baseCtx: baseCtx,
	}
}

// Add registers job under spec. A job still running when its next slot
// comes up is skipped for that slot.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		op := logger.StartOperation(r.baseCtx, "cron_"+name)
		job(op.GetContext())
		op.End()
	}))
	return r.cron.AddJob(spec, wrapped)
}

// Next reports when the entry fires next.
func (r *Runner) Next(id cron.EntryID) time.Time {
	return r.cron.Entry(id).Next
}

func (r *Runner) Start() {
	logger.Info(r.baseCtx, "Cron started", "entries", len(r.cron.Entries()))
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	logger.Info(r.baseCtx, "Cron stopped")
}
