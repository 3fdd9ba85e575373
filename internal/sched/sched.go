// Package sched runs background jobs on cron schedules. The relay uses it
// for the call-queue sweeper and the expired-ban rewriter.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Start validates the cron expression and launches the job loop. The loop
// stops when ctx is cancelled.
func Start(ctx context.Context, name, expr string, job func(context.Context)) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("job %s: invalid cron expression %q", name, expr)
	}
	go run(ctx, name, expr, job)
	return nil
}

func run(ctx context.Context, name, expr string, job func(context.Context)) {
	for {
		next, err := gronx.NextTick(expr, false)
		if err != nil {
			slog.Error("cron schedule computation failed", "job", name, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		invoke(ctx, name, job)
	}
}

// invoke contains job panics so one bad sweep cannot take the process down.
func invoke(ctx context.Context, name string, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cron job panicked", "job", name, "panic", r)
		}
	}()
	slog.Debug("cron job running", "job", name)
	job(ctx)
}
