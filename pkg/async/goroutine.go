package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/qzcli/pkg/observability"
)

// Result is delivered once a SafeGo task has finished
type Result struct {
	Task     string
	Err      error
	Duration time.Duration
}

// SafeGo runs fn in a goroutine bounded by timeout. A panic is recovered and
// reported as the task error. Errors are logged with the logger carried by
// parentCtx.
//
// The returned channel receives exactly one Result and is then closed;
// callers that do not care may drop it.
//
//	done := async.SafeGo(ctx, time.Minute, "token renewal", func(ctx context.Context) error {
//		_, err := tokens.GetToken(ctx, false)
//		return err
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan Result {
	done := make(chan Result, 1)
	logger := observability.FromContext(parentCtx).WithField("task", taskName)

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		start := time.Now()
		err := run(ctx, fn)
		if err != nil {
			logger.WithError(err).Error("Background task failed")
		}
		done <- Result{Task: taskName, Err: err, Duration: time.Since(start)}
	}()

	return done
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) <-chan Result {
	return SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w\n%s", observability.MustRecover(r), debug.Stack())
		}
	}()
	return fn(ctx)
}
