// Package async runs background tasks with a timeout and panic recovery.
//
// The keep-alive daemon runs each scheduled job through it, so a failing or
// panicking job is logged and counted instead of taking the daemon down:
//
//	res := <-async.SafeGo(ctx, time.Minute, "token renewal", renew)
//	metrics.RecordKeepaliveRun(res.Task, res.Err)
package async
