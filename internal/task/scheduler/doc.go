// Package scheduler runs periodic in-process jobs (cron expressions or fixed intervals).
//
// Jobs are triggered by robfig/cron and executed on the cron goroutine's behalf with:
//   - overlap skip: a trigger is dropped while the previous run of the same job is in flight
//   - a per-run timeout derived from the service context
//   - a random startup spread for interval jobs so they do not all fire together
//
// Durable, user-facing timers live in internal/timer; this package is for housekeeping
// (OTP sweeps, presence rotation).
package scheduler
