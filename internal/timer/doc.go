// Package timer implements durable deferred timers.
//
// A Scheduler persists "fire event E with payload P at time T" requests in a storage.TimerStore
// and runs a single loop that always waits for the earliest pending timer. When the timer is due
// the loop removes it from the store and dispatches "<event>_timer_complete" to a Sink.
//
// Loop states:
//
//	SEARCHING  no timer inside the look-ahead window; waiting for an insert
//	ARMED      sleeping until the selected timer expires
//	FIRING     deleting the record and handing the timer to the sink
//
// Anything that could change which timer is earliest (an earlier insert, deleting the armed
// timer, a bulk delete that may include it) cancels the loop and starts a fresh one that
// re-queries the store. A store failure ends the loop too; a replacement is started after a
// jittered backoff. Timers due within ShortThreshold never reach the store.
package timer
