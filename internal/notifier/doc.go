// Package notifier delivers bot-initiated messages (fired reminders, verification notices,
// operator alerts) asynchronously.
//
// Notify enqueues and returns; a small worker pool sends through the chat adapter under a
// shared rate limit, retrying a failed send after a jittered delay. Identical notifications
// inside the dedup window are suppressed. Lifecycle events are published on the bus as
// notifier.queued / notifier.sent / notifier.failed / notifier.dropped / notifier.deduped.
package notifier
