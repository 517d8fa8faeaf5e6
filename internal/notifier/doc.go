// Package notifier delivers short run notifications to operators.
//
// Notify never blocks and never fails from the caller's point of view: the
// message is queued and worker goroutines deliver it to every configured
// channel (Discord webhook, Telegram chat) with rate limiting. Retries are
// opt-in (Config.RetryMax).
// Delivery failures are logged and published on the event bus.
//
// Per-kind toggles decide which notifications are sent at all:
//   - success:   a manual run finished with exit code 0
//   - failure:   any run failed
//   - scheduled: a scheduled run finished with exit code 0
package notifier
