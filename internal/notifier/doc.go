// Package notifier delivers capture reports and alerts to operators.
//
// Messages are queued and sent by a small worker pool through a Sender (the
// Telegram sender in production), with a shared token-bucket rate limit and
// jittered exponential retry. The service subscribes to the event bus for
// finished batches and failed job fires, and doubles as the logx forwarder for
// high-severity log lines.
//
// The service keeps a small in-memory history of delivered messages for
// status views.
package notifier
