// Package notifier delivers the "transaction processed" email after a
// booking fires.
//
// Delivery goes through a Sender. HTTPSender posts the message as JSON to an
// email service; LogSender only logs it and is used when no URL is
// configured. Sends are rate limited with a token bucket and retried with
// jittered exponential backoff. A date that was notified within DedupWindow
// is not notified again.
//
// # History
//
// The service keeps a small in-memory history of recent attempts for the
// status endpoint.
package notifier
