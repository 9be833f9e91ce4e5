// Package scheduler triggers recurring jobs from cron specs.
//
// The scheduler only computes trigger times; each trigger enqueues a task into
// an engine.Service, which owns execution, timeouts and panic recovery.
package scheduler
