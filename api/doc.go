// Package api exposes the queue over HTTP: enqueue, job inspection,
// operator cancel and retry, per-tenant stats, and the dead letter
// surface. It is a thin JSON layer over an engine.Engine; all
// validation and state transitions live below it.
package api
