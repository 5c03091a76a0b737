// Package dlq implements the dead letter queue: the holding area for
// jobs that exhausted their retry budget, failed permanently, or lost
// their final lease.
//
// Each dead-lettered job produces an [Entry] snapshotting everything an
// operator needs to diagnose the failure: the input reference, the last
// error and its classification, and the attempt history. Entries are
// append-only; requeuing marks the entry rather than deleting it, so
// the failure record survives the replay.
//
// [Service.Requeue] replays an entry as a fresh job: a new queued row
// with a zeroed attempt counter, carrying the original input and dedup
// key. The dead-lettered original stays terminal.
package dlq
