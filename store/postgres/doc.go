// Package postgres implements the store on PostgreSQL using pgx/v5.
//
// Claims use SELECT FOR UPDATE SKIP LOCKED inside an UPDATE ... RETURNING
// CTE, so any number of worker processes can poll the same table without
// handing out a job twice. Every other transition is a single guarded
// UPDATE whose WHERE clause encodes the required current state; a zero
// row count means the guard missed and the caller lost the race.
//
// Deduplication is enforced two ways: a partial unique index over live
// rows (queued, processing, failed) catches concurrent enqueues, and a
// read-side check returns recently completed jobs within the configured
// window.
//
// Migrations are embedded SQL files applied in filename order and
// tracked in conveyor_migrations.
package postgres
