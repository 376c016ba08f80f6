// Package jobs persists pipeline jobs in SQLite: the queryable progress and
// state tracker while a job runs, and the durable audit record afterwards.
//
// State transitions are forward-only (pending -> running -> succeeded or
// failed) and the store refuses writes that would violate that, so a crashed
// or duplicated delivery can never resurrect a terminal job.
package jobs
