// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

// Package persistence is the durable storage adapter for the orchestration
// core. It maps the in-memory contracts of the bus, resilience and workflow
// packages onto a relational database through GORM, supporting PostgreSQL,
// MySQL and SQLite backends behind a single Store type.
//
// The package divides its operations into two families:
//
//   - Business-critical writes (workflow checkpoints, mastery upserts,
//     feedback, quality reviews) return errors to the caller. Checkpoint
//     versions are allocated inside a transaction under a per-workflow
//     lock, so versions for one workflow are strictly increasing with
//     no gaps.
//
//   - Audit appends (tasks, agent results, events, metrics, logs) are
//     fire-and-forget: failures are logged and counted, never returned.
//     A reporting outage must not take down the message path.
//
// Store satisfies the storage interfaces consumed elsewhere in the module
// (workflow.Checkpointer, workflow.Recorder, workflow.MasteryStore,
// workflow.ReviewStore, bus.FeedbackSink) and exposes a
// circuitbreaker.StateStore adapter via BreakerStates.
package persistence
