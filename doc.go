// Package polywrite coordinates a multi-step write that must touch several
// independent backing stores as one logical unit, without a global
// transaction coordinator. Each step pairs an externally-visible write with
// a compensating action; when a step fails, the orchestrator undoes the
// already-completed steps in reverse order. This is the saga pattern: no
// cross-store atomicity or isolation, only best-effort eventual consistency
// through compensation.
//
// Overview
//
// 1. Define your steps:
//   - Implement the Step interface, or build one from a pair of functions
//     with NewStepFunc.
//   - Execute performs the write and returns the Output needed to undo it;
//     Compensate undoes it using the transaction context merged with that
//     Output.
//
// 2. Run the saga:
//   - Create an Orchestrator over the ordered step list with NewOrchestrator.
//   - Call Execute with a TxContext seeded from the request.
//   - A *StepFailedError from Execute carries the failed step's name and the
//     full compensation outcome; any other error is a defect.
//
// 3. Observe:
//   - Attach an audit Sink (slog, file, AMQP, or your own) and Prometheus
//     Metrics through orchestrator options. Sink failures never change a
//     transaction's outcome.
//
// The ingest package provides the reference pipeline that writes one entity
// to a relational store, a cache, a vector index, and a graph store through
// a circuit breaker.
package polywrite
