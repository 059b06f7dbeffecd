// Package orchestrator drives multi-phase synchronization of desired
// machines against the remote directory.
//
// A phase fans out across machines with bounded concurrency and, for each
// machine, calls the phase's sub-services in a fixed order:
//
//	create_dependencies  clients        Create
//	create_instances     nodes          Create
//	save                 nodes, roles   Save
//	load                 nodes, clients Load
//	correlate            nodes, clients Load
//	validate             clients        Load
//
// Every call yields an Outcome. A failed call never stops the other calls of
// the machine or the other machines of the batch; PhaseReport aggregates the
// outcomes instead. Transient, throttled and conflict errors are retried with
// exponential backoff. Create calls check for an existing record first, so
// re-running a batch converges without duplicates.
//
// Run executes a sequence of phases under one run ID, records the run and
// its outcomes through a RunRecorder and emits telemetry when the context
// carries a telemetry bundle.
//
// Observer and Planner cover the read side: Observer rebuilds a machine's
// manifest from its node record and live description, Planner compares it
// with the desired manifest and classifies each machine as create, update
// or noop.
package orchestrator
