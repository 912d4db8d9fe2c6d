// Package repositories implements SQLite persistence for the labeling ledger.
//
// Queries are built with squirrel and executed through database/sql. Multi-row writes (bulk task inserts,
// auto-assignment) run inside [WithTx] so a failure leaves no partial batch behind.
//
// Key Implementations:
//   - [DatasetRepository] : Datasets with their item list stored as {"items": [...]}
//   - [TaskRepository] : Local task mirrors, assignment and per-dataset counts
//   - [JobRepository] : Job rows with a guarded status state machine
//
// Job status updates are conditional on the current status so a job leaves queued exactly once, even under
// queue redelivery.
package repositories
