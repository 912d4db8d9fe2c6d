// Package models defines the ledger entities and persistence interfaces for lsync.
//
// Three entities make up the ledger:
//   - [Dataset] : an immutable, ordered list of [Item] values owned by its creator
//   - [Task] : the local mirror of one external labeling task, moving new → imported → labeled
//   - [Job] : one asynchronous import or export run, moving queued → running → success | failed
//
// Status types carry their own transition rules ([JobStatus.CanTransition], [TaskStatus.CanAdvance])
// so repositories can enforce them in their UPDATE predicates.
// The Repository[T] interface defines the CRUD surface shared by the SQLite repositories.
package models
