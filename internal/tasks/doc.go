// Package tasks runs the asynchronous jobs that move data between the local ledger and Label Studio.
//
// # Core Operations
//
// [Engine] runs one job to a terminal state:
//
//  1. [Engine.RunImport] : Dataset items → Label Studio tasks
//     - Records the highest existing task id as a baseline
//     - Bulk imports every item in one request
//     - Reads created ids from the response, or waits on the async import and lists tasks above the baseline
//     - Creates one local task per created id, in a single transaction
//
//  2. [Engine.RunExport] : Label Studio annotations → local labels
//     - Fetches every imported task of the dataset, rate limited
//     - Stores the raw annotations and the extracted label ([ExtractLabel])
//     - Optionally writes a snapshot of the labeled tasks via [SnapshotWriter]
//
// # Job Lifecycle
//
// A run marks its job running before any network call and always leaves it success or failed. A job that is not
// queued when the run starts is left alone, so redelivered queue messages are harmless.
//
// # Progress Reporting
//
// Runs send [ProgressUpdate] values on an optional channel. Sends use select with default and never block a run.
//
// # Implementation
//
// [Engine] depends on:
//   - [LabelingClient] : services.LabelStudio
//   - [JobStore], [DatasetStore], [TaskStore] : the repositories package
//   - [SnapshotWriter] : artifacts.Snapshotter
package tasks
