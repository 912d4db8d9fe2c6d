// Package artifacts stores export snapshots on the local filesystem or in a MinIO bucket.
//
// [Snapshotter] implements tasks.SnapshotWriter on top of any [Store].
package artifacts
