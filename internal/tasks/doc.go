// Package tasks runs sync operations that mirror remote tracker data into the local store with real-time progress reporting.
//
// # Core Operations
//
// [SyncEngine] exposes one method per sync kind:
//
//  1. [SyncEngine.ImportUsers] : every remote user account
//  2. [SyncEngine.SyncProject] : one project, then all of its issues
//  3. [SyncEngine.SyncAllProjects] : every project, then the issues of each project in the order received
//  4. [SyncEngine.SyncUserTasks] : the issues assigned to one remote account
//  5. [SyncEngine.SyncIssue] : a single issue by key
//
// # Run Lifecycle
//
// Each call opens a ledger entry, authorizes through the [TokenSource], pages the remote and upserts
// every record in received order. The run is always finalized before the call returns, including when
// the context is cancelled or the plan panics.
//
// Records that fail to map are counted and skipped. Remote, storage and authorization failures end the run.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for rendering.
// Updates use select with default to prevent blocking.
package tasks
