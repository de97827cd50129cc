// Package repositories implements SQLite persistence for credentials, mirrored entities and the sync ledger.
//
// Key Implementations:
//   - [CredentialRepository] : one delegated-access credential per (user, provider), written in a single upsert
//   - [ProjectRepository] : mirrored projects keyed by remote ID
//   - [UserRepository] : mirrored user accounts keyed by remote ID
//   - [TaskRepository] : mirrored issues, each referencing a local project row
//   - [SyncRunRepository] : append-only sync run history with guarded terminal rows
//
// The entity repositories satisfy [models.EntityStore] so the mapper can upsert through one generic path.
// Sequence numbers give ledger entries a stable insertion order independent of UUIDs and timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
