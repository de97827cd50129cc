// Package models defines domain entities and persistence interfaces for the tracker mirror.
//
// The package contains three groups of types:
//
// 1. Credentials: delegated-access token pairs
//   - [Credential] : access + refresh token, expiry and tenant for one (user, provider)
//   - [CredentialKey] : the (user, provider) identity; at most one credential exists per key
//
// 2. Mirrored entities: local projections of remote records, written only by the sync engine
//   - [Project] : remote projects
//   - [User] : remote user accounts
//   - [Task] : remote issues, referencing their [Project]
//
// 3. Ledger entries: the audit trail of synchronization runs
//   - [SyncRun] : one row per run with [RunState], [Counters] and [ErrorDetail] entries
//   - [RunFilter], [RunPage] : read-side query types
//
// All persistent entities implement [Model]; mirrored ones also implement [Mirrored]
// so a single generic [EntityStore] contract covers their persistence.
package models
