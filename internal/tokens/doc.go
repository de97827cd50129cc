// Package tokens keeps delegated credentials for the remote tracker usable.
//
// The [Coordinator] is the only writer of credentials. Callers ask for a token with [Coordinator.Token]
// (or [Coordinator.TokenAsync]) and receive either a valid access token or an authentication error.
//
// # Refresh Rules
//
//   - A token expiring more than the refresh buffer (default 5 minutes) from now is returned as is.
//   - Otherwise the caller joins the single in-flight refresh for that (user, provider), keyed in a [singleflight.Group].
//   - Inside the refresh the credential is re-read; a pair rotated by an earlier refresh is reused, never exchanged again.
//   - The new access token, refresh token and expiry are saved in one write before any waiter receives them.
//   - A failed exchange marks the credential stale. It is not retried; the user must re-authorize.
package tokens
