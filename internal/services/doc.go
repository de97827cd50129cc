// Package services defines the [Gateway] interface for the remote project tracker and implements it over HTTP.
//
// # Gateway Interface
//
// The sync engine reads pages of raw records through [Gateway.FetchPage] and the token coordinator
// rotates credentials through [Gateway.ExchangeRefreshToken]. Neither caller knows about URLs or JSON shapes.
//
// # Tracker Implementation
//
// [TrackerService] talks to a Jira Cloud style REST API under {base}/ex/jira/{tenant}/rest/api/3:
//   - users    : users/search
//   - projects : project/search, or project/{id} when filtered by id
//   - issues   : search with a JQL query compiled from the project, assignee and key filters
//
// Reads share one [rate.Limiter]. Connection failures are retried with exponential backoff,
// 429 and 503 answers are retried honoring Retry-After, and every other status fails immediately.
//
// Token exchanges go through [oauth2.Config] against the configured token endpoint.
// A refresh exchange is never retried because the presented refresh token may already be consumed.
//
// # Error Handling
//
// Services use typed errors from the shared package:
//   - [shared.ExternalServiceError] : non-2xx status with optional Retry-After
//   - [shared.NetworkTransportError] : DNS, refused, reset or timeout
package services
