// Package sitegate provides the access layer of a personal publishing site:
// a signed token codec, the admin realm token service, the user identity
// resolver and the Caller model consumed by the gate middleware and the
// interaction ledger.
//
// Admin realm:
//   - AdminTokenService compares a single PIN to a bcrypt hash and issues an
//     access token (1h) and a refresh token (7d) that travel in the
//     accessToken and refreshToken cookies. EvaluateAdminSession runs the
//     Unauthenticated, Authenticated and NeedsRefresh state machine for one
//     request and refreshes transparently when only the access token is stale.
//   - Refresh tokens are reusable until exp. WithRefreshRotation switches to
//     single use tokens backed by a RevocationStore.
//
// User realm:
//   - IdentityResolver maps (provider, external id) pairs onto one canonical
//     user, creating it on first sight. User ids are derived from the pair so
//     concurrent first sign ins converge on the same row.
//   - Credential users register with an email and a password checked against
//     PasswordPolicy, which reports every violated rule at once.
//
// Activity sinks:
//   - ActivitySink receives login, refresh and identity events. Sinks run best
//     effort (errors are logged) so they can forward to a database or queue
//     without blocking authentication.
package sitegate
