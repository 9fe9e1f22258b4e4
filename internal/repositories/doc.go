// Package repositories implements SQLite persistence for users, their credentials and tracked playlists.
//
// Key Implementations:
//   - [UserRepository] : account rows, created together with their credentials
//   - [CredentialsRepository] : token pairs with partial updates and expiry lookups
//   - [PlaylistRepository] : tracked playlists, their cached summaries and retention policies
//
// Every method takes a context and returns errors wrapping [shared.ErrNotFound] for missing rows
// or [shared.ErrPersistence] for driver failures. Multi-row writes run inside [WithTx].
//
// Timestamps are written in UTC so that TIMESTAMP columns compare correctly as text.
package repositories
