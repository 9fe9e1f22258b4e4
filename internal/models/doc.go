// Package models defines the plain data records shared by persistence, the Spotify client and the pruning tasks.
//
// The package contains two categories of types:
//
// 1. Persistent records, stored in SQLite:
//   - [User] : a Spotify account, keyed by its remote id
//   - [Credentials] : the OAuth token pair owned by exactly one [User]
//   - [Playlist] : a locally tracked playlist with its cached summary and retention policy
//
// 2. Remote data, fetched per operation and never stored:
//   - [Track] : a playlist entry reduced to its URI and added-at timestamp
//   - [RemotePlaylist] : a playlist reference as returned by the remote listing
//   - [Profile] : the authenticated account's identity
//
// Partial updates are expressed with [CredentialsUpdate], [PlaylistUpdate] and [PolicyUpdate].
// None of the records carry behavior beyond small pure helpers.
package models
