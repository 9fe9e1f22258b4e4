// Package services defines the contracts of the remote playlist API and implements them for the Spotify Web API.
//
// # Contracts
//
// The pruning tasks only see three interfaces:
//   - [PlaylistClient] : per-account reads and mutations of playlists
//   - [ClientFactory] : creates a [PlaylistClient] for a set of stored credentials
//   - [TokenRefresher] : exchanges a refresh token for a new access token
//
// # Pagination
//
// Listing endpoints return a [Page] whose Next [Cursor] is parsed from the "next" URL of the response.
// [FetchAll] follows cursors until the last page. Later pages are assembled ahead of earlier ones
// (pages p1..pn yield pn ++ ... ++ p1) and callers must not rely on the remote order across pages.
//
// # Spotify Implementation
//
// [SpotifyService] holds the OAuth2 application config, a rate limiter shared by every client
// and the retry policy. [SpotifyClient] values are cheap and bound to one access token.
//
// Requests that receive 429 wait for Retry-After and 5xx responses are retried with exponential backoff.
// Every other non-success status fails immediately with an [*APIError] carrying the remote status and message.
//
// Add and remove calls are sent in batches of [MutationBatchSize] URIs.
//
// # Error Handling
//
//   - [*APIError] : non-success status, matches [shared.ErrAPIRequest]
//   - [shared.ErrRefreshFailed] : refresh_token grant rejected
//   - [shared.ErrInvalidCursor] : a "next" URL without offset and limit
package services
