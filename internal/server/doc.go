// Package server provides HTTP routing, middleware and the OAuth login flow.
//
// # Router
//
// [BasicRouter] implements [Router] on top of [http.ServeMux] with method filtering.
// [Middleware] wraps handlers in reverse order (last added executes first).
//
// # Login
//
// [OAuthHandler] redirects /auth/login to the authorization page with a fresh state token and
// completes /auth/callback: the state is consumed from [PendingStates], the code is exchanged,
// the profile is read and the account is registered or refreshed through a [LoginFunc].
//
// [PendingStates] is a bounded TTL map with its own sweep loop, started and stopped together
// with the server that owns it.
//
// The same handler backs both the long-running `serve` command and the short-lived callback
// server of `auth login`, which waits on [OAuthHandler.Results].
package server
