// Package tasks keeps accounts, tracked playlists and retention policies in step with Spotify.
//
// # Credentials
//
// [CredentialStore] refreshes token pairs. Request paths call [CredentialStore.Fresh], which
// refreshes credentials that expire within 15 seconds and shares one refresh between concurrent
// callers. [CredentialStore.Sweep] refreshes everything that expired before a horizon and is the
// safety net driven by the scheduler.
//
// # Reconciliation
//
// [Reconciler.Recognize] lists the playlists a user owns remotely, stores new ones without a
// policy, and forgets tracked ones that disappeared.
//
// # Retention
//
// [PlanRemoval] is the pure policy: the age rule first, then the count rule over what is left.
// [Enforcer.Enforce] applies it to one playlist (archive, then remove, then re-measure) and
// [Enforcer.Tick] runs it over every playlist with a policy, isolating failures per playlist.
//
// Errors from multi-step operations are [*PhaseError] values naming the step that failed.
package tasks
