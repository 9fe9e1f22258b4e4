// package services defines the remote playlist API contracts and their Spotify implementation
package services

import (
	"context"
	"time"

	"github.com/desertthunder/spotprune/internal/models"
)

// PlaylistClient is the per-account view of the remote playlist API.
//
// Every call is authorized with the credentials the client was created for.
// Non-success statuses are returned as [*APIError].
type PlaylistClient interface {
	// Me returns the profile of the authorized account.
	Me(ctx context.Context) (*models.Profile, error)

	// UserPlaylists returns one page of the playlists the account follows or owns.
	UserPlaylists(ctx context.Context, offset, limit int) (*Page[models.RemotePlaylist], error)

	// Playlist returns the name and track total of a playlist together with the first page of its tracks.
	// The first page is empty unless fields asks for track items.
	Playlist(ctx context.Context, playlistID, fields string) (*PlaylistDetails, error)

	// PlaylistTracks returns one page of the tracks of a playlist.
	PlaylistTracks(ctx context.Context, playlistID string, offset, limit int, fields string) (*Page[models.Track], error)

	// AddTracks appends uris to a playlist.
	AddTracks(ctx context.Context, playlistID string, uris []string) error

	// RemoveTracks removes every occurrence of uris from a playlist.
	RemoveTracks(ctx context.Context, playlistID string, uris []string) error
}

// ClientFactory creates [PlaylistClient] values bound to a set of credentials.
type ClientFactory interface {
	Client(creds models.Credentials) PlaylistClient
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// TokenGrant is the result of a token request.
//
// RefreshToken is empty when the authorization server did not rotate it.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// PlaylistDetails is a playlist as returned by the single playlist endpoint.
type PlaylistDetails struct {
	ID     string
	Name   string
	Total  int
	Tracks Page[models.Track]
}

const (
	// PlaylistPageSize is the largest page the playlist listing endpoint accepts.
	PlaylistPageSize = 50
	// TrackPageSize is the page size used for playlist track listings.
	TrackPageSize = 50
	// MutationBatchSize is the largest number of URIs one add or remove request accepts.
	MutationBatchSize = 100
)

// Field selections for the playlist endpoints.
const (
	FieldsSummary           = "name,tracks(total)"
	FieldsSummaryWithTracks = "name,tracks(total,items(added_at),next)"
	FieldsTrackAddedAt      = "added_at"
	FieldsTrackRetention    = "added_at,track.uri"
)
