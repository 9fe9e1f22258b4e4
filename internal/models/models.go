// package models defines the data model for playlist pruning
package models

import (
	"time"
)

const (
	// RequestRefreshThreshold is how close to expiry credentials may be before a request refreshes them first.
	RequestRefreshThreshold = 15 * time.Second
	// LoginRefreshThreshold is the same check applied on the login path.
	LoginRefreshThreshold = 30 * time.Second
)

// Credentials is an OAuth access/refresh token pair.
// ExpiresAt is authoritative for every proactive refresh decision.
type Credentials struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExpiresWithin reports whether the access token expires before now+d.
func (c Credentials) ExpiresWithin(now time.Time, d time.Duration) bool {
	return c.ExpiresAt.Before(now.Add(d))
}

// CredentialsUpdate is a partial update; empty strings and the zero time leave a field unchanged.
type CredentialsUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// User is a Spotify account. Credentials live and die with the user.
type User struct {
	ID          string
	DisplayName string
	Credentials Credentials
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Playlist is a locally tracked remote playlist.
//
// NumberOfTracks and OldestTrack cache remote state and are never used as the source of truth mid-operation.
// MaxTrackAge is in days. A nil policy field is unset.
type Playlist struct {
	ID                string
	Name              string
	OwnerID           string
	NumberOfTracks    int
	OldestTrack       time.Time
	MaxTrackAge       *int
	MaxTracks         *int
	DiscardPlaylistID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPolicy reports whether at least one retention rule is configured.
func (p Playlist) HasPolicy() bool {
	return p.MaxTrackAge != nil || p.MaxTracks != nil
}

// PlaylistUpdate changes the cached summary of the playlist with ID. Nil fields are left as stored.
type PlaylistUpdate struct {
	ID             string
	Name           *string
	NumberOfTracks *int
	OldestTrack    *time.Time
}

// Empty reports whether the update changes nothing.
func (u PlaylistUpdate) Empty() bool {
	return u.Name == nil && u.NumberOfTracks == nil && u.OldestTrack == nil
}

// PolicyUpdate replaces the complete retention policy of a playlist. Nil clears a rule.
type PolicyUpdate struct {
	MaxTrackAge       *int
	MaxTracks         *int
	DiscardPlaylistID *string
}

// Track is a playlist entry. URI is empty for entries whose track is unavailable.
// AddedAt is zero for entries the remote API reports without an added-at date.
type Track struct {
	URI     string
	AddedAt time.Time
}

// Dated reports whether the added-at time of t is known.
func (t Track) Dated() bool {
	return !t.AddedAt.IsZero()
}

// RemotePlaylist is a playlist as listed by the remote API.
type RemotePlaylist struct {
	ID         string
	Name       string
	OwnerID    string
	TrackCount int
}

// Profile is the authenticated Spotify account.
type Profile struct {
	ID          string
	DisplayName string
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }

// TimePtr returns a pointer to v.
func TimePtr(v time.Time) *time.Time { return &v }
