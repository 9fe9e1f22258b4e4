// Spotify Web API implementation of [PlaylistClient], [ClientFactory] and [TokenRefresher]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// SpotifyScopes are the scopes requested on login. Pruning needs write access to private playlists.
var SpotifyScopes = []string{
	"user-read-private",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-private",
	"playlist-modify-public",
}

type spotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type spotifyOwner struct {
	ID string `json:"id"`
}

type spotifySimplePlaylist struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Owner  spotifyOwner `json:"owner"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

type spotifyPlaylistPage struct {
	Items []spotifySimplePlaylist `json:"items"`
	Next  *string                 `json:"next"`
}

// spotifyPlaylistTrack is a playlist entry. Track is null for unavailable or deleted tracks
// and AddedAt is null for entries added before Spotify recorded it.
type spotifyPlaylistTrack struct {
	AddedAt string `json:"added_at"`
	Track   *struct {
		URI string `json:"uri"`
	} `json:"track"`
}

type spotifyTrackPage struct {
	Items []spotifyPlaylistTrack `json:"items"`
	Next  *string                `json:"next"`
}

type spotifyPlaylist struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tracks struct {
		Total int `json:"total"`
		spotifyTrackPage
	} `json:"tracks"`
}

type trackURI struct {
	URI string `json:"uri"`
}

// SpotifyOptions configures a [SpotifyService].
//
// AuthURL, TokenURL and BaseURL default to the public Spotify endpoints.
type SpotifyOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	BaseURL      string
	HTTPClient   *http.Client
	RateLimit    float64 // requests per second shared by every client, 0 disables limiting
	Burst        int
	MaxRetries   int // retries of 429 and 5xx responses
}

// SpotifyService holds the OAuth2 application config and the HTTP plumbing shared by every per-account client.
type SpotifyService struct {
	config     *oauth2.Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    func() backoff.BackOff
}

// NewSpotifyService creates a new Spotify service with the given application credentials.
func NewSpotifyService(opts SpotifyOptions) (*SpotifyService, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}
	if opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}
	if opts.RedirectURI == "" {
		opts.RedirectURI = "http://127.0.0.1:3000/auth/callback"
	}
	if opts.AuthURL == "" {
		opts.AuthURL = spotifyAuthURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = spotifyTokenURL
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := max(opts.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	config := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURI,
		Scopes:       SpotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   opts.AuthURL,
			TokenURL:  opts.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	return &SpotifyService{
		config:     config,
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
		limiter:    limiter,
		maxRetries: opts.MaxRetries,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token grant.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*TokenGrant, error) {
	token, err := s.config.Exchange(s.tokenContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %w", shared.ErrAuthFailed, tokenError(err))
	}
	return grantFromToken(token), nil
}

// RefreshToken implements [TokenRefresher] with the refresh_token grant.
func (s *SpotifyService) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	src := s.config.TokenSource(s.tokenContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, tokenError(err))
	}
	return grantFromToken(token), nil
}

// Client implements [ClientFactory].
func (s *SpotifyService) Client(creds models.Credentials) PlaylistClient {
	return &SpotifyClient{svc: s, accessToken: creds.AccessToken}
}

func (s *SpotifyService) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func grantFromToken(token *oauth2.Token) *TokenGrant {
	grant := &TokenGrant{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	switch {
	case token.ExpiresIn > 0:
		grant.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
	case !token.Expiry.IsZero():
		grant.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}
	return grant
}

// tokenError maps an [oauth2.RetrieveError] to an [APIError].
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return err
	}
	apiErr := &APIError{Status: re.Response.StatusCode, Message: re.ErrorDescription}
	if apiErr.Message == "" {
		apiErr.Message = re.ErrorCode
	}
	return apiErr
}

// SpotifyClient is a [PlaylistClient] authorized with one account's access token.
type SpotifyClient struct {
	svc         *SpotifyService
	accessToken string
}

// Me retrieves the current authenticated user's profile.
func (c *SpotifyClient) Me(ctx context.Context) (*models.Profile, error) {
	var user spotifyUser
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &models.Profile{ID: user.ID, DisplayName: user.DisplayName}, nil
}

// UserPlaylists retrieves one page of the current user's playlists.
func (c *SpotifyClient) UserPlaylists(ctx context.Context, offset, limit int) (*Page[models.RemotePlaylist], error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(clampLimit(limit, PlaylistPageSize)))

	var response spotifyPlaylistPage
	if err := c.do(ctx, http.MethodGet, "/me/playlists", query, nil, &response, http.StatusOK); err != nil {
		return nil, err
	}

	next, err := ParseCursor(deref(response.Next))
	if err != nil {
		return nil, err
	}

	page := &Page[models.RemotePlaylist]{Items: make([]models.RemotePlaylist, 0, len(response.Items)), Next: next}
	for _, sp := range response.Items {
		page.Items = append(page.Items, models.RemotePlaylist{
			ID:         sp.ID,
			Name:       sp.Name,
			OwnerID:    sp.Owner.ID,
			TrackCount: sp.Tracks.Total,
		})
	}
	return page, nil
}

// Playlist retrieves a playlist by ID restricted to fields.
func (c *SpotifyClient) Playlist(ctx context.Context, playlistID, fields string) (*PlaylistDetails, error) {
	query := url.Values{}
	if fields != "" {
		query.Set("fields", fields)
	}

	var response spotifyPlaylist
	if err := c.do(ctx, http.MethodGet, "/playlists/"+url.PathEscape(playlistID), query, nil, &response, http.StatusOK); err != nil {
		return nil, err
	}

	tracks, err := convertTrackPage(response.Tracks.spotifyTrackPage)
	if err != nil {
		return nil, err
	}

	return &PlaylistDetails{
		ID:     playlistID,
		Name:   response.Name,
		Total:  response.Tracks.Total,
		Tracks: *tracks,
	}, nil
}

// PlaylistTracks retrieves one page of playlist entries. itemFields selects the fields of each item.
func (c *SpotifyClient) PlaylistTracks(ctx context.Context, playlistID string, offset, limit int, itemFields string) (*Page[models.Track], error) {
	if itemFields == "" {
		itemFields = FieldsTrackAddedAt
	}
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(clampLimit(limit, 100)))
	query.Set("fields", "items("+itemFields+"),next")

	var response spotifyTrackPage
	endpoint := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	if err := c.do(ctx, http.MethodGet, endpoint, query, nil, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return convertTrackPage(response)
}

// AddTracks appends uris to the playlist in batches of [MutationBatchSize].
//
// Batches sent before a failing one stay applied.
func (c *SpotifyClient) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	endpoint := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	for batch := range slices.Chunk(uris, MutationBatchSize) {
		body := map[string][]string{"uris": batch}
		if err := c.do(ctx, http.MethodPost, endpoint, nil, body, nil, http.StatusOK, http.StatusCreated); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTracks removes every occurrence of uris from the playlist in batches of [MutationBatchSize].
func (c *SpotifyClient) RemoveTracks(ctx context.Context, playlistID string, uris []string) error {
	endpoint := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	for batch := range slices.Chunk(uris, MutationBatchSize) {
		tracks := make([]trackURI, len(batch))
		for i, uri := range batch {
			tracks[i] = trackURI{URI: uri}
		}
		body := map[string][]trackURI{"tracks": tracks}
		if err := c.do(ctx, http.MethodDelete, endpoint, nil, body, nil, http.StatusOK); err != nil {
			return err
		}
	}
	return nil
}

// do performs an authenticated request against the Web API and decodes the response into result.
//
// Requests wait on the shared rate limiter. 429 responses are retried after their Retry-After delay and
// 5xx responses with exponential backoff, up to the configured number of retries.
// Any status outside ok is returned as an [*APIError].
func (c *SpotifyClient) do(ctx context.Context, method, endpoint string, query url.Values, body, result any, ok ...int) error {
	apiURL := c.svc.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		if err := c.svc.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, apiURL, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.svc.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case slices.Contains(ok, resp.StatusCode):
			return data, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w (%w)", newAPIError(resp.StatusCode, data), backoff.RetryAfter(retryAfter(resp.Header)))
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, newAPIError(resp.StatusCode, data)
		default:
			return nil, backoff.Permanent(newAPIError(resp.StatusCode, data))
		}
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.svc.backoff()),
		backoff.WithMaxTries(uint(c.svc.maxRetries+1)),
	)
	if err != nil {
		return err
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
		}
	}
	return nil
}

func convertTrackPage(page spotifyTrackPage) (*Page[models.Track], error) {
	next, err := ParseCursor(deref(page.Next))
	if err != nil {
		return nil, err
	}

	out := &Page[models.Track]{Items: make([]models.Track, 0, len(page.Items)), Next: next}
	for _, item := range page.Items {
		var track models.Track
		if item.AddedAt != "" {
			addedAt, err := time.Parse(time.RFC3339, item.AddedAt)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid added_at %q: %v", shared.ErrAPIRequest, item.AddedAt, err)
			}
			track.AddedAt = addedAt
		}
		if item.Track != nil {
			track.URI = item.Track.URI
		}
		out.Items = append(out.Items, track)
	}
	return out, nil
}

// retryAfter reads the Retry-After header in seconds, defaulting to one second.
func retryAfter(h http.Header) int {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 1
	}
	return secs
}

func clampLimit(limit, upper int) int {
	if limit <= 0 || limit > upper {
		return upper
	}
	return limit
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
