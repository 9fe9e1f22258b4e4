// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/services"
)

// Call is one recorded [FakeClient] request.
type Call struct {
	Op         string
	PlaylistID string
	URIs       []string
}

// FakeClient is an in-memory [services.PlaylistClient].
//
// Errors are looked up by "op:playlistID" first and then by "op", where op is one of
// me, playlists, playlist, tracks, add and remove.
type FakeClient struct {
	mu sync.Mutex

	Profile   models.Profile
	Playlists []models.RemotePlaylist
	Names     map[string]string
	Tracks    map[string][]models.Track
	Errors    map[string]error
	Now       func() time.Time

	calls []Call
}

// NewFakeClient creates an empty [FakeClient] for the account id.
func NewFakeClient(id string) *FakeClient {
	return &FakeClient{
		Profile: models.Profile{ID: id, DisplayName: id},
		Names:   map[string]string{},
		Tracks:  map[string][]models.Track{},
		Errors:  map[string]error{},
		Now:     time.Now,
	}
}

// Calls returns the recorded requests in order.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Ops returns the op names of the recorded requests that touched playlistID, or every request when empty.
func (f *FakeClient) Ops(playlistID string) []string {
	var ops []string
	for _, c := range f.Calls() {
		if playlistID == "" || c.PlaylistID == playlistID {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

// SetTracks replaces the tracks of playlistID.
func (f *FakeClient) SetTracks(playlistID string, tracks ...models.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tracks[playlistID] = tracks
}

// TrackURIs returns the URIs currently in playlistID.
func (f *FakeClient) TrackURIs(playlistID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	uris := make([]string, 0, len(f.Tracks[playlistID]))
	for _, t := range f.Tracks[playlistID] {
		uris = append(uris, t.URI)
	}
	return uris
}

func (f *FakeClient) record(op, playlistID string, uris []string) error {
	f.calls = append(f.calls, Call{Op: op, PlaylistID: playlistID, URIs: slices.Clone(uris)})
	if err, ok := f.Errors[op+":"+playlistID]; ok {
		return err
	}
	return f.Errors[op]
}

func (f *FakeClient) Me(ctx context.Context) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("me", "", nil); err != nil {
		return nil, err
	}
	p := f.Profile
	return &p, nil
}

func (f *FakeClient) UserPlaylists(ctx context.Context, offset, limit int) (*services.Page[models.RemotePlaylist], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("playlists", "", nil); err != nil {
		return nil, err
	}
	return pageOf(f.Playlists, offset, limit), nil
}

func (f *FakeClient) Playlist(ctx context.Context, playlistID, fields string) (*services.PlaylistDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("playlist", playlistID, nil); err != nil {
		return nil, err
	}

	tracks := f.Tracks[playlistID]
	details := &services.PlaylistDetails{ID: playlistID, Name: f.Names[playlistID], Total: len(tracks)}
	if strings.Contains(fields, "items") {
		details.Tracks = *pageOf(tracks, 0, services.TrackPageSize)
	}
	return details, nil
}

func (f *FakeClient) PlaylistTracks(ctx context.Context, playlistID string, offset, limit int, fields string) (*services.Page[models.Track], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("tracks", playlistID, nil); err != nil {
		return nil, err
	}
	return pageOf(f.Tracks[playlistID], offset, limit), nil
}

func (f *FakeClient) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("add", playlistID, uris); err != nil {
		return err
	}
	now := f.Now()
	for _, uri := range uris {
		f.Tracks[playlistID] = append(f.Tracks[playlistID], models.Track{URI: uri, AddedAt: now})
	}
	return nil
}

func (f *FakeClient) RemoveTracks(ctx context.Context, playlistID string, uris []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove", playlistID, uris); err != nil {
		return err
	}
	f.Tracks[playlistID] = slices.DeleteFunc(slices.Clone(f.Tracks[playlistID]), func(t models.Track) bool {
		return slices.Contains(uris, t.URI)
	})
	return nil
}

func pageOf[T any](items []T, offset, limit int) *services.Page[T] {
	if limit <= 0 {
		limit = len(items)
	}
	start := min(offset, len(items))
	end := min(offset+limit, len(items))

	page := &services.Page[T]{Items: slices.Clone(items[start:end])}
	if end < len(items) {
		page.Next = &services.Cursor{Offset: end, Limit: limit}
	}
	return page
}

// FakeFactory hands out the [FakeClient] registered for the user the credentials belong to,
// falling back to Default.
type FakeFactory struct {
	mu      sync.Mutex
	Clients map[string]*FakeClient
	Default *FakeClient
	tokens  []string
}

// NewFakeFactory creates a factory that serves def for every user.
func NewFakeFactory(def *FakeClient) *FakeFactory {
	return &FakeFactory{Clients: map[string]*FakeClient{}, Default: def}
}

func (f *FakeFactory) Client(creds models.Credentials) services.PlaylistClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, creds.AccessToken)
	if c, ok := f.Clients[creds.UserID]; ok {
		return c
	}
	return f.Default
}

// AccessTokens returns the access tokens clients were created with.
func (f *FakeFactory) AccessTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tokens)
}

// FakeRefresher is an in-memory [services.TokenRefresher].
//
// Grants are keyed by refresh token. Unknown tokens get a rotated-less grant with access token
// "access-<token>" valid for an hour. Errors keyed by refresh token fail that refresh.
type FakeRefresher struct {
	mu     sync.Mutex
	Grants map[string]services.TokenGrant
	Errors map[string]error
	Delay  time.Duration
	calls  []string
}

// NewFakeRefresher creates an empty [FakeRefresher].
func NewFakeRefresher() *FakeRefresher {
	return &FakeRefresher{Grants: map[string]services.TokenGrant{}, Errors: map[string]error{}}
}

func (f *FakeRefresher) RefreshToken(ctx context.Context, refreshToken string) (*services.TokenGrant, error) {
	f.mu.Lock()
	f.calls = append(f.calls, refreshToken)
	delay := f.Delay
	err := f.Errors[refreshToken]
	grant, ok := f.Grants[refreshToken]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		grant = services.TokenGrant{AccessToken: "access-" + refreshToken, ExpiresIn: time.Hour}
	}
	return &grant, nil
}

// Calls returns the refresh tokens that were exchanged.
func (f *FakeRefresher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
