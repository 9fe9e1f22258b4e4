package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/repositories"
	"github.com/desertthunder/spotprune/internal/shared"
)

type playlistView struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	OwnerID         string     `json:"owner_id"`
	NumberOfTracks  int        `json:"number_of_tracks"`
	OldestTrack     *time.Time `json:"oldest_track,omitempty"`
	MaxTrackAge     *int       `json:"max_track_age,omitempty"`
	MaxTracks       *int       `json:"max_tracks,omitempty"`
	DiscardPlaylist *string    `json:"discard_playlist_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func newPlaylistView(p models.Playlist) playlistView {
	v := playlistView{
		ID:              p.ID,
		Name:            p.Name,
		OwnerID:         p.OwnerID,
		NumberOfTracks:  p.NumberOfTracks,
		MaxTrackAge:     p.MaxTrackAge,
		MaxTracks:       p.MaxTracks,
		DiscardPlaylist: p.DiscardPlaylistID,
		UpdatedAt:       p.UpdatedAt,
	}
	if !p.OldestTrack.IsZero() {
		v.OldestTrack = models.TimePtr(p.OldestTrack)
	}
	return v
}

func (v playlistView) row() []string {
	oldest := "-"
	if v.OldestTrack != nil {
		oldest = v.OldestTrack.Local().Format(time.DateOnly)
	}
	return []string{
		v.ID,
		dash(v.Name),
		strconv.Itoa(v.NumberOfTracks),
		oldest,
		intCell(v.MaxTrackAge, "d"),
		intCell(v.MaxTracks, ""),
		dash(deref(v.DiscardPlaylist)),
	}
}

var playlistHeaders = []string{"ID", "Name", "Tracks", "Oldest", "Max age", "Max tracks", "Discard to"}

// PlaylistsRecognize reconciles the tracked playlists of a user with Spotify.
func (r *Runner) PlaylistsRecognize(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	user, err := d.accounts.Get(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	result, err := d.reconciler.Recognize(ctx, *user)
	if err != nil {
		return err
	}

	return r.writeOK("%s: %d new, %d deleted", user.ID, result.NewPlaylists, result.DeletedPlaylists)
}

// PlaylistsList prints the tracked playlists of a user sorted by name.
func (r *Runner) PlaylistsList(ctx context.Context, cmd *cli.Command) error {
	order, ok := repositories.ParseOrder(cmd.String("order"))
	if !ok {
		return fmt.Errorf("%w: order must be az or za, got %q", shared.ErrInvalidArgument, cmd.String("order"))
	}

	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	owner := cmd.String("user")
	playlists, err := d.manager.List(ctx, owner, order)
	if err != nil {
		return err
	}

	views := make([]playlistView, 0, len(playlists))
	for _, p := range playlists {
		views = append(views, newPlaylistView(p))
	}

	if cmd.Bool("json") {
		return r.writeJSON(views, true)
	}

	if len(views) == 0 {
		return r.writePlain("No playlists tracked for %s. Run 'spotprune playlists recognize --user %s'.\n", owner, owner)
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, v.row())
	}

	r.writePlainHeader(fmt.Sprintf("Playlists of %s (%d)", owner, len(views)))
	return r.writePlain("%s\n", r.table(rows, playlistHeaders...))
}

// PlaylistsShow prints one playlist, optionally refreshing its summary first.
func (r *Runner) PlaylistsShow(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	id := cmd.String("id")
	var p *models.Playlist
	if cmd.Bool("refresh") {
		p, err = d.manager.Refresh(ctx, id, true)
	} else {
		p, err = d.manager.Get(ctx, id)
	}
	if err != nil {
		return err
	}

	return r.writePlaylist(newPlaylistView(*p), cmd.Bool("json"))
}

// PlaylistsPolicy changes the retention policy of a playlist.
//
// Flags that are not given keep the stored value unless --clear is set. A value of 0 (or an empty
// --discard) clears that rule.
func (r *Runner) PlaylistsPolicy(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	id := cmd.String("id")
	current, err := d.manager.Get(ctx, id)
	if err != nil {
		return err
	}

	var policy models.PolicyUpdate
	if !cmd.Bool("clear") {
		policy = models.PolicyUpdate{
			MaxTrackAge:       current.MaxTrackAge,
			MaxTracks:         current.MaxTracks,
			DiscardPlaylistID: current.DiscardPlaylistID,
		}
	}
	if cmd.IsSet("max-age") {
		policy.MaxTrackAge = optionalInt(cmd.Int("max-age"))
	}
	if cmd.IsSet("max-tracks") {
		policy.MaxTracks = optionalInt(cmd.Int("max-tracks"))
	}
	if cmd.IsSet("discard") {
		policy.DiscardPlaylistID = nil
		if discard := cmd.String("discard"); discard != "" {
			policy.DiscardPlaylistID = models.StringPtr(discard)
		}
	}

	updated, err := d.manager.SetPolicy(ctx, id, policy)
	if err != nil {
		return err
	}

	if !updated.HasPolicy() && !cmd.Bool("json") {
		r.writeWarn("%s has no retention rule and will not be pruned", id)
	}
	return r.writePlaylist(newPlaylistView(*updated), cmd.Bool("json"))
}

func (r *Runner) writePlaylist(v playlistView, asJSON bool) error {
	if asJSON {
		return r.writeJSON(v, true)
	}
	r.writePlainHeader(dash(v.Name))
	return r.writePlain("%s\n", r.table([][]string{v.row()}, playlistHeaders...))
}

// optionalInt maps 0 to an unset rule. Negative values pass through and fail validation.
func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return models.IntPtr(v)
}

func intCell(v *int, suffix string) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v) + suffix
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
