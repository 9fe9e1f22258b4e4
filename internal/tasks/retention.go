package tasks

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/services"
	"github.com/desertthunder/spotprune/internal/shared"
)

// RemovalPlan is the outcome of applying a retention policy to a track listing.
//
// URIs holds the distinct URIs to remove: age-rule matches first, then count-rule matches.
// Missing counts selected entries that had no URI and were dropped from URIs.
// Undated counts listed entries without an added-at time.
type RemovalPlan struct {
	URIs    []string
	ByAge   int
	ByCount int
	Missing int
	Undated int
}

// Empty reports whether the plan removes nothing.
func (p RemovalPlan) Empty() bool {
	return len(p.URIs) == 0
}

// PlanRemoval selects the tracks of p that violate its retention policy at now.
//
// The age rule runs only when the cached oldest track is already past the age threshold and then
// selects every dated track added before it. The count rule considers only what the age rule kept
// and selects the oldest of those until maxTracks remain, counting undated tracks as the oldest.
// Equal added-at times keep listing order.
func PlanRemoval(p models.Playlist, tracks []models.Track, now time.Time) RemovalPlan {
	var plan RemovalPlan
	selected := make([]bool, len(tracks))
	var order []int

	for _, t := range tracks {
		if !t.Dated() {
			plan.Undated++
		}
	}

	if threshold, due := ageCheckDue(p, now); due {
		for i, t := range tracks {
			if t.Dated() && t.AddedAt.Before(threshold) {
				selected[i] = true
				order = append(order, i)
				plan.ByAge++
			}
		}
	}

	if p.MaxTracks != nil && *p.MaxTracks > 0 {
		remaining := len(tracks) - plan.ByAge
		if excess := remaining - *p.MaxTracks; excess > 0 {
			rest := make([]int, 0, remaining)
			for i := range tracks {
				if !selected[i] {
					rest = append(rest, i)
				}
			}
			slices.SortStableFunc(rest, func(a, b int) int {
				return tracks[a].AddedAt.Compare(tracks[b].AddedAt)
			})
			for _, i := range rest[:excess] {
				selected[i] = true
				order = append(order, i)
			}
			plan.ByCount = excess
		}
	}

	seen := make(map[string]bool, len(order))
	for _, i := range order {
		uri := tracks[i].URI
		if uri == "" {
			plan.Missing++
			continue
		}
		if !seen[uri] {
			seen[uri] = true
			plan.URIs = append(plan.URIs, uri)
		}
	}
	return plan
}

// ageCheckDue returns the age threshold of p at now and whether the cached oldest track is past it.
func ageCheckDue(p models.Playlist, now time.Time) (time.Time, bool) {
	if p.MaxTrackAge == nil {
		return time.Time{}, false
	}
	threshold := now.AddDate(0, 0, -*p.MaxTrackAge)
	return threshold, p.OldestTrack.Before(threshold)
}

// oldestAddedAt returns the earliest added-at time among the dated tracks, or fallback when none is older.
func oldestAddedAt(tracks []models.Track, fallback time.Time) time.Time {
	oldest := fallback
	for _, t := range tracks {
		if t.Dated() && t.AddedAt.Before(oldest) {
			oldest = t.AddedAt
		}
	}
	return oldest
}

// EnforceResult describes what one enforcement did to a playlist.
type EnforceResult struct {
	PlaylistID string
	Plan       RemovalPlan
	Archived   int
	Removed    int
	Playlist   *models.Playlist
}

// TickResult is the structured outcome of one retention tick.
type TickResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Playlists int
	Succeeded []string
	Failed    []*PhaseError
	Removed   int
}

// Err combines every failed playlist into one error.
func (r *TickResult) Err() error {
	return joinFailures(r.Failed)
}

// Enforcer applies retention policies to tracked playlists.
type Enforcer struct {
	playlists   PlaylistRepository
	creds       *CredentialStore
	clients     services.ClientFactory
	logger      *log.Logger
	now         func() time.Time
	concurrency int
}

// NewEnforcer creates an [Enforcer].
func NewEnforcer(playlists PlaylistRepository, creds *CredentialStore, clients services.ClientFactory, logger *log.Logger) *Enforcer {
	return &Enforcer{
		playlists:   playlists,
		creds:       creds,
		clients:     clients,
		logger:      logger,
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency bounds how many playlists a tick processes at once.
func (e *Enforcer) SetConcurrency(n int) {
	if n > 0 {
		e.concurrency = n
	}
}

// Enforce applies the retention policy of p once.
//
// When p has a discard playlist the selected tracks are archived there first; a failed archive
// aborts before anything is removed. After a removal the cached summary is re-derived from the
// remote playlist. When the age check ran but nothing was removed, the cached oldest track is
// corrected from the listing. Errors are [*PhaseError] values.
func (e *Enforcer) Enforce(ctx context.Context, p models.Playlist) (*EnforceResult, error) {
	result := &EnforceResult{PlaylistID: p.ID}
	if !p.HasPolicy() {
		return result, nil
	}

	logger := e.logger.With("playlist", p.ID, "user", p.OwnerID)

	creds, err := e.creds.Fresh(ctx, p.OwnerID)
	if err != nil {
		return nil, phaseErr(PhaseCredentials, p.ID, err)
	}
	client := e.clients.Client(*creds)

	tracks, err := services.FetchAll(ctx, trackPages(client, p.ID, services.FieldsTrackRetention), 0, services.TrackPageSize)
	if err != nil {
		return nil, phaseErr(PhaseFetch, p.ID, err)
	}

	now := e.now()
	result.Plan = PlanRemoval(p, tracks, now)
	if result.Plan.Missing > 0 {
		logger.Warn("selected tracks without uri", "count", result.Plan.Missing)
	}
	if result.Plan.Undated > 0 {
		logger.Warn("tracks without added_at", "count", result.Plan.Undated)
	}
	if result.Plan.Empty() {
		logger.Debug("nothing to remove", "tracks", len(tracks))
		if _, due := ageCheckDue(p, now); due {
			oldest := oldestAddedAt(tracks, now)
			if !oldest.Equal(p.OldestTrack) {
				updated, err := e.playlists.Update(ctx, models.PlaylistUpdate{ID: p.ID, OldestTrack: models.TimePtr(oldest)})
				if err != nil {
					return nil, phaseErr(PhasePersist, p.ID, err)
				}
				result.Playlist = updated
			}
		}
		return result, nil
	}

	if p.DiscardPlaylistID != nil {
		if err := client.AddTracks(ctx, *p.DiscardPlaylistID, result.Plan.URIs); err != nil {
			return nil, phaseErr(PhaseArchive, p.ID, err)
		}
		result.Archived = len(result.Plan.URIs)
	}

	if err := client.RemoveTracks(ctx, p.ID, result.Plan.URIs); err != nil {
		return nil, phaseErr(PhaseRemove, p.ID, err)
	}
	result.Removed = len(result.Plan.URIs)

	logger.Info("removed tracks",
		"count", result.Removed,
		"by_age", result.Plan.ByAge,
		"by_count", result.Plan.ByCount,
		"archived", result.Archived,
	)

	updated, err := RefreshSummary(ctx, e.playlists, client, p, true, now)
	if err != nil {
		return nil, phaseErr(summaryPhase(err), p.ID, err)
	}
	result.Playlist = updated
	return result, nil
}

// Tick enforces every playlist that carries a policy.
//
// Playlists are processed concurrently up to the configured limit and independently of each other.
// The returned error is non-nil when the listing or any playlist failed; the result is always populated.
func (e *Enforcer) Tick(ctx context.Context) (*TickResult, error) {
	result := &TickResult{RunID: shared.GenerateID(), StartedAt: e.now()}
	logger := e.logger.With("run", result.RunID)

	playlists, err := e.playlists.ListWithPolicy(ctx)
	if err != nil {
		result.Duration = time.Since(result.StartedAt)
		return result, err
	}
	result.Playlists = len(playlists)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.concurrency)

	for _, p := range playlists {
		g.Go(func() error {
			res, err := e.Enforce(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var pe *PhaseError
				if !errors.As(err, &pe) {
					pe = &PhaseError{Phase: PhaseFetch, ID: p.ID, Err: err}
				}
				logger.Error("retention failed", "playlist", p.ID, "phase", pe.Phase, "error", pe.Err)
				result.Failed = append(result.Failed, pe)
				return nil
			}
			result.Succeeded = append(result.Succeeded, p.ID)
			result.Removed += res.Removed
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.Succeeded)
	slices.SortFunc(result.Failed, func(a, b *PhaseError) int { return strings.Compare(a.ID, b.ID) })
	result.Duration = time.Since(result.StartedAt)

	return result, result.Err()
}

// RefreshSummary re-reads the name and track count of p from the remote API and persists what changed.
//
// With includeOldest every track is listed and the oldest added-at time is stored, or now when the
// playlist has no dated tracks.
func RefreshSummary(ctx context.Context, repo PlaylistRepository, client services.PlaylistClient, p models.Playlist, includeOldest bool, now time.Time) (*models.Playlist, error) {
	fields := services.FieldsSummary
	if includeOldest {
		fields = services.FieldsSummaryWithTracks
	}

	details, err := client.Playlist(ctx, p.ID, fields)
	if err != nil {
		return nil, err
	}

	upd := models.PlaylistUpdate{ID: p.ID}
	if details.Name != p.Name {
		upd.Name = models.StringPtr(details.Name)
	}
	if details.Total != p.NumberOfTracks {
		upd.NumberOfTracks = models.IntPtr(details.Total)
	}

	if includeOldest {
		tracks := details.Tracks.Items
		if next := details.Tracks.Next; next != nil {
			rest, err := services.FetchAll(ctx, trackPages(client, p.ID, services.FieldsTrackAddedAt), next.Offset, next.Limit)
			if err != nil {
				return nil, err
			}
			tracks = append(rest, tracks...)
		}

		upd.OldestTrack = models.TimePtr(oldestAddedAt(tracks, now))
	}

	if upd.Empty() {
		return &p, nil
	}
	return repo.Update(ctx, upd)
}

func trackPages(client services.PlaylistClient, playlistID, fields string) services.PageFunc[models.Track] {
	return func(ctx context.Context, offset, limit int) (*services.Page[models.Track], error) {
		return client.PlaylistTracks(ctx, playlistID, offset, limit, fields)
	}
}
