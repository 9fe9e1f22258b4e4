package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/repositories"
	"github.com/desertthunder/spotprune/internal/services"
)

// RecognizeResult counts the playlists one reconciliation added and removed.
type RecognizeResult struct {
	NewPlaylists     int
	DeletedPlaylists int
}

// Reconciler keeps the tracked playlists of a user in line with the playlists the user owns remotely.
type Reconciler struct {
	playlists PlaylistRepository
	creds     *CredentialStore
	clients   services.ClientFactory
	logger    *log.Logger
	now       func() time.Time
}

// NewReconciler creates a [Reconciler].
func NewReconciler(playlists PlaylistRepository, creds *CredentialStore, clients services.ClientFactory, logger *log.Logger) *Reconciler {
	return &Reconciler{playlists: playlists, creds: creds, clients: clients, logger: logger, now: time.Now}
}

// Recognize discovers new remotely owned playlists of user and forgets tracked ones that are gone.
//
// Insertion and deletion run concurrently and independently; both finish before the first failure
// is returned. A second call without remote changes reports no new and no deleted playlists.
func (r *Reconciler) Recognize(ctx context.Context, user models.User) (*RecognizeResult, error) {
	logger := r.logger.With("user", user.ID)

	creds, err := r.creds.Fresh(ctx, user.ID)
	if err != nil {
		return nil, phaseErr(PhaseCredentials, user.ID, err)
	}
	client := r.clients.Client(*creds)

	remote, err := services.FetchAll[models.RemotePlaylist](ctx, client.UserPlaylists, 0, services.PlaylistPageSize)
	if err != nil {
		return nil, phaseErr(PhaseFetch, user.ID, err)
	}

	owned := make([]models.RemotePlaylist, 0, len(remote))
	ownedIDs := make(map[string]bool, len(remote))
	for _, p := range remote {
		if p.OwnerID != user.ID {
			continue
		}
		if ownedIDs[p.ID] {
			logger.Warn("duplicate remote playlist", "playlist", p.ID)
			continue
		}
		ownedIDs[p.ID] = true
		owned = append(owned, p)
	}

	var (
		result RecognizeResult
		g      errgroup.Group
	)

	g.Go(func() error {
		unknown, err := r.playlists.FilterUnknown(ctx, owned)
		if err != nil {
			return phaseErr(PhaseInsert, user.ID, err)
		}

		now := r.now()
		fresh := make([]models.Playlist, len(unknown))
		for i, p := range unknown {
			fresh[i] = models.Playlist{
				ID:             p.ID,
				Name:           p.Name,
				OwnerID:        user.ID,
				NumberOfTracks: p.TrackCount,
				OldestTrack:    now,
			}
		}

		n, err := r.playlists.Insert(ctx, fresh)
		if err != nil {
			return phaseErr(PhaseInsert, user.ID, err)
		}
		result.NewPlaylists = n
		return nil
	})

	g.Go(func() error {
		stored, err := r.playlists.ListByOwner(ctx, user.ID, repositories.OrderAZ)
		if err != nil {
			return phaseErr(PhaseDelete, user.ID, err)
		}

		var gone []models.Playlist
		for _, p := range stored {
			if !ownedIDs[p.ID] {
				gone = append(gone, p)
			}
		}

		n, err := r.playlists.Delete(ctx, gone)
		if err != nil {
			return phaseErr(PhaseDelete, user.ID, err)
		}
		result.DeletedPlaylists = n
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("recognize failed", "error", err)
		return nil, err
	}

	logger.Info("recognized playlists", "new", result.NewPlaylists, "deleted", result.DeletedPlaylists)
	return &result, nil
}
