package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/repositories"
	"github.com/desertthunder/spotprune/internal/services"
	"github.com/desertthunder/spotprune/internal/shared"
)

// Playlists serves the interactive playlist operations: listing, summary refresh and policy edits.
type Playlists struct {
	repo    PlaylistRepository
	creds   *CredentialStore
	clients services.ClientFactory
	logger  *log.Logger
	now     func() time.Time
}

// NewPlaylists creates a [Playlists] service.
func NewPlaylists(repo PlaylistRepository, creds *CredentialStore, clients services.ClientFactory, logger *log.Logger) *Playlists {
	return &Playlists{repo: repo, creds: creds, clients: clients, logger: logger, now: time.Now}
}

// List returns the tracked playlists of ownerID sorted by name.
func (s *Playlists) List(ctx context.Context, ownerID string, order repositories.Order) ([]models.Playlist, error) {
	return s.repo.ListByOwner(ctx, ownerID, order)
}

// Get returns the tracked playlist with id as stored.
func (s *Playlists) Get(ctx context.Context, id string) (*models.Playlist, error) {
	return s.repo.Get(ctx, id)
}

// Refresh re-reads the summary of the playlist with id from the remote API.
func (s *Playlists) Refresh(ctx context.Context, id string, includeOldest bool) (*models.Playlist, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	creds, err := s.creds.Fresh(ctx, p.OwnerID)
	if err != nil {
		return nil, phaseErr(PhaseCredentials, p.ID, err)
	}

	updated, err := RefreshSummary(ctx, s.repo, s.clients.Client(*creds), *p, includeOldest, s.now())
	if err != nil {
		return nil, phaseErr(summaryPhase(err), p.ID, err)
	}
	return updated, nil
}

// SetPolicy replaces the retention policy of the playlist with id.
//
// Rules must be positive. A discard playlist must be another tracked playlist of the same owner.
// Setting an age rule re-measures the oldest track so the next tick sees a current value.
func (s *Playlists) SetPolicy(ctx context.Context, id string, policy models.PolicyUpdate) (*models.Playlist, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, p, policy); err != nil {
		return nil, err
	}

	updated, err := s.repo.SetPolicy(ctx, id, policy)
	if err != nil {
		return nil, err
	}
	s.logger.Info("updated retention policy", "playlist", id,
		"max_age", derefInt(policy.MaxTrackAge), "max_tracks", derefInt(policy.MaxTracks))

	if policy.MaxTrackAge != nil {
		refreshed, err := s.Refresh(ctx, id, true)
		if err != nil {
			s.logger.Warn("failed to refresh playlist after policy change", "playlist", id, "error", err)
			return updated, nil
		}
		return refreshed, nil
	}
	return updated, nil
}

func (s *Playlists) validate(ctx context.Context, p *models.Playlist, policy models.PolicyUpdate) error {
	if policy.MaxTrackAge != nil && *policy.MaxTrackAge <= 0 {
		return fmt.Errorf("%w: max track age must be positive, got %d", shared.ErrInvalidPolicy, *policy.MaxTrackAge)
	}
	if policy.MaxTracks != nil && *policy.MaxTracks <= 0 {
		return fmt.Errorf("%w: max tracks must be positive, got %d", shared.ErrInvalidPolicy, *policy.MaxTracks)
	}
	if policy.DiscardPlaylistID == nil {
		return nil
	}

	discardID := *policy.DiscardPlaylistID
	if discardID == p.ID {
		return fmt.Errorf("%w: a playlist cannot discard into itself", shared.ErrInvalidPolicy)
	}

	discard, err := s.repo.Get(ctx, discardID)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: discard playlist %s is not tracked", shared.ErrInvalidPolicy, discardID)
	}
	if err != nil {
		return err
	}
	if discard.OwnerID != p.OwnerID {
		return fmt.Errorf("%w: discard playlist %s belongs to another user", shared.ErrInvalidPolicy, discardID)
	}
	return nil
}

func derefInt(v *int) any {
	if v == nil {
		return "none"
	}
	return *v
}
