package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/repositories"
	"github.com/desertthunder/spotprune/internal/shared"
)

// DefaultConcurrency bounds the per-tick and per-sweep fan-out when none is configured.
const DefaultConcurrency = 10

// CredentialsRepository persists token pairs. Implemented by [repositories.CredentialsRepository].
type CredentialsRepository interface {
	Get(ctx context.Context, userID string) (*models.Credentials, error)
	Update(ctx context.Context, userID string, upd models.CredentialsUpdate) (*models.Credentials, error)
	ExpiringBefore(ctx context.Context, t time.Time) ([]models.Credentials, error)
}

// UserRepository persists accounts. Implemented by [repositories.UserRepository].
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	Rename(ctx context.Context, id, displayName string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.User, error)
}

// PlaylistRepository persists tracked playlists. Implemented by [repositories.PlaylistRepository].
type PlaylistRepository interface {
	Get(ctx context.Context, id string) (*models.Playlist, error)
	Insert(ctx context.Context, playlists []models.Playlist) (int, error)
	Update(ctx context.Context, upd models.PlaylistUpdate) (*models.Playlist, error)
	SetPolicy(ctx context.Context, id string, policy models.PolicyUpdate) (*models.Playlist, error)
	Delete(ctx context.Context, playlists []models.Playlist) (int, error)
	FilterUnknown(ctx context.Context, remote []models.RemotePlaylist) ([]models.RemotePlaylist, error)
	ListByOwner(ctx context.Context, ownerID string, order repositories.Order) ([]models.Playlist, error)
	ListWithPolicy(ctx context.Context) ([]models.Playlist, error)
}

// Phase names the step of an operation that failed.
type Phase int

const (
	PhaseCredentials Phase = iota
	PhaseFetch
	PhaseArchive
	PhaseRemove
	PhaseRefresh
	PhaseInsert
	PhaseDelete
	PhasePersist
)

func (p Phase) String() string {
	switch p {
	case PhaseCredentials:
		return "credentials"
	case PhaseFetch:
		return "fetch"
	case PhaseArchive:
		return "archive"
	case PhaseRemove:
		return "remove"
	case PhaseRefresh:
		return "refresh"
	case PhaseInsert:
		return "insert"
	case PhaseDelete:
		return "delete"
	case PhasePersist:
		return "persist"
	default:
		return ""
	}
}

// PhaseError reports which phase of an operation on the user or playlist ID failed.
type PhaseError struct {
	Phase Phase
	ID    string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Phase, e.ID, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseErr(phase Phase, id string, err error) error {
	return &PhaseError{Phase: phase, ID: id, Err: err}
}

// summaryPhase tells a failed store write apart from a failed remote read of a summary refresh.
func summaryPhase(err error) Phase {
	if errors.Is(err, shared.ErrPersistence) || errors.Is(err, shared.ErrNotFound) {
		return PhasePersist
	}
	return PhaseRefresh
}

// PhaseOf returns the phase recorded in err, if any.
func PhaseOf(err error) (Phase, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase, true
	}
	return 0, false
}

// joinFailures combines failures into one error, nil when there are none.
func joinFailures(failures []*PhaseError) error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
