package tasks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/services"
)

// CredentialStore keeps OAuth credentials valid.
//
// Refresh never retries on its own; the stored credentials stay untouched when the refresh fails.
type CredentialStore struct {
	repo        CredentialsRepository
	refresher   services.TokenRefresher
	logger      *log.Logger
	now         func() time.Time
	inflight    singleflight.Group
	concurrency int
}

// NewCredentialStore creates a [CredentialStore] backed by repo and refresher.
func NewCredentialStore(repo CredentialsRepository, refresher services.TokenRefresher, logger *log.Logger) *CredentialStore {
	return &CredentialStore{
		repo:        repo,
		refresher:   refresher,
		logger:      logger,
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency bounds how many credentials a sweep refreshes at once.
func (s *CredentialStore) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// Get returns the stored credentials of userID.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*models.Credentials, error) {
	return s.repo.Get(ctx, userID)
}

// ExpiringBefore returns every credential whose expiry is strictly before horizon.
func (s *CredentialStore) ExpiringBefore(ctx context.Context, horizon time.Time) ([]models.Credentials, error) {
	return s.repo.ExpiringBefore(ctx, horizon)
}

// Refresh exchanges the refresh token of creds for a new access token and persists the result.
//
// ExpiresAt becomes now plus the granted lifetime. The refresh token is replaced only when the grant rotates it.
func (s *CredentialStore) Refresh(ctx context.Context, creds models.Credentials) (*models.Credentials, error) {
	logger := s.logger.With("user", creds.UserID)

	grant, err := s.refresher.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		logger.Error("failed to refresh access token", "error", err)
		return nil, fmt.Errorf("refresh credentials of user %s: %w", creds.UserID, err)
	}

	updated, err := s.repo.Update(ctx, creds.UserID, models.CredentialsUpdate{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    s.now().Add(grant.ExpiresIn),
	})
	if err != nil {
		return nil, fmt.Errorf("store refreshed credentials of user %s: %w", creds.UserID, err)
	}

	logger.Debug("refreshed access token", "expires_at", updated.ExpiresAt)
	return updated, nil
}

// Fresh returns the credentials of userID, refreshing them first when they expire within
// [models.RequestRefreshThreshold]. Concurrent callers for the same user share one refresh.
func (s *CredentialStore) Fresh(ctx context.Context, userID string) (*models.Credentials, error) {
	creds, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !creds.ExpiresWithin(s.now(), models.RequestRefreshThreshold) {
		return creds, nil
	}

	v, err, _ := s.inflight.Do(userID, func() (any, error) {
		return s.Refresh(ctx, *creds)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Credentials), nil
}

// SweepResult lists the outcome of one session sweep.
type SweepResult struct {
	Horizon   time.Time
	Refreshed []string
	Failed    []*PhaseError
}

// Err combines every failed refresh into one error.
func (r *SweepResult) Err() error {
	return joinFailures(r.Failed)
}

// Sweep refreshes every credential expiring before horizon.
//
// Each credential is refreshed independently, so one bad refresh token does not block the others.
// The returned error is non-nil when the lookup or any single refresh failed.
func (s *CredentialStore) Sweep(ctx context.Context, horizon time.Time) (*SweepResult, error) {
	result := &SweepResult{Horizon: horizon}

	expiring, err := s.repo.ExpiringBefore(ctx, horizon)
	if err != nil {
		return result, fmt.Errorf("list credentials expiring before %s: %w", horizon.Format(time.RFC3339), err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, creds := range expiring {
		g.Go(func() error {
			_, err := s.Refresh(ctx, creds)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, &PhaseError{Phase: PhaseRefresh, ID: creds.UserID, Err: err})
			} else {
				result.Refreshed = append(result.Refreshed, creds.UserID)
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.Refreshed)
	slices.SortFunc(result.Failed, func(a, b *PhaseError) int { return strings.Compare(a.ID, b.ID) })

	return result, result.Err()
}
