package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/services"
	"github.com/desertthunder/spotprune/internal/shared"
)

// Accounts registers users on login and keeps their credentials current.
type Accounts struct {
	users  UserRepository
	creds  *CredentialStore
	logger *log.Logger
	now    func() time.Time
}

// NewAccounts creates an [Accounts] service.
func NewAccounts(users UserRepository, creds *CredentialStore, logger *log.Logger) *Accounts {
	return &Accounts{users: users, creds: creds, logger: logger, now: time.Now}
}

// Login completes an OAuth login of profile.
//
// Unknown accounts are registered with grant. Known accounts keep their stored credentials,
// which are refreshed when they expire within [models.LoginRefreshThreshold].
func (a *Accounts) Login(ctx context.Context, profile models.Profile, grant services.TokenGrant) (*models.User, error) {
	logger := a.logger.With("user", profile.ID)

	user, err := a.users.Get(ctx, profile.ID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		user = &models.User{
			ID:          profile.ID,
			DisplayName: profile.DisplayName,
			Credentials: models.Credentials{
				AccessToken:  grant.AccessToken,
				RefreshToken: grant.RefreshToken,
				ExpiresAt:    a.now().Add(grant.ExpiresIn),
			},
		}
		if err := a.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("%w: registration failed: %w", shared.ErrAuthFailed, err)
		}
		logger.Info("registered user", "name", user.DisplayName)
		return user, nil
	case err != nil:
		return nil, fmt.Errorf("%w: login failed: %w", shared.ErrAuthFailed, err)
	}

	if profile.DisplayName != "" && profile.DisplayName != user.DisplayName {
		if err := a.users.Rename(ctx, user.ID, profile.DisplayName); err != nil {
			logger.Warn("failed to update display name", "error", err)
		} else {
			user.DisplayName = profile.DisplayName
		}
	}

	if user.Credentials.ExpiresWithin(a.now(), models.LoginRefreshThreshold) {
		return a.RefreshCredentials(ctx, *user)
	}

	logger.Debug("logged in")
	return user, nil
}

// RefreshCredentials refreshes the credentials of user and returns the updated user.
func (a *Accounts) RefreshCredentials(ctx context.Context, user models.User) (*models.User, error) {
	creds := user.Credentials
	creds.UserID = user.ID

	updated, err := a.creds.Refresh(ctx, creds)
	if err != nil {
		return nil, err
	}

	user.Credentials = *updated
	return &user, nil
}

// Get returns the user with id.
func (a *Accounts) Get(ctx context.Context, id string) (*models.User, error) {
	return a.users.Get(ctx, id)
}

// List returns every registered user.
func (a *Accounts) List(ctx context.Context) ([]*models.User, error) {
	return a.users.List(ctx)
}

// Delete removes a user together with its credentials and playlists.
func (a *Accounts) Delete(ctx context.Context, id string) error {
	if err := a.users.Delete(ctx, id); err != nil {
		return err
	}
	a.logger.Info("deleted user", "user", id)
	return nil
}
