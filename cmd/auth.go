package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotprune/internal/server"
	"github.com/desertthunder/spotprune/internal/shared"
)

const loginTimeout = 2 * time.Minute

// AuthLogin runs the authorization code flow against a short-lived callback server.
//
// The callback server listens on server.host:server.port, which must match the redirect URI.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = loginTimeout
	}

	states := server.NewPendingStates(timeout, 0, r.logger)
	handler := server.NewOAuthHandler(r.remote, states, d.accounts.Login, r.logger)
	srv := server.New(r.cfg().Server.Addr(), server.NewRouter(r.logger, server.Routes{OAuth: handler}))

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve(serveCtx, srv, r.logger)
	}()

	authURL, err := handler.LoginURL()
	if err != nil {
		return err
	}

	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	} else {
		r.writePlain("→ Opening browser for Spotify login...\n")
		if err := shared.OpenBrowser(ctx, authURL); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
			r.writeWarn("Could not open browser automatically.")
			r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
		}
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.LoginResult
	select {
	case result = <-handler.Results():
	case err := <-serverErrors:
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("callback server: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: no callback within %s", shared.ErrAuthFailed, timeout)
	}

	cancel()
	if err := <-serverErrors; err != nil {
		r.logger.Warn("error shutting down callback server", "error", err)
	}

	if result.Err != nil {
		return fmt.Errorf("authorization failed: %w", result.Err)
	}

	user := result.User
	r.writeOK("Signed in as %s (%s)", dash(user.DisplayName), user.ID)
	return r.writePlain("%s\n", r.styles.help.Render(
		fmt.Sprintf("Run 'spotprune playlists recognize --user %s' to track your playlists", user.ID)))
}

// AuthRefresh refreshes the access token of one user right away.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	user, err := d.accounts.Get(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	user, err = d.accounts.RefreshCredentials(ctx, *user)
	if err != nil {
		return err
	}

	return r.writeOK("Refreshed %s, token valid until %s",
		user.ID, user.Credentials.ExpiresAt.Local().Format(time.DateTime))
}
