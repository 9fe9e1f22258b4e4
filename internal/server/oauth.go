package server

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/services"
	"github.com/desertthunder/spotprune/internal/shared"
)

// Authenticator runs the authorization code flow. Implemented by [services.SpotifyService].
type Authenticator interface {
	services.ClientFactory
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*services.TokenGrant, error)
}

// LoginFunc completes a login once the profile behind a grant is known.
type LoginFunc func(ctx context.Context, profile models.Profile, grant services.TokenGrant) (*models.User, error)

// LoginResult is the outcome of one callback.
type LoginResult struct {
	User *models.User
	Err  error
}

// OAuthHandler serves the login redirect and the OAuth callback.
//
// Every callback that redeems a pending state is also offered on [OAuthHandler.Results] without
// blocking, so a CLI can wait for the first login while a long-running server ignores the channel.
// Callbacks with an unknown or expired state are rejected without a result.
type OAuthHandler struct {
	auth    Authenticator
	states  *PendingStates
	login   LoginFunc
	logger  *log.Logger
	results chan LoginResult
}

// NewOAuthHandler creates an [OAuthHandler].
func NewOAuthHandler(auth Authenticator, states *PendingStates, login LoginFunc, logger *log.Logger) *OAuthHandler {
	return &OAuthHandler{
		auth:    auth,
		states:  states,
		login:   login,
		logger:  logger,
		results: make(chan LoginResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/auth/login", "/auth/callback"}
}

// Results delivers finished logins. Results nobody receives are dropped.
func (h *OAuthHandler) Results() <-chan LoginResult {
	return h.results
}

// LoginURL registers a new state and returns the authorization URL for it.
func (h *OAuthHandler) LoginURL() (string, error) {
	state, err := h.states.New()
	if err != nil {
		return "", err
	}
	return h.auth.AuthURL(state), nil
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/auth/login":
		url, err := h.LoginURL()
		if err != nil {
			h.logger.Error("failed to start login", "error", err)
			http.Error(w, "Too many pending logins", http.StatusServiceUnavailable)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	case "/auth/callback":
		h.callback(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *OAuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if !h.states.Consume(q.Get("state")) {
		h.logger.Warn("login callback rejected", "error", shared.ErrInvalidState)
		http.Error(w, "Invalid or expired login", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: %s: %s", shared.ErrAuthFailed, q.Get("error"), q.Get("error_description"))
		h.fail(w, http.StatusBadRequest, "Authorization failed", err)
		return
	}

	ctx := r.Context()
	grant, err := h.auth.Exchange(ctx, code)
	if err != nil {
		h.fail(w, http.StatusBadGateway, "Token exchange failed", err)
		return
	}

	profile, err := h.auth.Client(models.Credentials{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	}).Me(ctx)
	if err != nil {
		h.fail(w, http.StatusBadGateway, "Could not read profile", err)
		return
	}

	user, err := h.login(ctx, *profile, *grant)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "Login failed", err)
		return
	}

	h.logger.Info("user logged in", "user", user.ID)
	h.send(LoginResult{User: user})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, successPage, html.EscapeString(displayName(user)))
}

func (h *OAuthHandler) fail(w http.ResponseWriter, status int, msg string, err error) {
	h.logger.Warn("login callback failed", "status", status, "error", err)
	h.send(LoginResult{Err: err})
	http.Error(w, msg, status)
}

func (h *OAuthHandler) send(result LoginResult) {
	select {
	case h.results <- result:
	default:
	}
}

func displayName(u *models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Signed in</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Signed in as %s</h1>
        <p>Your playlists are now looked after. You can close this window.</p>
    </div>
</body>
</html>
`
