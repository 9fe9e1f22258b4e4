package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotprune/internal/repositories"
	"github.com/desertthunder/spotprune/internal/server"
	"github.com/desertthunder/spotprune/internal/services"
	"github.com/desertthunder/spotprune/internal/shared"
	"github.com/desertthunder/spotprune/internal/tasks"
)

// Remote is everything the commands need from Spotify. Implemented by [services.SpotifyService].
type Remote interface {
	server.Authenticator
	services.TokenRefresher
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and the task services are opened on first use so that commands like `setup config`
// work without either.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	styles     *palette

	db     *sql.DB
	ownsDB bool
	remote Remote
	deps   *deps
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	// Config is used as is. When nil it is loaded from the --config flag before the first action.
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	// DB replaces the database from the config. The runner does not close it.
	DB *sql.DB
	// Remote replaces the Spotify service built from the config.
	Remote Remote
}

type deps struct {
	users      *repositories.UserRepository
	playlists  *repositories.PlaylistRepository
	creds      *tasks.CredentialStore
	accounts   *tasks.Accounts
	reconciler *tasks.Reconciler
	enforcer   *tasks.Enforcer
	manager    *tasks.Playlists
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		styles:     newPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262"),
		db:         opts.DB,
		remote:     opts.Remote,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, usersCommand, playlistsCommand, runCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration named by --config unless one was injected.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	r.configPath = cmd.String("config")
	if r.config == nil {
		config, err := shared.LoadConfigOrDefault(r.configPath)
		if err != nil {
			return ctx, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
		}
		r.config = config
	}

	if level := cmd.String("log-level"); level != "" {
		r.config.Log.Level = level
	}
	if err := shared.SetLogLevel(r.logger, r.config.Log.Level); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// After closes the database when the runner opened it.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	if r.db != nil && r.ownsDB {
		err := r.db.Close()
		r.db, r.deps = nil, nil
		return err
	}
	return nil
}

func (r *Runner) cfg() *shared.Config {
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}
	return r.config
}

// database opens the configured database and brings its schema up to date.
func (r *Runner) database(ctx context.Context) (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	config := r.cfg()
	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.Database.Path != ":memory:" {
		shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	}

	applied, err := shared.RunMigrations(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if applied > 0 {
		r.logger.Info("database migrated", "path", config.Database.Path, "applied", applied)
	}

	r.db, r.ownsDB = db, true
	return db, nil
}

// spotify returns the injected remote or builds a [services.SpotifyService] from the config.
func (r *Runner) spotify() (Remote, error) {
	if r.remote != nil {
		return r.remote, nil
	}

	config := r.cfg()
	creds := config.Credentials.Spotify
	if !creds.Configured() {
		return nil, fmt.Errorf("%w: set credentials.spotify.client_id and client_secret in %s",
			shared.ErrMissingCredentials, r.configPath)
	}

	client := *r.httpClient
	client.Timeout = config.Spotify.RequestTimeout.Duration

	svc, err := services.NewSpotifyService(services.SpotifyOptions{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURI:  creds.RedirectURI,
		BaseURL:      config.Spotify.BaseURL,
		HTTPClient:   &client,
		RateLimit:    config.Spotify.RateLimit,
		Burst:        config.Spotify.Burst,
		MaxRetries:   config.Spotify.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	r.remote = svc
	return svc, nil
}

// services wires repositories and task services on top of the database and the remote.
func (r *Runner) services(ctx context.Context) (*deps, error) {
	if r.deps != nil {
		return r.deps, nil
	}

	db, err := r.database(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := r.spotify()
	if err != nil {
		return nil, err
	}

	concurrency := r.cfg().Scheduler.MaxConcurrency
	d := &deps{
		users:     repositories.NewUserRepository(db),
		playlists: repositories.NewPlaylistRepository(db),
	}
	d.creds = tasks.NewCredentialStore(repositories.NewCredentialsRepository(db), remote, r.logger)
	d.creds.SetConcurrency(concurrency)
	d.accounts = tasks.NewAccounts(d.users, d.creds, r.logger)
	d.reconciler = tasks.NewReconciler(d.playlists, d.creds, remote, r.logger)
	d.enforcer = tasks.NewEnforcer(d.playlists, d.creds, remote, r.logger)
	d.enforcer.SetConcurrency(concurrency)
	d.manager = tasks.NewPlaylists(d.playlists, d.creds, remote, r.logger)

	r.deps = d
	return d, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) error {
	return r.writePlain("%s\n", r.styles.title.Render(title))
}

func (r *Runner) writeOK(format string, args ...any) error {
	return r.writePlain("%s %s\n", r.styles.ok.Render("✓"), fmt.Sprintf(format, args...))
}

func (r *Runner) writeWarn(format string, args ...any) error {
	return r.writePlain("%s\n", r.styles.warn.Render("⚠ "+fmt.Sprintf(format, args...)))
}

// palette is the stylesheet for terminal output.
type palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func newPalette(t, s, e, w, h string) *palette {
	return &palette{
		title: newBold(t),
		ok:    newBold(s),
		err:   newBold(e),
		warn:  newStyle(w),
		help:  newEm(h),
	}
}

func newStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func newBold(fg string) lipgloss.Style {
	return newStyle(fg).Bold(true)
}

func newEm(fg string) lipgloss.Style {
	return newStyle(fg).Italic(true)
}

// dash renders empty cells.
func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
