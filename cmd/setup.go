package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotprune/internal/shared"
)

// SetupConfig writes the example configuration to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}
	r.logger.Info("config file created", "path", r.configPath)

	r.writeOK("Config written to %s", r.configPath)
	r.writePlainln("Next steps:")
	r.writePlain("1. Create an app at https://developer.spotify.com/dashboard\n")
	r.writePlain("2. Add %s as its redirect URI\n", r.cfg().Credentials.Spotify.RedirectURI)
	r.writePlain("3. Fill in credentials.spotify in %s\n", r.configPath)
	return r.writePlain("4. Run 'spotprune setup database' and 'spotprune auth login'\n")
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	path := r.cfg().Database.Path
	r.logger.Info("initializing database", "path", path)

	db, err := r.database(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	r.logger.Infof("setup complete for database: %v", path)
	return r.writeOK("Database ready at %s", path)
}
