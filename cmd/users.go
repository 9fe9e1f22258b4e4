package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/shared"
)

type userView struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func newUserView(u *models.User) userView {
	return userView{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		ExpiresAt:   u.Credentials.ExpiresAt,
		CreatedAt:   u.CreatedAt,
	}
}

// UsersList prints every signed in account. Tokens are never printed.
func (r *Runner) UsersList(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	users, err := d.accounts.List(ctx)
	if err != nil {
		return err
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}

	if cmd.Bool("json") {
		return r.writeJSON(views, true)
	}

	if len(views) == 0 {
		return r.writePlain("No users. Run 'spotprune auth login' first.\n")
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{v.ID, dash(v.DisplayName), v.ExpiresAt.Local().Format(time.DateTime)})
	}

	r.writePlainHeader(fmt.Sprintf("Users (%d)", len(views)))
	return r.writePlain("%s\n", r.table(rows, "ID", "Name", "Token expires"))
}

// UsersDelete removes an account with its credentials and tracked playlists.
func (r *Runner) UsersDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("user")
	if !cmd.Bool("confirm") {
		return fmt.Errorf("%w: pass --confirm to delete %s and all of its playlists", shared.ErrMissingArgument, id)
	}

	d, err := r.services(ctx)
	if err != nil {
		return err
	}
	if err := d.accounts.Delete(ctx, id); err != nil {
		return err
	}

	return r.writeOK("Deleted %s", id)
}

// table renders rows with a bold header row.
func (r *Runner) table(rows [][]string, headers ...string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.styles.help).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.styles.title.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...).
		Render()
}
