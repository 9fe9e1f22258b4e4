package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/shared"
)

// UserRepository persists [models.User] rows together with their credentials.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts the user and its credentials in one transaction.
// The user id is the remote account id and must be set by the caller.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	user.Credentials.UserID = user.ID

	return WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, display_name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			user.ID, user.DisplayName, now, now,
		)
		if err != nil {
			return persistenceErr("insert user", err)
		}

		c := user.Credentials
		_, err = tx.ExecContext(ctx,
			`INSERT INTO credentials (user_id, access_token, refresh_token, expires_at) VALUES (?, ?, ?, ?)`,
			user.ID, c.AccessToken, c.RefreshToken, c.ExpiresAt.UTC(),
		)
		if err != nil {
			return persistenceErr("insert credentials", err)
		}
		return nil
	})
}

// Get retrieves a user by ID with its credentials
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT u.id, u.display_name, u.created_at, u.updated_at,
			c.access_token, c.refresh_token, c.expires_at
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE u.id = ?
	`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, persistenceErr("query user", err)
	}
	return user, nil
}

// Rename updates the display name of a user.
func (r *UserRepository) Rename(ctx context.Context, id, displayName string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
		displayName, time.Now().UTC(), id,
	)
	if err != nil {
		return persistenceErr("update user", err)
	}
	return expectAffected(result, "user", id)
}

// Delete removes a user. Credentials and playlists are removed by cascade.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return persistenceErr("delete user", err)
	}
	return expectAffected(result, "user", id)
}

// List retrieves all users ordered by display name
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT u.id, u.display_name, u.created_at, u.updated_at,
			c.access_token, c.refresh_token, c.expires_at
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		ORDER BY u.display_name ASC, u.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistenceErr("query users", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, persistenceErr("scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate users", err)
	}
	return users, nil
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt,
		&u.Credentials.AccessToken, &u.Credentials.RefreshToken, &u.Credentials.ExpiresAt)
	if err != nil {
		return nil, err
	}
	u.Credentials.UserID = u.ID
	return &u, nil
}

func expectAffected(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return persistenceErr("get affected rows", err)
	}
	if rows == 0 {
		return notFound(kind, id)
	}
	return nil
}
