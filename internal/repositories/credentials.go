package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/desertthunder/spotprune/internal/models"
)

// CredentialsRepository persists OAuth token pairs keyed by user id.
type CredentialsRepository struct {
	db *sql.DB
}

// NewCredentialsRepository creates a new [CredentialsRepository] with the given database connection
func NewCredentialsRepository(db *sql.DB) *CredentialsRepository {
	return &CredentialsRepository{db: db}
}

// Get returns the credentials owned by userID.
func (r *CredentialsRepository) Get(ctx context.Context, userID string) (*models.Credentials, error) {
	query := `
		SELECT user_id, access_token, refresh_token, expires_at
		FROM credentials
		WHERE user_id = ?
	`

	creds, err := scanCredentials(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("credentials for user", userID)
	}
	if err != nil {
		return nil, persistenceErr("query credentials", err)
	}
	return creds, nil
}

// Update applies the non-empty fields of upd to the credentials of userID and returns the stored result.
func (r *CredentialsRepository) Update(ctx context.Context, userID string, upd models.CredentialsUpdate) (*models.Credentials, error) {
	var (
		sets []string
		args []any
	)
	if upd.AccessToken != "" {
		sets = append(sets, "access_token = ?")
		args = append(args, upd.AccessToken)
	}
	if upd.RefreshToken != "" {
		sets = append(sets, "refresh_token = ?")
		args = append(args, upd.RefreshToken)
	}
	if !upd.ExpiresAt.IsZero() {
		sets = append(sets, "expires_at = ?")
		args = append(args, upd.ExpiresAt.UTC())
	}

	if len(sets) == 0 {
		return r.Get(ctx, userID)
	}

	query := "UPDATE credentials SET " + strings.Join(sets, ", ") + " WHERE user_id = ?"
	args = append(args, userID)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr("update credentials", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, persistenceErr("get affected rows", err)
	}
	if rows == 0 {
		return nil, notFound("credentials for user", userID)
	}

	return r.Get(ctx, userID)
}

// ExpiringBefore returns every credential whose expiry is strictly before t, soonest first.
func (r *CredentialsRepository) ExpiringBefore(ctx context.Context, t time.Time) ([]models.Credentials, error) {
	query := `
		SELECT user_id, access_token, refresh_token, expires_at
		FROM credentials
		WHERE expires_at < ?
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, t.UTC())
	if err != nil {
		return nil, persistenceErr("query expiring credentials", err)
	}
	defer rows.Close()

	var out []models.Credentials
	for rows.Next() {
		creds, err := scanCredentials(rows)
		if err != nil {
			return nil, persistenceErr("scan credentials", err)
		}
		out = append(out, *creds)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate credentials", err)
	}
	return out, nil
}

func scanCredentials(row scanner) (*models.Credentials, error) {
	var c models.Credentials
	if err := row.Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt); err != nil {
		return nil, err
	}
	return &c, nil
}
