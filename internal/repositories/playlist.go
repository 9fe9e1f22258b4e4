package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/desertthunder/spotprune/internal/models"
)

// Order selects the lexicographic direction of playlist listings.
type Order int

const (
	OrderAZ Order = iota
	OrderZA
)

// ParseOrder maps "az" and "za" to an [Order]. Anything else is reported as false.
func ParseOrder(s string) (Order, bool) {
	switch strings.ToLower(s) {
	case "", "az":
		return OrderAZ, true
	case "za":
		return OrderZA, true
	default:
		return OrderAZ, false
	}
}

const playlistColumns = `id, name, owner_id, number_of_tracks, oldest_track,
	max_track_age, max_tracks, discard_playlist_id, created_at, updated_at`

// PlaylistRepository persists tracked playlists keyed by their remote id.
//
// Rows are created and removed only by reconciliation; retention only updates summaries.
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Get retrieves a playlist by its remote id
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE id = ?`

	p, err := scanPlaylist(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("playlist", id)
	}
	if err != nil {
		return nil, persistenceErr("query playlist", err)
	}
	return p, nil
}

// Insert stores playlists in one transaction and returns how many rows were written.
func (r *PlaylistRepository) Insert(ctx context.Context, playlists []models.Playlist) (int, error) {
	if len(playlists) == 0 {
		return 0, nil
	}

	query := `INSERT INTO playlists (` + playlistColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	inserted := 0

	err := WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		for _, p := range playlists {
			_, err := tx.ExecContext(ctx, query,
				p.ID, p.Name, p.OwnerID, p.NumberOfTracks, p.OldestTrack.UTC(),
				nullInt(p.MaxTrackAge), nullInt(p.MaxTracks), nullString(p.DiscardPlaylistID),
				now, now,
			)
			if err != nil {
				return persistenceErr("insert playlist "+p.ID, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Update writes the non-nil summary fields of upd and returns the stored playlist.
func (r *PlaylistRepository) Update(ctx context.Context, upd models.PlaylistUpdate) (*models.Playlist, error) {
	if upd.Empty() {
		return r.Get(ctx, upd.ID)
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.NumberOfTracks != nil {
		sets = append(sets, "number_of_tracks = ?")
		args = append(args, *upd.NumberOfTracks)
	}
	if upd.OldestTrack != nil {
		sets = append(sets, "oldest_track = ?")
		args = append(args, upd.OldestTrack.UTC())
	}
	args = append(args, upd.ID)

	result, err := r.db.ExecContext(ctx, "UPDATE playlists SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, persistenceErr("update playlist", err)
	}
	if err := expectAffected(result, "playlist", upd.ID); err != nil {
		return nil, err
	}
	return r.Get(ctx, upd.ID)
}

// SetPolicy replaces the retention policy of a playlist.
func (r *PlaylistRepository) SetPolicy(ctx context.Context, id string, policy models.PolicyUpdate) (*models.Playlist, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE playlists
		SET max_track_age = ?, max_tracks = ?, discard_playlist_id = ?, updated_at = ?
		WHERE id = ?
	`, nullInt(policy.MaxTrackAge), nullInt(policy.MaxTracks), nullString(policy.DiscardPlaylistID), time.Now().UTC(), id)
	if err != nil {
		return nil, persistenceErr("update playlist policy", err)
	}
	if err := expectAffected(result, "playlist", id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Delete removes playlists by id in one transaction and returns how many rows were removed.
// Ids that are not stored are ignored.
func (r *PlaylistRepository) Delete(ctx context.Context, playlists []models.Playlist) (int, error) {
	if len(playlists) == 0 {
		return 0, nil
	}

	var deleted int64
	err := WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		for _, p := range playlists {
			result, err := tx.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, p.ID)
			if err != nil {
				return persistenceErr("delete playlist "+p.ID, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return persistenceErr("get affected rows", err)
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// FilterUnknown returns the remote playlists that are not stored yet, in input order.
func (r *PlaylistRepository) FilterUnknown(ctx context.Context, remote []models.RemotePlaylist) ([]models.RemotePlaylist, error) {
	if len(remote) == 0 {
		return []models.RemotePlaylist{}, nil
	}

	args := make([]any, len(remote))
	for i, p := range remote {
		args[i] = p.ID
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM playlists WHERE id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, persistenceErr("query known playlists", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistenceErr("scan playlist id", err)
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate playlist ids", err)
	}

	unknown := make([]models.RemotePlaylist, 0, len(remote))
	for _, p := range remote {
		if _, ok := known[p.ID]; !ok {
			unknown = append(unknown, p)
		}
	}
	return unknown, nil
}

// ListByOwner returns the playlists of ownerID sorted by name.
func (r *PlaylistRepository) ListByOwner(ctx context.Context, ownerID string, order Order) ([]models.Playlist, error) {
	dir := "ASC"
	if order == OrderZA {
		dir = "DESC"
	}
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE owner_id = ? ORDER BY name ` + dir + `, id ` + dir
	return r.list(ctx, query, ownerID)
}

// ListWithPolicy returns every playlist that has at least one retention rule.
func (r *PlaylistRepository) ListWithPolicy(ctx context.Context) ([]models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists
		WHERE max_track_age IS NOT NULL OR max_tracks IS NOT NULL
		ORDER BY owner_id, id`
	return r.list(ctx, query)
}

func (r *PlaylistRepository) list(ctx context.Context, query string, args ...any) ([]models.Playlist, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr("query playlists", err)
	}
	defer rows.Close()

	var playlists []models.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, persistenceErr("scan playlist", err)
		}
		playlists = append(playlists, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate playlists", err)
	}
	return playlists, nil
}

func scanPlaylist(row scanner) (*models.Playlist, error) {
	var (
		p         models.Playlist
		maxAge    sql.NullInt64
		maxTracks sql.NullInt64
		discard   sql.NullString
	)

	err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.NumberOfTracks, &p.OldestTrack,
		&maxAge, &maxTracks, &discard, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if maxAge.Valid {
		p.MaxTrackAge = models.IntPtr(int(maxAge.Int64))
	}
	if maxTracks.Valid {
		p.MaxTracks = models.IntPtr(int(maxTracks.Int64))
	}
	if discard.Valid {
		p.DiscardPlaylistID = models.StringPtr(discard.String)
	}
	return &p, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
