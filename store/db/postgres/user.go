package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/autopostd/autopostd/store"
)

// UpsertUser inserts or refreshes a user keyed by tg_user_id. The superuser
// flag only ever ratchets up here; demotion is a manual operation.
func (d *DB) UpsertUser(ctx context.Context, upsert *store.User) (*store.User, error) {
	fields := []string{
		"id", "created_ts", "updated_ts", "version",
		"tg_user_id", "username", "first_name", "is_superuser",
	}
	args := []any{
		upsert.ID, upsert.CreatedTs, upsert.UpdatedTs, upsert.Version,
		upsert.TgUserID, upsert.Username, upsert.FirstName, upsert.IsSuperuser,
	}

	stmt := `
		INSERT INTO users (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (tg_user_id) DO UPDATE SET
			updated_ts = EXCLUDED.updated_ts,
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			is_superuser = users.is_superuser OR EXCLUDED.is_superuser
		RETURNING id, created_ts, updated_ts, version, tg_user_id, username, first_name, is_superuser`
	var user store.User
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&user.ID, &user.CreatedTs, &user.UpdatedTs, &user.Version,
		&user.TgUserID, &user.Username, &user.FirstName, &user.IsSuperuser,
	); err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (d *DB) ListSuperusers(ctx context.Context, limit int32) ([]*store.User, error) {
	query := `
		SELECT id, created_ts, updated_ts, version, tg_user_id, username, first_name, is_superuser
		FROM users
		WHERE is_superuser
		ORDER BY created_ts ASC, id`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.User{}
	for rows.Next() {
		var user store.User
		if err := rows.Scan(
			&user.ID, &user.CreatedTs, &user.UpdatedTs, &user.Version,
			&user.TgUserID, &user.Username, &user.FirstName, &user.IsSuperuser,
		); err != nil {
			return nil, err
		}
		list = append(list, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
