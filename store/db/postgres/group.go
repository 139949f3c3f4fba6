package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autopostd/autopostd/store"
)

func (d *DB) CreateGroup(ctx context.Context, create *store.Group) (*store.Group, error) {
	fields := []string{
		"id", "created_ts", "updated_ts", "version",
		"tg_chat_id", "type", "title", "username",
		"last_post_ts", "assigned_bot_id", "metadata_refreshed_ts",
	}
	args := []any{
		create.ID, create.CreatedTs, create.UpdatedTs, create.Version,
		create.TgChatID, create.Type, create.Title, create.Username,
		create.LastPostTs, create.AssignedBotID, create.MetadataRefreshedTs,
	}

	stmt := `INSERT INTO groups (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, translateError(err)
	}
	return create, nil
}

func (d *DB) ListGroups(ctx context.Context, find *store.FindGroup) ([]*store.Group, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.TgChatID; v != nil {
		where, args = append(where, "tg_chat_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.AssignedBotID; v != nil {
		where, args = append(where, "assigned_bot_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if find.OnlyAssigned {
		where = append(where, "assigned_bot_id IS NOT NULL")
	}

	query := `
		SELECT
			id, created_ts, updated_ts, version,
			tg_chat_id, type, title, username,
			last_post_ts, assigned_bot_id, metadata_refreshed_ts
		FROM groups
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id`
	if v := find.Limit; v != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *v)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.Group{}
	for rows.Next() {
		var group store.Group
		if err := rows.Scan(
			&group.ID, &group.CreatedTs, &group.UpdatedTs, &group.Version,
			&group.TgChatID, &group.Type, &group.Title, &group.Username,
			&group.LastPostTs, &group.AssignedBotID, &group.MetadataRefreshedTs,
		); err != nil {
			return nil, err
		}
		list = append(list, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// AssignGroupsToBot binds each chat to the bot, creating missing group rows.
// Callers wrap it in RunInTx so the whole batch lands atomically.
func (d *DB) AssignGroupsToBot(ctx context.Context, botID string, chatIDs []int64) (*store.AssignResult, error) {
	result := &store.AssignResult{
		NewlyAssigned:   []int64{},
		AlreadyAssigned: []int64{},
		Reassigned:      []store.ReassignedGroup{},
	}
	now := time.Now().Unix()

	for _, chatID := range chatIDs {
		var id string
		var assigned sql.NullString
		err := d.db.QueryRowContext(ctx,
			`SELECT id, assigned_bot_id FROM groups WHERE tg_chat_id = $1`,
			chatID,
		).Scan(&id, &assigned)
		if err == sql.ErrNoRows {
			stmt := `
				INSERT INTO groups (
					id, created_ts, updated_ts, version,
					tg_chat_id, type, title, username,
					last_post_ts, assigned_bot_id, metadata_refreshed_ts
				) VALUES (` + placeholders(11) + `)`
			if _, err := d.db.ExecContext(ctx, stmt,
				uuid.NewString(), now, now, 1,
				chatID, store.GroupTypeSupergroup, "", "",
				0, botID, 0,
			); err != nil {
				return nil, translateError(err)
			}
			result.NewlyAssigned = append(result.NewlyAssigned, chatID)
			continue
		}
		if err != nil {
			return nil, err
		}

		if assigned.Valid && assigned.String == botID {
			result.AlreadyAssigned = append(result.AlreadyAssigned, chatID)
			continue
		}
		stmt := `UPDATE groups SET assigned_bot_id = $1, updated_ts = $2, version = version + 1 WHERE id = $3`
		if _, err := d.db.ExecContext(ctx, stmt, botID, now, id); err != nil {
			return nil, err
		}
		if assigned.Valid {
			result.Reassigned = append(result.Reassigned, store.ReassignedGroup{
				TgChatID:      chatID,
				PreviousBotID: assigned.String,
			})
		} else {
			result.NewlyAssigned = append(result.NewlyAssigned, chatID)
		}
	}
	return result, nil
}

// UpdateGroupMetadata applies a direct UPDATE without bumping the version, so
// a refresh never invalidates a concurrent operator edit.
func (d *DB) UpdateGroupMetadata(ctx context.Context, update *store.UpdateGroupMetadata) error {
	set, args := []string{}, []any{}
	if v := update.Title; v != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Username; v != nil {
		set, args = append(set, "username = "+placeholder(len(args)+1)), append(args, *v)
	}
	set, args = append(set, "metadata_refreshed_ts = "+placeholder(len(args)+1)), append(args, update.MetadataRefreshedTs)
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	args = append(args, update.ID)

	stmt := `UPDATE groups SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateGroupLastPost is a direct UPDATE for the same reason as above: the
// scheduler touches it on every successful forward.
func (d *DB) UpdateGroupLastPost(ctx context.Context, id string, ts int64) error {
	stmt := `UPDATE groups SET last_post_ts = $1, updated_ts = $2 WHERE id = $3`
	_, err := d.db.ExecContext(ctx, stmt, ts, ts, id)
	return err
}

// DeleteGroup removes the group; its posts and their attempts cascade.
func (d *DB) DeleteGroup(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return err
}

func (d *DB) CountGroupsByBot(ctx context.Context, botID string) (int32, error) {
	var count int32
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM groups WHERE assigned_bot_id = $1`, botID,
	).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
