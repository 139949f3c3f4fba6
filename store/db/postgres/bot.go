package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/autopostd/autopostd/store"
)

func (d *DB) CreateBot(ctx context.Context, create *store.Bot) (*store.Bot, error) {
	fields := []string{
		"id", "created_ts", "updated_ts", "version",
		"bot_id", "username", "name", "token", "server_ip",
		"last_heartbeat_ts", "self_destruction", "deactivated", "settings_id", "max_posts",
		"tracked_branch", "current_commit_hash", "latest_available_commit_hash",
		"commits_behind", "last_update_check_ts", "force_update",
	}
	args := []any{
		create.ID, create.CreatedTs, create.UpdatedTs, create.Version,
		create.BotID, create.Username, create.Name, create.Token, create.ServerIP,
		create.LastHeartbeatTs, create.SelfDestruction, create.Deactivated, create.SettingsID, create.MaxPosts,
		create.TrackedBranch, create.CurrentCommitHash, create.LatestAvailableCommitHash,
		create.CommitsBehind, create.LastUpdateCheckTs, create.ForceUpdate,
	}

	stmt := `INSERT INTO bots (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, translateError(err)
	}
	return create, nil
}

func (d *DB) ListBots(ctx context.Context, find *store.FindBot) ([]*store.Bot, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Token; v != nil {
		where, args = append(where, "token = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ServerIP; v != nil {
		where, args = append(where, "server_ip = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Deactivated; v != nil {
		where, args = append(where, "deactivated = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT
			id, created_ts, updated_ts, version,
			bot_id, username, name, token, server_ip,
			last_heartbeat_ts, self_destruction, deactivated, settings_id, max_posts,
			tracked_branch, current_commit_hash, latest_available_commit_hash,
			commits_behind, last_update_check_ts, force_update
		FROM bots
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.Bot{}
	for rows.Next() {
		var bot store.Bot
		if err := rows.Scan(
			&bot.ID, &bot.CreatedTs, &bot.UpdatedTs, &bot.Version,
			&bot.BotID, &bot.Username, &bot.Name, &bot.Token, &bot.ServerIP,
			&bot.LastHeartbeatTs, &bot.SelfDestruction, &bot.Deactivated, &bot.SettingsID, &bot.MaxPosts,
			&bot.TrackedBranch, &bot.CurrentCommitHash, &bot.LatestAvailableCommitHash,
			&bot.CommitsBehind, &bot.LastUpdateCheckTs, &bot.ForceUpdate,
		); err != nil {
			return nil, err
		}
		list = append(list, &bot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateBot(ctx context.Context, update *store.UpdateBot) (*store.Bot, error) {
	set, args := []string{}, []any{}
	if v := update.BotID; v != nil {
		set, args = append(set, "bot_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Username; v != nil {
		set, args = append(set, "username = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Name; v != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ServerIP; v != nil {
		set, args = append(set, "server_ip = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.SelfDestruction; v != nil {
		set, args = append(set, "self_destruction = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Deactivated; v != nil {
		set, args = append(set, "deactivated = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.SettingsID; v != nil {
		set, args = append(set, "settings_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.MaxPosts; v != nil {
		set, args = append(set, "max_posts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.TrackedBranch; v != nil {
		set, args = append(set, "tracked_branch = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CurrentCommitHash; v != nil {
		set, args = append(set, "current_commit_hash = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LatestAvailableCommitHash; v != nil {
		set, args = append(set, "latest_available_commit_hash = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CommitsBehind; v != nil {
		set, args = append(set, "commits_behind = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastUpdateCheckTs; v != nil {
		set, args = append(set, "last_update_check_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ForceUpdate; v != nil {
		set, args = append(set, "force_update = "+placeholder(len(args)+1)), append(args, *v)
	}

	updatedTs := time.Now().Unix()
	if update.UpdatedTs != nil {
		updatedTs = *update.UpdatedTs
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, updatedTs)
	set = append(set, "version = version + 1")

	args = append(args, update.ID)
	where := "id = " + placeholder(len(args))
	args = append(args, update.Version)
	where += " AND version = " + placeholder(len(args))

	stmt := `
		UPDATE bots
		SET ` + strings.Join(set, ", ") + `
		WHERE ` + where + `
		RETURNING
			id, created_ts, updated_ts, version,
			bot_id, username, name, token, server_ip,
			last_heartbeat_ts, self_destruction, deactivated, settings_id, max_posts,
			tracked_branch, current_commit_hash, latest_available_commit_hash,
			commits_behind, last_update_check_ts, force_update`
	var bot store.Bot
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&bot.ID, &bot.CreatedTs, &bot.UpdatedTs, &bot.Version,
		&bot.BotID, &bot.Username, &bot.Name, &bot.Token, &bot.ServerIP,
		&bot.LastHeartbeatTs, &bot.SelfDestruction, &bot.Deactivated, &bot.SettingsID, &bot.MaxPosts,
		&bot.TrackedBranch, &bot.CurrentCommitHash, &bot.LatestAvailableCommitHash,
		&bot.CommitsBehind, &bot.LastUpdateCheckTs, &bot.ForceUpdate,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrStaleVersion
		}
		return nil, translateError(err)
	}
	return &bot, nil
}

// UpdateBotHeartbeat touches last_heartbeat_ts without bumping the version,
// so it never conflicts with concurrent operator edits.
func (d *DB) UpdateBotHeartbeat(ctx context.Context, id string, ts int64) error {
	stmt := `UPDATE bots SET last_heartbeat_ts = ` + placeholder(1) + `, updated_ts = ` + placeholder(2) + ` WHERE id = ` + placeholder(3)
	result, err := d.db.ExecContext(ctx, stmt, ts, ts, id)
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

// MarkBotDeactivated flips the bot off without a version check, so the kill
// switch cannot be deferred by concurrent edits.
func (d *DB) MarkBotDeactivated(ctx context.Context, id string) error {
	stmt := `UPDATE bots SET deactivated = TRUE, updated_ts = $1 WHERE id = $2`
	result, err := d.db.ExecContext(ctx, stmt, time.Now().Unix(), id)
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

// HasBotIPConflict reports whether another live bot already claims serverIP.
func (d *DB) HasBotIPConflict(ctx context.Context, serverIP, token string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM bots WHERE server_ip = $1 AND token <> $2 AND NOT deactivated)`
	var exists bool
	if err := d.db.QueryRowContext(ctx, query, serverIP, token).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// BotLoads reports how many non-done posts are routed through each live bot,
// least loaded first.
func (d *DB) BotLoads(ctx context.Context) ([]*store.BotLoad, error) {
	query := `
		SELECT bots.id, bots.username, COUNT(posts.id)
		FROM bots
		LEFT JOIN posts ON posts.bot_id = bots.id AND posts.status <> 'done'
		WHERE NOT bots.deactivated
		GROUP BY bots.id, bots.username
		ORDER BY COUNT(posts.id) ASC, bots.created_ts ASC`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.BotLoad{}
	for rows.Next() {
		var load store.BotLoad
		if err := rows.Scan(&load.BotID, &load.Username, &load.ActivePosts); err != nil {
			return nil, err
		}
		list = append(list, &load)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
