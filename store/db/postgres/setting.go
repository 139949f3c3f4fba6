package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/autopostd/autopostd/store"
)

func (d *DB) CreateSetting(ctx context.Context, create *store.Setting) (*store.Setting, error) {
	// Only one row may be current; demote the rest before inserting.
	if create.IsCurrent {
		if _, err := d.db.ExecContext(ctx, `UPDATE settings SET is_current = FALSE WHERE is_current`); err != nil {
			return nil, err
		}
	}

	fields := []string{
		"id", "created_ts", "updated_ts", "version",
		"name", "is_current", "heartbeat_interval_s", "online_threshold_s", "offline_threshold_s",
		"pagination_size", "max_posts_per_bot", "notify_rights_error", "notify_failures",
		"retention_enabled", "retention_days", "default_drain_mode",
	}
	args := []any{
		create.ID, create.CreatedTs, create.UpdatedTs, create.Version,
		create.Name, create.IsCurrent, create.HeartbeatIntervalS, create.OnlineThresholdS, create.OfflineThresholdS,
		create.PaginationSize, create.MaxPostsPerBot, create.NotifyRightsError, create.NotifyFailures,
		create.RetentionEnabled, create.RetentionDays, create.DefaultDrainMode,
	}

	stmt := `INSERT INTO settings (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, translateError(err)
	}
	return create, nil
}

func (d *DB) GetCurrentSetting(ctx context.Context) (*store.Setting, error) {
	query := `
		SELECT
			id, created_ts, updated_ts, version,
			name, is_current, heartbeat_interval_s, online_threshold_s, offline_threshold_s,
			pagination_size, max_posts_per_bot, notify_rights_error, notify_failures,
			retention_enabled, retention_days, default_drain_mode
		FROM settings
		WHERE is_current
		LIMIT 1`
	var setting store.Setting
	if err := d.db.QueryRowContext(ctx, query).Scan(
		&setting.ID, &setting.CreatedTs, &setting.UpdatedTs, &setting.Version,
		&setting.Name, &setting.IsCurrent, &setting.HeartbeatIntervalS, &setting.OnlineThresholdS, &setting.OfflineThresholdS,
		&setting.PaginationSize, &setting.MaxPostsPerBot, &setting.NotifyRightsError, &setting.NotifyFailures,
		&setting.RetentionEnabled, &setting.RetentionDays, &setting.DefaultDrainMode,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &setting, nil
}

func (d *DB) UpdateSetting(ctx context.Context, update *store.UpdateSetting) (*store.Setting, error) {
	if update.IsCurrent != nil && *update.IsCurrent {
		if _, err := d.db.ExecContext(ctx, `UPDATE settings SET is_current = FALSE WHERE is_current AND id <> $1`, update.ID); err != nil {
			return nil, err
		}
	}

	set, args := []string{}, []any{}
	if v := update.Name; v != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.IsCurrent; v != nil {
		set, args = append(set, "is_current = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.HeartbeatIntervalS; v != nil {
		set, args = append(set, "heartbeat_interval_s = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.OnlineThresholdS; v != nil {
		set, args = append(set, "online_threshold_s = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.OfflineThresholdS; v != nil {
		set, args = append(set, "offline_threshold_s = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.PaginationSize; v != nil {
		set, args = append(set, "pagination_size = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.MaxPostsPerBot; v != nil {
		set, args = append(set, "max_posts_per_bot = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.NotifyRightsError; v != nil {
		set, args = append(set, "notify_rights_error = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.NotifyFailures; v != nil {
		set, args = append(set, "notify_failures = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RetentionEnabled; v != nil {
		set, args = append(set, "retention_enabled = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RetentionDays; v != nil {
		set, args = append(set, "retention_days = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.DefaultDrainMode; v != nil {
		set, args = append(set, "default_drain_mode = "+placeholder(len(args)+1)), append(args, *v)
	}

	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	set = append(set, "version = version + 1")

	args = append(args, update.ID)
	where := "id = " + placeholder(len(args))
	args = append(args, update.Version)
	where += " AND version = " + placeholder(len(args))

	stmt := `
		UPDATE settings
		SET ` + strings.Join(set, ", ") + `
		WHERE ` + where + `
		RETURNING
			id, created_ts, updated_ts, version,
			name, is_current, heartbeat_interval_s, online_threshold_s, offline_threshold_s,
			pagination_size, max_posts_per_bot, notify_rights_error, notify_failures,
			retention_enabled, retention_days, default_drain_mode`
	var setting store.Setting
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&setting.ID, &setting.CreatedTs, &setting.UpdatedTs, &setting.Version,
		&setting.Name, &setting.IsCurrent, &setting.HeartbeatIntervalS, &setting.OnlineThresholdS, &setting.OfflineThresholdS,
		&setting.PaginationSize, &setting.MaxPostsPerBot, &setting.NotifyRightsError, &setting.NotifyFailures,
		&setting.RetentionEnabled, &setting.RetentionDays, &setting.DefaultDrainMode,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrStaleVersion
		}
		return nil, translateError(err)
	}
	return &setting, nil
}
