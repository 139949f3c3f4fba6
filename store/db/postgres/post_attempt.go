package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/autopostd/autopostd/store"
)

func (d *DB) CreatePostAttempt(ctx context.Context, create *store.PostAttempt) (*store.PostAttempt, error) {
	fields := []string{
		"id", "created_ts", "updated_ts", "version",
		"post_id", "bot_id", "group_id", "chat_id",
		"message_id", "success", "deleted", "error_code", "error_msg",
	}
	args := []any{
		create.ID, create.CreatedTs, create.UpdatedTs, create.Version,
		create.PostID, create.BotID, create.GroupID, create.ChatID,
		create.MessageID, create.Success, create.Deleted, create.ErrorCode, create.ErrorMsg,
	}

	stmt := `INSERT INTO post_attempts (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, translateError(err)
	}
	return create, nil
}

func (d *DB) ListPostAttempts(ctx context.Context, find *store.FindPostAttempt) ([]*store.PostAttempt, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.PostID; v != nil {
		where, args = append(where, "post_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Success; v != nil {
		where, args = append(where, "success = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT
			id, created_ts, updated_ts, version,
			post_id, bot_id, group_id, chat_id,
			message_id, success, deleted, error_code, error_msg
		FROM post_attempts
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if v := find.Limit; v != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *v)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.PostAttempt{}
	for rows.Next() {
		var attempt store.PostAttempt
		if err := rows.Scan(
			&attempt.ID, &attempt.CreatedTs, &attempt.UpdatedTs, &attempt.Version,
			&attempt.PostID, &attempt.BotID, &attempt.GroupID, &attempt.ChatID,
			&attempt.MessageID, &attempt.Success, &attempt.Deleted, &attempt.ErrorCode, &attempt.ErrorMsg,
		); err != nil {
			return nil, err
		}
		list = append(list, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// LatestDeletableAttempt returns the newest successful attempt whose message
// is still up, or ErrNotFound.
func (d *DB) LatestDeletableAttempt(ctx context.Context, postID string) (*store.PostAttempt, error) {
	query := `
		SELECT
			id, created_ts, updated_ts, version,
			post_id, bot_id, group_id, chat_id,
			message_id, success, deleted, error_code, error_msg
		FROM post_attempts
		WHERE post_id = $1 AND success AND NOT deleted AND message_id IS NOT NULL
		ORDER BY created_ts DESC, id DESC
		LIMIT 1`
	var attempt store.PostAttempt
	if err := d.db.QueryRowContext(ctx, query, postID).Scan(
		&attempt.ID, &attempt.CreatedTs, &attempt.UpdatedTs, &attempt.Version,
		&attempt.PostID, &attempt.BotID, &attempt.GroupID, &attempt.ChatID,
		&attempt.MessageID, &attempt.Success, &attempt.Deleted, &attempt.ErrorCode, &attempt.ErrorMsg,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

func (d *DB) MarkAttemptDeleted(ctx context.Context, id string) error {
	stmt := `UPDATE post_attempts SET deleted = TRUE, updated_ts = $1 WHERE id = $2`
	_, err := d.db.ExecContext(ctx, stmt, time.Now().Unix(), id)
	return err
}

func (d *DB) DeleteAttemptsOlderThan(ctx context.Context, ts int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM post_attempts WHERE created_ts < $1`, ts)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *DB) CountAttemptsSince(ctx context.Context, botID string, ts int64) (int64, error) {
	query := `SELECT COUNT(*) FROM post_attempts WHERE bot_id = $1 AND created_ts >= $2`
	var count int64
	if err := d.db.QueryRowContext(ctx, query, botID, ts).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
