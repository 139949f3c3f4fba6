package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/autopostd/autopostd/store"
)

func (d *DB) CreatePost(ctx context.Context, create *store.Post) (*store.Post, error) {
	// Re-submission of the same source for the same group replaces the old
	// row, attempts included.
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM posts WHERE group_id = ? AND source_channel_username = ? AND source_message_id = ?`,
		create.GroupID, create.SourceChannelUsername, create.SourceMessageID,
	); err != nil {
		return nil, err
	}

	fields := []string{
		"id", "created_ts", "updated_ts", "version",
		"group_id", "bot_id", "status", "target_chat_id", "distribution_name",
		"source_channel_username", "source_channel_id", "source_message_id",
		"last_attempt_ts", "last_error", "count_attempts", "target_attempts",
		"delete_last_attempt", "pin_after_post", "num_attempt_for_pin",
		"pause_between_attempts_s", "notify_on_failure",
	}
	args := []any{
		create.ID, create.CreatedTs, create.UpdatedTs, create.Version,
		create.GroupID, create.BotID, create.Status, create.TargetChatID, create.DistributionName,
		create.SourceChannelUsername, create.SourceChannelID, create.SourceMessageID,
		create.LastAttemptTs, create.LastError, create.CountAttempts, create.TargetAttempts,
		create.DeleteLastAttempt, create.PinAfterPost, create.NumAttemptForPin,
		create.PauseBetweenAttemptsS, create.NotifyOnFailure,
	}

	stmt := `INSERT INTO posts (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, translateError(err)
	}
	return create, nil
}

func (d *DB) ListPosts(ctx context.Context, find *store.FindPost) ([]*store.Post, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.GroupID; v != nil {
		where, args = append(where, "group_id = ?"), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "status = ?"), append(args, *v)
	}

	query := `
		SELECT
			id, created_ts, updated_ts, version,
			group_id, bot_id, status, target_chat_id, distribution_name,
			source_channel_username, source_channel_id, source_message_id,
			last_attempt_ts, last_error, count_attempts, target_attempts,
			delete_last_attempt, pin_after_post, num_attempt_for_pin,
			pause_between_attempts_s, notify_on_failure
		FROM posts
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

	list := []*store.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// ListPostsByBot returns the newest posts whose group is currently bound to
// the bot. No status filter: the scheduler applies eligibility itself.
func (d *DB) ListPostsByBot(ctx context.Context, botID string, limit int32) ([]*store.Post, error) {
	query := `
		SELECT
			posts.id, posts.created_ts, posts.updated_ts, posts.version,
			posts.group_id, posts.bot_id, posts.status, posts.target_chat_id, posts.distribution_name,
			posts.source_channel_username, posts.source_channel_id, posts.source_message_id,
			posts.last_attempt_ts, posts.last_error, posts.count_attempts, posts.target_attempts,
			posts.delete_last_attempt, posts.pin_after_post, posts.num_attempt_for_pin,
			posts.pause_between_attempts_s, posts.notify_on_failure
		FROM posts
		JOIN groups ON groups.id = posts.group_id
		WHERE groups.assigned_bot_id = ?
		ORDER BY posts.created_ts DESC, posts.id
		LIMIT ?`
	rows, err := d.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// ListPostsByDistribution returns the members of one distribution class,
// newest first.
func (d *DB) ListPostsByDistribution(ctx context.Context, name *string) ([]*store.Post, error) {
	query := `
		SELECT
			id, created_ts, updated_ts, version,
			group_id, bot_id, status, target_chat_id, distribution_name,
			source_channel_username, source_channel_id, source_message_id,
			last_attempt_ts, last_error, count_attempts, target_attempts,
			delete_last_attempt, pin_after_post, num_attempt_for_pin,
			pause_between_attempts_s, notify_on_failure
		FROM posts
		WHERE distribution_name IS ?
		ORDER BY created_ts DESC, id`
	rows, err := d.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// IncrementPostAttempts bumps the attempt counter with a direct UPDATE so it
// never conflicts with concurrent bulk ops.
func (d *DB) IncrementPostAttempts(ctx context.Context, id string, ts int64) error {
	stmt := `UPDATE posts SET count_attempts = count_attempts + 1, last_attempt_ts = ?, updated_ts = ? WHERE id = ?`
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

// MarkPostError transitions a non-done post to error. done is terminal.
func (d *DB) MarkPostError(ctx context.Context, id string, lastError string) error {
	stmt := `UPDATE posts SET status = ?, last_error = ?, updated_ts = ? WHERE id = ? AND status <> ?`
	_, err := d.db.ExecContext(ctx, stmt, store.PostStatusError, lastError, time.Now().Unix(), id, store.PostStatusDone)
	return err
}

func (d *DB) MarkPostDone(ctx context.Context, id string) error {
	stmt := `UPDATE posts SET status = ?, updated_ts = ? WHERE id = ? AND status <> ?`
	_, err := d.db.ExecContext(ctx, stmt, store.PostStatusDone, time.Now().Unix(), id, store.PostStatusDone)
	return err
}

func (d *DB) PausePostsByDistribution(ctx context.Context, name *string) (int64, error) {
	stmt := `UPDATE posts SET status = ?, updated_ts = ? WHERE distribution_name IS ? AND status = ?`
	result, err := d.db.ExecContext(ctx, stmt, store.PostStatusPaused, time.Now().Unix(), name, store.PostStatusActive)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ResumePostsByDistribution reactivates paused members and clears errored
// ones.
func (d *DB) ResumePostsByDistribution(ctx context.Context, name *string) (int64, error) {
	stmt := `
		UPDATE posts
		SET status = ?, last_error = '', updated_ts = ?
		WHERE distribution_name IS ? AND status IN (?, ?)`
	result, err := d.db.ExecContext(ctx, stmt,
		store.PostStatusActive, time.Now().Unix(), name,
		store.PostStatusPaused, store.PostStatusError,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *DB) SetNotifyByDistribution(ctx context.Context, name *string, notify bool) (int64, error) {
	stmt := `UPDATE posts SET notify_on_failure = ?, updated_ts = ? WHERE distribution_name IS ?`
	result, err := d.db.ExecContext(ctx, stmt, notify, time.Now().Unix(), name)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *DB) DeleteDistribution(ctx context.Context, name *string) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM posts WHERE distribution_name IS ?`, name)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *DB) DeleteDistributionGroups(ctx context.Context, name *string, groupIDs []string) (int64, error) {
	if len(groupIDs) == 0 {
		return 0, nil
	}
	args := []any{name}
	for _, id := range groupIDs {
		args = append(args, id)
	}
	stmt := `DELETE FROM posts WHERE distribution_name IS ? AND group_id IN (` + placeholders(len(groupIDs)) + `)`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteActivePostsByGroups removes the groups' live (non-done) posts so a
// new distribution can claim them.
func (d *DB) DeleteActivePostsByGroups(ctx context.Context, groupIDs []string) (int64, error) {
	if len(groupIDs) == 0 {
		return 0, nil
	}
	args := []any{store.PostStatusDone}
	for _, id := range groupIDs {
		args = append(args, id)
	}
	stmt := `DELETE FROM posts WHERE status <> ? AND group_id IN (` + placeholders(len(groupIDs)) + `)`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *DB) PausePostsByBot(ctx context.Context, botID string) (int64, error) {
	stmt := `UPDATE posts SET status = ?, updated_ts = ? WHERE bot_id = ? AND status = ?`
	result, err := d.db.ExecContext(ctx, stmt, store.PostStatusPaused, time.Now().Unix(), botID, store.PostStatusActive)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (d *DB) UnassignPostsByBot(ctx context.Context, botID string) (int64, error) {
	stmt := `UPDATE posts SET bot_id = NULL, updated_ts = ? WHERE bot_id = ?`
	result, err := d.db.ExecContext(ctx, stmt, time.Now().Unix(), botID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GroupsDistributionUsage maps each group to the distribution id of its live
// post. Groups with no live post are absent from the map.
func (d *DB) GroupsDistributionUsage(ctx context.Context, groupIDs []string) (map[string]string, error) {
	usage := map[string]string{}
	if len(groupIDs) == 0 {
		return usage, nil
	}

	args := []any{store.PostStatusDone}
	for _, id := range groupIDs {
		args = append(args, id)
	}
	query := `
		SELECT
			posts.group_id,
			(SELECT MIN(members.id) FROM posts members
			 WHERE members.distribution_name IS posts.distribution_name)
		FROM posts
		WHERE posts.status <> ? AND posts.group_id IN (` + placeholders(len(groupIDs)) + `)`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var groupID, distributionID string
		if err := rows.Scan(&groupID, &distributionID); err != nil {
			return nil, err
		}
		usage[groupID] = distributionID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usage, nil
}

func (d *DB) ListDistributions(ctx context.Context, limit, offset int32) ([]*store.Distribution, error) {
	// MIN over the boolean column is the AND across members.
	query := `
		SELECT
			MIN(id),
			distribution_name,
			MIN(source_channel_username),
			MIN(source_channel_id),
			MIN(source_message_id),
			MIN(notify_on_failure),
			SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'paused' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END),
			COUNT(*),
			MIN(created_ts),
			MAX(updated_ts)
		FROM posts
		GROUP BY distribution_name
		ORDER BY MIN(created_ts) DESC NULLS LAST
		LIMIT ? OFFSET ?`
	rows, err := d.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.Distribution{}
	for rows.Next() {
		var dist store.Distribution
		if err := rows.Scan(
			&dist.ID, &dist.Name,
			&dist.SourceChannelUsername, &dist.SourceChannelID, &dist.SourceMessageID,
			&dist.NotifyOnFailure,
			&dist.ActiveCount, &dist.PausedCount, &dist.ErrorCount, &dist.DoneCount,
			&dist.TotalPosts,
			&dist.EarliestCreatedTs, &dist.LatestUpdatedTs,
		); err != nil {
			return nil, err
		}
		list = append(list, &dist)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) CountDistributions(ctx context.Context) (int32, error) {
	// DISTINCT keeps the NULL-name class as its own row, COUNT(DISTINCT col)
	// would not.
	query := `SELECT COUNT(*) FROM (SELECT DISTINCT distribution_name FROM posts) names`
	var count int32
	if err := d.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (d *DB) GetDistributionSummary(ctx context.Context, name *string) (*store.Distribution, error) {
	query := `
		SELECT
			MIN(id),
			distribution_name,
			MIN(source_channel_username),
			MIN(source_channel_id),
			MIN(source_message_id),
			MIN(notify_on_failure),
			SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'paused' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END),
			COUNT(*),
			MIN(created_ts),
			MAX(updated_ts)
		FROM posts
		WHERE distribution_name IS ?
		GROUP BY distribution_name`
	var dist store.Distribution
	if err := d.db.QueryRowContext(ctx, query, name).Scan(
		&dist.ID, &dist.Name,
		&dist.SourceChannelUsername, &dist.SourceChannelID, &dist.SourceMessageID,
		&dist.NotifyOnFailure,
		&dist.ActiveCount, &dist.PausedCount, &dist.ErrorCount, &dist.DoneCount,
		&dist.TotalPosts,
		&dist.EarliestCreatedTs, &dist.LatestUpdatedTs,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &dist, nil
}

// EarliestPostByDistribution returns the oldest surviving member, the one
// whose knobs seed posts added to the distribution later.
func (d *DB) EarliestPostByDistribution(ctx context.Context, name *string) (*store.Post, error) {
	query := `
		SELECT
			id, created_ts, updated_ts, version,
			group_id, bot_id, status, target_chat_id, distribution_name,
			source_channel_username, source_channel_id, source_message_id,
			last_attempt_ts, last_error, count_attempts, target_attempts,
			delete_last_attempt, pin_after_post, num_attempt_for_pin,
			pause_between_attempts_s, notify_on_failure
		FROM posts
		WHERE distribution_name IS ?
		ORDER BY created_ts ASC, id ASC
		LIMIT 1`
	rows, err := d.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	post, err := scanPost(rows)
	if err != nil {
		return nil, err
	}
	return post, rows.Err()
}

func scanPost(rows *sql.Rows) (*store.Post, error) {
	var post store.Post
	if err := rows.Scan(
		&post.ID, &post.CreatedTs, &post.UpdatedTs, &post.Version,
		&post.GroupID, &post.BotID, &post.Status, &post.TargetChatID, &post.DistributionName,
		&post.SourceChannelUsername, &post.SourceChannelID, &post.SourceMessageID,
		&post.LastAttemptTs, &post.LastError, &post.CountAttempts, &post.TargetAttempts,
		&post.DeleteLastAttempt, &post.PinAfterPost, &post.NumAttemptForPin,
		&post.PauseBetweenAttemptsS, &post.NotifyOnFailure,
	); err != nil {
		return nil, err
	}
	return &post, nil
}
