// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"newsletter/internal/models"
)

// PostStore handles post persistence, the publication queries the
// dispatcher drives, and the post row lock.
type PostStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostStore creates a new PostStore. A zero lockTimeout uses DefaultLockTimeout.
func NewPostStore(db *sql.DB, lockTimeout time.Duration) *PostStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostStore{db: db, lockTimeout: lockTimeout}
}

// postSelect joins the author so AuthorName is always populated.
const postSelect = `
	SELECT p.id, p.title, p.slug, p.author_id, p.content, p.summary,
	       p.is_public, p.is_published, p.publish_at, p.notifications_sent,
	       p.created_at, p.updated_at,
	       concat_ws(' ', NULLIF(u.first_name, ''), NULLIF(u.last_name, ''))
	FROM posts p
	JOIN users u ON u.id = p.author_id`

// publishDateExpr is the SQL form of Post.PublishDate.
const publishDateExpr = `COALESCE(p.publish_at, p.created_at)`

func scanPost(scanner interface{ Scan(...any) error }) (*models.Post, error) {
	p := &models.Post{}
	err := scanner.Scan(
		&p.ID, &p.Title, &p.Slug, &p.AuthorID, &p.Content, &p.Summary,
		&p.IsPublic, &p.IsPublished, &p.PublishAt, &p.NotificationsSent,
		&p.CreatedAt, &p.UpdatedAt, &p.AuthorName,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostStore) queryPosts(ctx context.Context, q string, args ...any) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

// FindByID retrieves a post and its category IDs. Returns nil if not found.
func (s *PostStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	return s.findOne(ctx, postSelect+` WHERE p.id = $1`, id)
}

// FindPublishedBySlug retrieves a published post by slug. When publicOnly
// is set, non-public posts are treated as missing. Returns nil if not found.
func (s *PostStore) FindPublishedBySlug(ctx context.Context, slug string, publicOnly bool) (*models.Post, error) {
	q := postSelect + ` WHERE p.slug = $1 AND p.is_published`
	if publicOnly {
		q += ` AND p.is_public`
	}
	return s.findOne(ctx, q, slug)
}

func (s *PostStore) findOne(ctx context.Context, q string, arg any) (*models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post: %w", err)
	}
	if p.CategoryIDs, err = s.categoryIDs(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostStore) categoryIDs(ctx context.Context, postID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category_id FROM post_categories WHERE post_id = $1 ORDER BY category_id`, postID)
	if err != nil {
		return nil, fmt.Errorf("post categories: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post category: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a post with its categories and returns it.
func (s *PostStore) Create(ctx context.Context, p *models.Post) (*models.Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO posts (title, slug, author_id, content, summary, is_public, is_published, publish_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, p.Title, p.Slug, p.AuthorID, p.Content, p.Summary, p.IsPublic, p.IsPublished, p.PublishAt,
	).Scan(&id)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateSlug
	}
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	if err := replacePostCategories(ctx, tx, id, p.CategoryIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit post: %w", err)
	}
	return s.FindByID(ctx, id)
}

// Update modifies a post's editable fields and replaces its categories.
// The notification latch is never touched here: already-notified
// subscribers stay notified even if categories change.
func (s *PostStore) Update(ctx context.Context, p *models.Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE posts SET
			title = $1, slug = $2, content = $3, summary = $4,
			is_public = $5, is_published = $6, publish_at = $7,
			updated_at = NOW()
		WHERE id = $8
	`, p.Title, p.Slug, p.Content, p.Summary, p.IsPublic, p.IsPublished, p.PublishAt, p.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateSlug
	}
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	if err := replacePostCategories(ctx, tx, p.ID, p.CategoryIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func replacePostCategories(ctx context.Context, tx *sql.Tx, postID uuid.UUID, categoryIDs []uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM post_categories WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("clear post categories: %w", err)
	}
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO post_categories (post_id, category_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`, postID, uuidStrings(categoryIDs))
	if err != nil {
		return fmt.Errorf("set post categories: %w", err)
	}
	return nil
}

// Delete removes a post. Its ledger entries cascade.
func (s *PostStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// ListOptions narrows ListPublished.
type ListOptions struct {
	PublicOnly bool
	// SubscriptionID restricts to posts sharing a category with the subscription.
	SubscriptionID *uuid.UUID
	CategoryID     *uuid.UUID
	Limit          int
	Offset         int
}

// ListPublished returns published posts, most recent publish date first.
func (s *PostStore) ListPublished(ctx context.Context, opts ListOptions) ([]models.Post, error) {
	where := []string{"p.is_published"}
	var args []any

	if opts.PublicOnly {
		where = append(where, "p.is_public")
	}
	if opts.CategoryID != nil {
		args = append(args, *opts.CategoryID)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM post_categories pc WHERE pc.post_id = p.id AND pc.category_id = $%d)", len(args)))
	}
	if opts.SubscriptionID != nil {
		args = append(args, *opts.SubscriptionID)
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM post_categories pc
			JOIN subscription_categories sc ON sc.category_id = pc.category_id
			WHERE pc.post_id = p.id AND sc.subscription_id = $%d)`, len(args)))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, opts.Offset)

	q := postSelect + ` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + publishDateExpr + ` DESC, p.id` +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	items, err := s.queryPosts(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}
	return items, nil
}

// ListForSubscription returns published posts sharing a category with
// the subscription, most recent first.
func (s *PostStore) ListForSubscription(ctx context.Context, subscriptionID uuid.UUID, publicOnly bool, limit, offset int) ([]models.Post, error) {
	return s.ListPublished(ctx, ListOptions{
		PublicOnly:     publicOnly,
		SubscriptionID: &subscriptionID,
		Limit:          limit,
		Offset:         offset,
	})
}

// PublishDue flips every scheduled post whose publish_at has passed to
// published in one conditional update. Returns the number promoted.
func (s *PostStore) PublishDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET is_published = TRUE, updated_at = $1
		WHERE is_published = FALSE AND publish_at IS NOT NULL AND publish_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("publish due posts: %w", err)
	}
	return res.RowsAffected()
}

// NeedingPublishing lists unpublished posts whose publish_at is due at now.
func (s *PostStore) NeedingPublishing(ctx context.Context, now time.Time) ([]models.Post, error) {
	items, err := s.queryPosts(ctx, postSelect+`
		WHERE NOT p.is_published AND p.publish_at IS NOT NULL AND p.publish_at <= $1
		ORDER BY p.publish_at, p.id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("posts needing publishing: %w", err)
	}
	return items, nil
}

// NeedingNotification lists published posts whose notification latch is
// unset, oldest publish date first, at most limit of them.
func (s *PostStore) NeedingNotification(ctx context.Context, limit int) ([]models.Post, error) {
	items, err := s.queryPosts(ctx, postSelect+`
		WHERE p.is_published AND p.notifications_sent IS NULL
		ORDER BY `+publishDateExpr+`, p.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("posts needing notifications: %w", err)
	}
	return items, nil
}

// PostLockFunc runs while the post row is locked. Returning a non-zero
// time latches notifications_sent (and updated) to it before the lock is
// released.
type PostLockFunc func(ctx context.Context, post *models.Post) (latchAt time.Time, err error)

// WithPostLock locks the post row for the duration of fn. The lock is
// FOR NO KEY UPDATE: it excludes other dispatchers but not ledger inserts,
// whose foreign-key checks only need a key-share lock on the post. Waits
// are bounded by the store's lock timeout; contention yields ErrLocked.
func (s *PostStore) WithPostLock(ctx context.Context, id uuid.UUID, fn PostLockFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := setLockTimeout(ctx, tx, s.lockTimeout); err != nil {
		return err
	}

	post, err := scanPost(tx.QueryRowContext(ctx, postSelect+` WHERE p.id = $1 FOR NO KEY UPDATE OF p`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isLockNotAvailable(err):
		return ErrLocked
	case err != nil:
		return fmt.Errorf("lock post: %w", err)
	}

	latchAt, err := fn(ctx, post)
	if err != nil {
		return err
	}

	if !latchAt.IsZero() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE posts SET notifications_sent = $1, updated_at = $1
			WHERE id = $2 AND notifications_sent IS NULL
		`, latchAt, id); err != nil {
			return fmt.Errorf("latch post notifications: %w", err)
		}
	}

	return tx.Commit()
}
