// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// ledger.go holds the subscription notification ledger: one row per
// (subscription, post) pair, enforced by the subscription_notification_unq_pair
// index, plus the eligibility query that decides which pairs are owed a row.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"newsletter/internal/models"
)

// LedgerStore manages subscription notification rows.
type LedgerStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewLedgerStore creates a new LedgerStore. A zero lockTimeout uses DefaultLockTimeout.
func NewLedgerStore(db *sql.DB, lockTimeout time.Duration) *LedgerStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &LedgerStore{db: db, lockTimeout: lockTimeout}
}

const notificationColumns = `n.id, n.subscription_id, n.post_id, n.sent, n.read, n.created_at, n.updated_at`

func scanNotification(scanner interface{ Scan(...any) error }, extra ...any) (*models.SubscriptionNotification, error) {
	n := &models.SubscriptionNotification{}
	dest := append([]any{
		&n.ID, &n.SubscriptionID, &n.PostID, &n.Sent, &n.Read, &n.CreatedAt, &n.UpdatedAt,
	}, extra...)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	return n, nil
}

// EligibleSubscriptions returns, ordered by ID, the subscriptions owed a
// notification for a published post: they share a category with the post,
// their user joined no later than the post's publish date, and no ledger
// row for the pair has been sent. It is a pure read.
func (s *LedgerStore) EligibleSubscriptions(ctx context.Context, post *models.Post) ([]uuid.UUID, error) {
	if !post.IsPublished {
		return nil, fmt.Errorf("eligible subscriptions for post %s: %w", post.ID, ErrNotPublished)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.id
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		JOIN subscription_categories sc ON sc.subscription_id = s.id
		JOIN post_categories pc ON pc.category_id = sc.category_id
		WHERE pc.post_id = $1
		  AND u.date_joined <= $2
		  AND NOT EXISTS (
		      SELECT 1 FROM subscription_notifications n
		      WHERE n.subscription_id = s.id AND n.post_id = $1 AND n.sent IS NOT NULL
		  )
		ORDER BY s.id
	`, post.ID, post.PublishDate())
	if err != nil {
		return nil, fmt.Errorf("eligible subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan eligible subscription: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnsureEntries creates an unsent ledger row for every (subscription, post)
// pair that lacks one. Concurrent callers racing on the same pair end up
// with a single row and no error. Returns the number of rows created.
func (s *LedgerStore) EnsureEntries(ctx context.Context, postID uuid.UUID, subscriptionIDs []uuid.UUID) (int64, error) {
	if len(subscriptionIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_notifications (subscription_id, post_id)
		SELECT unnest($1::uuid[]), $2
		ON CONFLICT (subscription_id, post_id) DO NOTHING
	`, uuidStrings(subscriptionIDs), postID)
	if err != nil {
		return 0, fmt.Errorf("ensure ledger entries: %w", err)
	}
	return res.RowsAffected()
}

// PendingForPost returns the post's unsent ledger rows, ordered by ID.
func (s *LedgerStore) PendingForPost(ctx context.Context, postID uuid.UUID) ([]models.SubscriptionNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM subscription_notifications n
		WHERE n.post_id = $1 AND n.sent IS NULL
		ORDER BY n.id
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("pending notifications: %w", err)
	}
	defer rows.Close()

	var items []models.SubscriptionNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, *n)
	}
	return items, rows.Err()
}

// FindForPair returns the ledger row for a (subscription, post) pair, or nil.
func (s *LedgerStore) FindForPair(ctx context.Context, subscriptionID, postID uuid.UUID) (*models.SubscriptionNotification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM subscription_notifications n
		WHERE n.subscription_id = $1 AND n.post_id = $2
	`, subscriptionID, postID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return n, nil
}

// EntryLockFunc runs while a ledger row is locked. It receives the row as
// re-read under the lock. Returning a non-zero time records it as the
// row's sent (and updated) timestamp before the lock is released.
type EntryLockFunc func(ctx context.Context, d *models.Delivery) (sentAt time.Time, err error)

// WithEntryLock locks a single ledger row for the duration of fn, in its
// own transaction so a recorded send is durable as soon as fn returns.
// Contention beyond the lock timeout yields ErrLocked; a row removed in
// the meantime (unsubscribed user) yields ErrNotFound.
func (s *LedgerStore) WithEntryLock(ctx context.Context, id uuid.UUID, fn EntryLockFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := setLockTimeout(ctx, tx, s.lockTimeout); err != nil {
		return err
	}

	d := &models.Delivery{}
	n, err := scanNotification(tx.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`, u.email
		FROM subscription_notifications n
		JOIN subscriptions s ON s.id = n.subscription_id
		JOIN users u ON u.id = s.user_id
		WHERE n.id = $1
		FOR UPDATE OF n
	`, id), &d.Email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isLockNotAvailable(err):
		return ErrLocked
	case err != nil:
		return fmt.Errorf("lock notification: %w", err)
	}
	d.SubscriptionNotification = *n

	sentAt, err := fn(ctx, d)
	if err != nil {
		return err
	}

	if !sentAt.IsZero() {
		if _, err := tx.ExecContext(ctx, `
			UPDATE subscription_notifications SET sent = $1, updated_at = $1
			WHERE id = $2 AND sent IS NULL
		`, sentAt, id); err != nil {
			return fmt.Errorf("mark notification sent: %w", err)
		}
	}

	return tx.Commit()
}

// MarkRead stamps read on the user's sent, unread notification for the
// post. It reports whether a row changed; no matching row is not an error.
func (s *LedgerStore) MarkRead(ctx context.Context, postID, userID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscription_notifications n SET read = $3, updated_at = $3
		FROM subscriptions s
		WHERE n.subscription_id = s.id
		  AND s.user_id = $2
		  AND n.post_id = $1
		  AND n.read IS NULL
		  AND n.sent IS NOT NULL
	`, postID, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return affected > 0, nil
}

// UnreadPostIDs returns which of the given posts have a sent, unread
// notification for the user.
func (s *LedgerStore) UnreadPostIDs(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	unread := make(map[uuid.UUID]bool)
	if len(postIDs) == 0 {
		return unread, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.post_id
		FROM subscription_notifications n
		JOIN subscriptions s ON s.id = n.subscription_id
		WHERE s.user_id = $1
		  AND n.post_id = ANY($2::uuid[])
		  AND n.sent IS NOT NULL
		  AND n.read IS NULL
	`, userID, uuidStrings(postIDs))
	if err != nil {
		return nil, fmt.Errorf("unread posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unread post: %w", err)
		}
		unread[id] = true
	}
	return unread, rows.Err()
}
