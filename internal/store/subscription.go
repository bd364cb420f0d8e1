// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"newsletter/internal/models"
)

// SubscriptionStore manages users' category subscriptions.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new SubscriptionStore.
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// ForUser returns the user's subscription with its category IDs, or nil
// if the user never subscribed.
func (s *SubscriptionStore) ForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, updated_at FROM subscriptions WHERE user_id = $1
	`, userID).Scan(&sub.ID, &sub.UserID, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription for user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id FROM subscription_categories
		WHERE subscription_id = $1 ORDER BY category_id
	`, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("subscription categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscription category: %w", err)
		}
		sub.CategoryIDs = append(sub.CategoryIDs, id)
	}
	return sub, rows.Err()
}

// Save creates the user's subscription if needed and replaces its
// categories. Changes only affect eligibility for posts not yet latched.
func (s *SubscriptionStore) Save(ctx context.Context, userID uuid.UUID, categoryIDs []uuid.UUID) (*models.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, userID).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_categories WHERE subscription_id = $1`, id); err != nil {
		return nil, fmt.Errorf("clear subscription categories: %w", err)
	}
	if len(categoryIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subscription_categories (subscription_id, category_id)
			SELECT $1, unnest($2::uuid[])
			ON CONFLICT DO NOTHING
		`, id, uuidStrings(categoryIDs)); err != nil {
			return nil, fmt.Errorf("set subscription categories: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subscription: %w", err)
	}
	return s.ForUser(ctx, userID)
}
