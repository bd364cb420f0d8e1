// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by lock helpers when the row to lock is gone.
	ErrNotFound = errors.New("store: not found")

	// ErrLocked means a row lock could not be acquired within the lock
	// timeout. Callers skip the row and retry on a later pass.
	ErrLocked = errors.New("store: row locked by another worker")

	// ErrNotPublished is returned when eligibility is computed for a post
	// that is not published. It indicates a caller bug.
	ErrNotPublished = errors.New("store: post is not published")

	// ErrDuplicateSlug is returned when a category or post slug is taken.
	ErrDuplicateSlug = errors.New("store: slug already in use")

	// ErrUserHasPosts is returned when deleting a user who authored posts.
	ErrUserHasPosts = errors.New("store: user still authors posts")
)

// PostgreSQL SQLSTATE codes the store classifies.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeLockNotAvailable    = "55P03"
)

// DefaultLockTimeout bounds row-lock waits when no timeout is configured.
const DefaultLockTimeout = 2 * time.Second

// pgCode returns the SQLSTATE of a PostgreSQL error, or "" for other errors.
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == codeForeignKeyViolation
}

func isLockNotAvailable(err error) bool {
	return pgCode(err) == codeLockNotAvailable
}

// setLockTimeout bounds lock waits for the remainder of the transaction.
// Exceeding it raises lock_not_available, which lock helpers map to ErrLocked.
func setLockTimeout(ctx context.Context, tx *sql.Tx, d time.Duration) error {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('lock_timeout', $1, true)`, strconv.FormatInt(ms, 10)+"ms",
	); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}
