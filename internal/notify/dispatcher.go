// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"newsletter/internal/mail"
	"newsletter/internal/models"
	"newsletter/internal/store"
)

// PostRepository is the part of the post store the dispatcher drives.
type PostRepository interface {
	PublishDue(ctx context.Context, now time.Time) (int64, error)
	NeedingNotification(ctx context.Context, limit int) ([]models.Post, error)
	WithPostLock(ctx context.Context, id uuid.UUID, fn store.PostLockFunc) error
}

// Ledger is the notification ledger as seen by the dispatcher.
type Ledger interface {
	EligibleSubscriptions(ctx context.Context, post *models.Post) ([]uuid.UUID, error)
	EnsureEntries(ctx context.Context, postID uuid.UUID, subscriptionIDs []uuid.UUID) (int64, error)
	PendingForPost(ctx context.Context, postID uuid.UUID) ([]models.SubscriptionNotification, error)
	WithEntryLock(ctx context.Context, id uuid.UUID, fn store.EntryLockFunc) error
}

// DefaultBatchSize bounds how many posts one run processes.
const DefaultBatchSize = 100

// RunReport summarizes one dispatcher pass.
type RunReport struct {
	Published    int64 `json:"published"`
	Posts        int   `json:"posts"`
	Latched      int   `json:"latched"`
	EntriesAdded int64 `json:"entries_added"`
	Sent         int   `json:"sent"`
	Failed       int   `json:"failed"`
	Skipped      int   `json:"skipped"`
	Errors       int   `json:"errors"`
}

// Dispatcher runs the publication and dispatch pass. It is safe to run
// several dispatchers against the same database at once: posts and
// ledger entries are serialized by row locks.
type Dispatcher struct {
	posts     PostRepository
	ledger    Ledger
	mailer    mail.Mailer
	clock     Clock
	urls      URLResolver
	batchSize int
}

// NewDispatcher creates a Dispatcher. A non-positive batchSize uses DefaultBatchSize.
func NewDispatcher(posts PostRepository, ledger Ledger, mailer mail.Mailer, clock Clock, urls URLResolver, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{
		posts:     posts,
		ledger:    ledger,
		mailer:    mailer,
		clock:     clock,
		urls:      urls,
		batchSize: batchSize,
	}
}

// Run promotes due posts, then notifies subscribers of every published
// post that is not latched yet, oldest first. Failures of a single post
// or entry are logged and counted, never returned; only failures that
// stop the whole pass are.
func (d *Dispatcher) Run(ctx context.Context) (RunReport, error) {
	var report RunReport

	published, err := d.posts.PublishDue(ctx, d.clock.Now())
	if err != nil {
		return report, fmt.Errorf("dispatch: %w", err)
	}
	report.Published = published
	if published > 0 {
		slog.Info("published scheduled posts", "count", published)
	}

	posts, err := d.posts.NeedingNotification(ctx, d.batchSize)
	if err != nil {
		return report, fmt.Errorf("dispatch: %w", err)
	}

	for i := range posts {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("dispatch: %w", err)
		}
		report.Posts++
		d.processPost(ctx, &posts[i], &report)
	}

	slog.Info("dispatch run complete",
		"published", report.Published,
		"posts", report.Posts,
		"latched", report.Latched,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	return report, nil
}

func (d *Dispatcher) processPost(ctx context.Context, post *models.Post, report *RunReport) {
	var latched bool
	err := d.posts.WithPostLock(ctx, post.ID, func(ctx context.Context, locked *models.Post) (time.Time, error) {
		// Another worker may have finished it while we waited.
		if !locked.NeedsNotifications() {
			return time.Time{}, nil
		}

		subs, err := d.ledger.EligibleSubscriptions(ctx, locked)
		if err != nil {
			return time.Time{}, err
		}
		added, err := d.ledger.EnsureEntries(ctx, locked.ID, subs)
		if err != nil {
			return time.Time{}, err
		}
		report.EntriesAdded += added

		pending, err := d.ledger.PendingForPost(ctx, locked.ID)
		if err != nil {
			return time.Time{}, err
		}

		remaining := 0
		for _, entry := range pending {
			if !d.dispatchEntry(ctx, locked, entry.ID, report) {
				remaining++
			}
		}
		if remaining > 0 {
			slog.Info("post left unlatched", "post_id", locked.ID, "pending", remaining)
			return time.Time{}, nil
		}

		latched = true
		return d.clock.Now(), nil
	})

	switch {
	case errors.Is(err, store.ErrLocked):
		report.Skipped++
		slog.Warn("post locked by another worker, skipping", "post_id", post.ID)
	case errors.Is(err, store.ErrNotFound):
		slog.Info("post removed before dispatch", "post_id", post.ID)
	case err != nil:
		report.Errors++
		slog.Error("failed to dispatch post", "post_id", post.ID, "error", err)
	case latched:
		report.Latched++
	}
}

type entryOutcome int

const (
	entrySent entryOutcome = iota
	entryAlreadySent
	entryFailed
)

// dispatchEntry delivers one ledger entry under its row lock and reports
// whether the entry is settled (sent by us, sent by someone else, or gone).
func (d *Dispatcher) dispatchEntry(ctx context.Context, post *models.Post, entryID uuid.UUID, report *RunReport) bool {
	var outcome entryOutcome
	err := d.ledger.WithEntryLock(ctx, entryID, func(ctx context.Context, del *models.Delivery) (time.Time, error) {
		if !del.IsPending() {
			outcome = entryAlreadySent
			return time.Time{}, nil
		}
		if err := d.mailer.Send(ctx, Subject(post), Body(d.urls.PostURL(post)), del.Email); err != nil {
			outcome = entryFailed
			slog.Warn("notification delivery failed",
				"post_id", post.ID,
				"notification_id", del.ID,
				"recipient", del.Email,
				"error", err,
			)
			return time.Time{}, nil
		}
		outcome = entrySent
		return d.clock.Now(), nil
	})

	switch {
	case errors.Is(err, store.ErrNotFound):
		// Subscription deleted since the worklist was read.
		return true
	case errors.Is(err, store.ErrLocked):
		report.Skipped++
		slog.Warn("notification locked by another worker, skipping", "notification_id", entryID)
		return false
	case err != nil:
		report.Errors++
		slog.Error("failed to record notification", "notification_id", entryID, "error", err)
		return false
	}

	switch outcome {
	case entrySent:
		report.Sent++
		return true
	case entryFailed:
		report.Failed++
		return false
	default:
		return true
	}
}
