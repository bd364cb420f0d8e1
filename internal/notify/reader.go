package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"newsletter/internal/models"
)

// ReadLedger is the ledger operation read tracking needs.
type ReadLedger interface {
	MarkRead(ctx context.Context, postID, userID uuid.UUID, at time.Time) (bool, error)
}

// Reader marks notifications read when subscribers view posts.
type Reader struct {
	ledger ReadLedger
	clock  Clock
}

// NewReader creates a Reader.
func NewReader(ledger ReadLedger, clock Clock) *Reader {
	return &Reader{ledger: ledger, clock: clock}
}

// MarkAsRead stamps the user's sent, unread notification for the post.
// It reports whether anything changed and is safe to call repeatedly.
func (r *Reader) MarkAsRead(ctx context.Context, post *models.Post, userID uuid.UUID) (bool, error) {
	changed, err := r.ledger.MarkRead(ctx, post.ID, userID, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("mark as read: %w", err)
	}
	return changed, nil
}
