// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription records which categories a user wants to be notified about.
// Each user has at most one.
type Subscription struct {
	ID          uuid.UUID   `json:"id"`
	UserID      uuid.UUID   `json:"user_id"`
	CategoryIDs []uuid.UUID `json:"category_ids"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SubscriptionNotification is the ledger row for one (subscription, post)
// pair. Sent is stamped once at dispatch; Read only after Sent.
type SubscriptionNotification struct {
	ID             uuid.UUID  `json:"id"`
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	PostID         uuid.UUID  `json:"post_id"`
	Sent           *time.Time `json:"sent,omitempty"`
	Read           *time.Time `json:"read,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsPending reports whether the notification still has to be delivered.
func (n *SubscriptionNotification) IsPending() bool {
	return n.Sent == nil
}

// IsUnread reports whether the notification was delivered but not yet read.
func (n *SubscriptionNotification) IsUnread() bool {
	return n.Sent != nil && n.Read == nil
}

// Delivery is a ledger entry re-read under its row lock together with the
// recipient address.
type Delivery struct {
	SubscriptionNotification
	Email string
}
