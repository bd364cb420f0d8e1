// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"time"

	"github.com/google/uuid"
)

// Post is a piece of content drafted by staff and published to subscribers.
type Post struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Slug              string     `json:"slug"`
	AuthorID          uuid.UUID  `json:"author_id"`
	Content           string     `json:"content"`
	Summary           string     `json:"summary"`
	IsPublic          bool       `json:"is_public"`
	IsPublished       bool       `json:"is_published"`
	PublishAt         *time.Time `json:"publish_at,omitempty"`
	NotificationsSent *time.Time `json:"notifications_sent,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Populated by store methods that join them in.
	CategoryIDs []uuid.UUID `json:"category_ids,omitempty"`
	AuthorName  string      `json:"author_name,omitempty"`
}

// PublishDate is the canonical ordering timestamp: PublishAt when set,
// otherwise the creation time.
func (p *Post) PublishDate() time.Time {
	if p.PublishAt != nil {
		return *p.PublishAt
	}
	return p.CreatedAt
}

// NeedsPublishing reports whether a scheduled post is due at now.
func (p *Post) NeedsPublishing(now time.Time) bool {
	return !p.IsPublished && p.PublishAt != nil && !p.PublishAt.After(now)
}

// NeedsNotifications reports whether the post is published and its
// notification latch has not been set yet.
func (p *Post) NeedsNotifications() bool {
	return p.IsPublished && p.NotificationsSent == nil
}

// URLPath is the site-relative location of the post detail page.
func (p *Post) URLPath() string {
	return "/p/" + p.Slug + "/"
}
