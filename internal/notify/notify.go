// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package notify implements the subscription notification pipeline:
// publishing due posts, materializing one ledger entry per eligible
// subscriber, delivering each entry at most once per successful send,
// latching the post when done, and read tracking.
package notify

import (
	"fmt"
	"time"

	"newsletter/internal/models"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// URLResolver produces the absolute URL of a post.
type URLResolver interface {
	PostURL(p *models.Post) string
}

// SiteURLs resolves post URLs against the public site domain.
type SiteURLs struct {
	Domain string
}

// PostURL returns https://{domain}/p/{slug}/.
func (s SiteURLs) PostURL(p *models.Post) string {
	return "https://" + s.Domain + p.URLPath()
}

// Subject is the notification subject line for a post.
func Subject(p *models.Post) string {
	return fmt.Sprintf("%s has made a new post - %s", p.AuthorName, p.Title)
}

// Body is the notification body pointing at the post URL.
func Body(url string) string {
	return "There's a new post. You can view it at: " + url
}
