// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"newsletter/internal/models"
	"newsletter/internal/notify"
	"newsletter/internal/slug"
	"newsletter/internal/store"
)

// OpsPosts is the post store surface the staff operations use.
type OpsPosts interface {
	NeedingPublishing(ctx context.Context, now time.Time) ([]models.Post, error)
	NeedingNotification(ctx context.Context, limit int) ([]models.Post, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Post, error)
	Update(ctx context.Context, p *models.Post) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// DispatchRunner runs one publication and dispatch pass.
type DispatchRunner interface {
	Run(ctx context.Context) (notify.RunReport, error)
}

// CacheLog records and lists cache invalidations.
type CacheLog interface {
	Log(ctx context.Context, entityType string, entityID uuid.UUID, action string)
	RecentEntries(ctx context.Context, limit int) ([]store.CacheLogEntry, error)
}

// Ops groups the staff-only operations endpoints.
type Ops struct {
	posts      OpsPosts
	categories CategoryFinder
	dispatcher DispatchRunner
	cache      DetailCache
	cacheLog   CacheLog
	clock      notify.Clock
}

// NewOps creates the Ops handler group.
func NewOps(posts OpsPosts, categories CategoryFinder, dispatcher DispatchRunner, cache DetailCache, cacheLog CacheLog, clock notify.Clock) *Ops {
	return &Ops{
		posts:      posts,
		categories: categories,
		dispatcher: dispatcher,
		cache:      cache,
		cacheLog:   cacheLog,
		clock:      clock,
	}
}

// NeedsPublishing lists scheduled posts whose publish time has passed.
func (h *Ops) NeedsPublishing(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.NeedingPublishing(r.Context(), h.clock.Now())
	if err != nil {
		serverError(w, "list posts needing publishing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(posts))
}

// NeedsNotifications lists published posts not yet latched, oldest first.
func (h *Ops) NeedsNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", notify.DefaultBatchSize, 1000)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	posts, err := h.posts.NeedingNotification(r.Context(), limit)
	if err != nil {
		serverError(w, "list posts needing notifications failed", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(posts))
}

// Dispatch runs a publication and dispatch pass and returns its report.
func (h *Ops) Dispatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.dispatcher.Run(r.Context())
	if err != nil {
		serverError(w, "dispatch failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type postUpdateRequest struct {
	Title       string     `json:"title" validate:"required,max=512"`
	Slug        string     `json:"slug" validate:"required,slug"`
	Content     string     `json:"content" validate:"max=100000"`
	Summary     string     `json:"summary" validate:"max=1000"`
	IsPublic    bool       `json:"is_public"`
	IsPublished bool       `json:"is_published"`
	PublishAt   *time.Time `json:"publish_at"`
	Categories  []string   `json:"categories" validate:"unique,dive,slug"`
}

// UpdatePost replaces a post's editable fields and categories, then drops
// its cached detail under both the old and the new slug. An empty slug is
// derived from the title.
func (h *Ops) UpdatePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	var req postUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Slug == "" {
		req.Slug = slug.Generate(req.Title)
	}
	if errs := validateStruct(req); errs != nil {
		writeValidation(w, errs)
		return
	}

	post, err := h.posts.FindByID(ctx, id)
	if err != nil {
		serverError(w, "post lookup failed", err, "post_id", id)
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	cats, err := h.categories.FindBySlugs(ctx, req.Categories)
	if err != nil {
		serverError(w, "category lookup failed", err)
		return
	}
	if unknown := missingSlugs(req.Categories, cats); len(unknown) > 0 {
		fields := make(validationErrors, len(unknown))
		for _, s := range unknown {
			fields["categories."+s] = "unknown category"
		}
		writeValidation(w, fields)
		return
	}

	oldSlug := post.Slug
	post.Title = req.Title
	post.Slug = req.Slug
	post.Content = req.Content
	post.Summary = req.Summary
	post.IsPublic = req.IsPublic
	post.IsPublished = req.IsPublished
	post.PublishAt = req.PublishAt
	post.CategoryIDs = make([]uuid.UUID, len(cats))
	for i, c := range cats {
		post.CategoryIDs[i] = c.ID
	}

	if err := h.posts.Update(ctx, post); err != nil {
		if errors.Is(err, store.ErrDuplicateSlug) {
			writeValidation(w, validationErrors{"slug": "is already in use"})
			return
		}
		serverError(w, "post update failed", err, "post_id", id)
		return
	}

	h.invalidate(ctx, post.ID, store.CacheActionUpdate, oldSlug, post.Slug)

	updated, err := h.posts.FindByID(ctx, id)
	if err != nil || updated == nil {
		serverError(w, "post reload failed", err, "post_id", id)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeletePost removes a post and its ledger entries.
func (h *Ops) DeletePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := h.posts.FindByID(ctx, id)
	if err != nil {
		serverError(w, "post lookup failed", err, "post_id", id)
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	if err := h.posts.Delete(ctx, id); err != nil {
		serverError(w, "post delete failed", err, "post_id", id)
		return
	}
	h.invalidate(ctx, id, store.CacheActionDelete, post.Slug)
	w.WriteHeader(http.StatusNoContent)
}

// CacheLog lists recent post cache invalidations.
func (h *Ops) CacheLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50, 500)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	entries, err := h.cacheLog.RecentEntries(r.Context(), limit)
	if err != nil {
		serverError(w, "list cache log failed", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *Ops) invalidate(ctx context.Context, id uuid.UUID, action string, slugs ...string) {
	if len(slugs) == 2 && slugs[0] == slugs[1] {
		slugs = slugs[:1]
	}
	h.cache.InvalidatePost(ctx, slugs...)
	h.cacheLog.Log(ctx, "post", id, action)
}

// nonNil makes empty results encode as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
