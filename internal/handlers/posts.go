package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"newsletter/internal/markdown"
	"newsletter/internal/middleware"
	"newsletter/internal/models"
	"newsletter/internal/store"
)

// PostReader serves published posts.
type PostReader interface {
	ListPublished(ctx context.Context, opts store.ListOptions) ([]models.Post, error)
	FindPublishedBySlug(ctx context.Context, slug string, publicOnly bool) (*models.Post, error)
}

// UnreadLookup reports which posts a user has sent, unread notifications for.
type UnreadLookup interface {
	UnreadPostIDs(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// ReadTracker marks a viewed post's notification read.
type ReadTracker interface {
	MarkAsRead(ctx context.Context, post *models.Post, userID uuid.UUID) (bool, error)
}

// DetailCache caches serialized post details by slug.
type DetailCache interface {
	Get(ctx context.Context, slug string) ([]byte, bool)
	Set(ctx context.Context, slug string, data []byte)
	InvalidatePost(ctx context.Context, slugs ...string)
}

// TrendingTracker records a view and reports whether a post is trending.
type TrendingTracker interface {
	CheckTrending(ctx context.Context, slug string) (bool, error)
}

// Posts serves the reader-facing post endpoints.
type Posts struct {
	posts      PostReader
	categories CategoryFinder
	subs       SubscriptionRepository
	unread     UnreadLookup
	reader     ReadTracker
	cache      DetailCache
	trending   TrendingTracker
}

// NewPosts creates the Posts handler group.
func NewPosts(posts PostReader, categories CategoryFinder, subs SubscriptionRepository, unread UnreadLookup,
	reader ReadTracker, cache DetailCache, trending TrendingTracker) *Posts {
	return &Posts{
		posts:      posts,
		categories: categories,
		subs:       subs,
		unread:     unread,
		reader:     reader,
		cache:      cache,
		trending:   trending,
	}
}

type postListItem struct {
	*models.Post
	IsUnread bool `json:"is_unread"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// List returns published posts, most recent first. Anonymous visitors only
// see public posts. Supports ?category={slug}, ?subscribed=true, ?limit
// and ?offset.
func (h *Posts) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.SessionFromCtx(ctx)

	limit, ok := queryInt(r, "limit", defaultPageSize, maxPageSize)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset", 0, 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	opts := store.ListOptions{PublicOnly: sess == nil, Limit: limit, Offset: offset}

	if slug := r.URL.Query().Get("category"); slug != "" {
		cats, err := h.categories.FindBySlugs(ctx, []string{slug})
		if err != nil {
			serverError(w, "category lookup failed", err)
			return
		}
		if len(cats) == 0 {
			writeError(w, http.StatusNotFound, "unknown category")
			return
		}
		opts.CategoryID = &cats[0].ID
	}

	if r.URL.Query().Get("subscribed") == "true" {
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		sub, err := h.subs.ForUser(ctx, sess.UserID)
		if err != nil {
			serverError(w, "subscription lookup failed", err, "user_id", sess.UserID)
			return
		}
		if sub == nil {
			writeJSON(w, http.StatusOK, []postListItem{})
			return
		}
		opts.SubscriptionID = &sub.ID
	}

	posts, err := h.posts.ListPublished(ctx, opts)
	if err != nil {
		serverError(w, "list posts failed", err)
		return
	}

	unread := map[uuid.UUID]bool{}
	if sess != nil && len(posts) > 0 {
		ids := make([]uuid.UUID, len(posts))
		for i := range posts {
			ids[i] = posts[i].ID
		}
		if unread, err = h.unread.UnreadPostIDs(ctx, sess.UserID, ids); err != nil {
			serverError(w, "unread lookup failed", err, "user_id", sess.UserID)
			return
		}
	}

	items := make([]postListItem, len(posts))
	for i := range posts {
		items[i] = postListItem{Post: &posts[i], IsUnread: unread[posts[i].ID]}
	}
	writeJSON(w, http.StatusOK, items)
}

type postDetail struct {
	*models.Post
	ContentHTML string `json:"content_html"`
	IsTrending  bool   `json:"is_trending"`
}

// Detail returns a published post. The post itself is served from the
// detail cache when possible; viewing it marks the viewer's notification
// read on a best-effort basis.
func (h *Posts) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	sess := middleware.SessionFromCtx(ctx)

	post, err := h.loadPost(ctx, slug)
	if err != nil {
		serverError(w, "post lookup failed", err, "slug", slug)
		return
	}
	if post == nil || (sess == nil && !post.IsPublic) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	if sess != nil {
		if _, err := h.reader.MarkAsRead(ctx, post, sess.UserID); err != nil {
			slog.Warn("mark as read failed", "post_id", post.ID, "user_id", sess.UserID, "error", err)
		}
	}

	trending, err := h.trending.CheckTrending(ctx, post.Slug)
	if err != nil {
		slog.Warn("trending check failed", "slug", post.Slug, "error", err)
	}

	html, err := markdown.ToHTML(post.Content)
	if err != nil {
		serverError(w, "render post failed", err, "slug", post.Slug)
		return
	}

	writeJSON(w, http.StatusOK, postDetail{Post: post, ContentHTML: html, IsTrending: trending})
}

// loadPost returns the published post for slug, public or not, or nil.
func (h *Posts) loadPost(ctx context.Context, slug string) (*models.Post, error) {
	if data, ok := h.cache.Get(ctx, slug); ok {
		var post models.Post
		if err := json.Unmarshal(data, &post); err == nil {
			return &post, nil
		}
		slog.Warn("discarding corrupt cached post", "slug", slug)
	}

	post, err := h.posts.FindPublishedBySlug(ctx, slug, false)
	if err != nil || post == nil {
		return nil, err
	}
	if data, err := json.Marshal(post); err == nil {
		h.cache.Set(ctx, slug, data)
	}
	return post, nil
}
