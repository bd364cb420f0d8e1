package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"newsletter/internal/middleware"
	"newsletter/internal/models"
)

// CategoryFinder resolves categories by slug or ID.
type CategoryFinder interface {
	FindBySlugs(ctx context.Context, slugs []string) ([]models.Category, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Category, error)
}

// SubscriptionRepository reads and replaces a user's subscription.
type SubscriptionRepository interface {
	ForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Save(ctx context.Context, userID uuid.UUID, categoryIDs []uuid.UUID) (*models.Subscription, error)
}

// Subscriptions serves the viewer's own subscription.
type Subscriptions struct {
	subs       SubscriptionRepository
	categories CategoryFinder
}

// NewSubscriptions creates the Subscriptions handler group.
func NewSubscriptions(subs SubscriptionRepository, categories CategoryFinder) *Subscriptions {
	return &Subscriptions{subs: subs, categories: categories}
}

type subscriptionRequest struct {
	Categories []string `json:"categories" validate:"max=50,unique,dive,slug"`
}

type subscriptionResponse struct {
	Categories []string `json:"categories"`
}

// Get returns the category slugs the viewer is subscribed to.
func (h *Subscriptions) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.SessionFromCtx(ctx)

	sub, err := h.subs.ForUser(ctx, sess.UserID)
	if err != nil {
		serverError(w, "subscription lookup failed", err, "user_id", sess.UserID)
		return
	}
	h.respond(ctx, w, sub)
}

// Put replaces the viewer's subscribed categories. The change only affects
// posts whose notifications have not gone out yet.
func (h *Subscriptions) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := middleware.SessionFromCtx(ctx)

	var req subscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateStruct(req); errs != nil {
		writeValidation(w, errs)
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

	ids := make([]uuid.UUID, len(cats))
	for i, c := range cats {
		ids[i] = c.ID
	}
	sub, err := h.subs.Save(ctx, sess.UserID, ids)
	if err != nil {
		serverError(w, "subscription save failed", err, "user_id", sess.UserID)
		return
	}
	h.respond(ctx, w, sub)
}

func (h *Subscriptions) respond(ctx context.Context, w http.ResponseWriter, sub *models.Subscription) {
	resp := subscriptionResponse{Categories: []string{}}
	if sub != nil && len(sub.CategoryIDs) > 0 {
		cats, err := h.categories.ListByIDs(ctx, sub.CategoryIDs)
		if err != nil {
			serverError(w, "category lookup failed", err)
			return
		}
		for _, c := range cats {
			resp.Categories = append(resp.Categories, c.Slug)
		}
		sort.Strings(resp.Categories)
	}
	writeJSON(w, http.StatusOK, resp)
}

// missingSlugs returns the requested slugs with no matching category.
func missingSlugs(requested []string, found []models.Category) []string {
	known := make(map[string]bool, len(found))
	for _, c := range found {
		known[c.Slug] = true
	}
	var missing []string
	for _, s := range requested {
		if !known[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
