// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// handler_test.go provides shared in-memory fakes for the handler tests.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"newsletter/internal/middleware"
	"newsletter/internal/models"
	"newsletter/internal/notify"
	"newsletter/internal/session"
	"newsletter/internal/store"
)

var errBoom = errors.New("boom")

// --- users and sessions ---

type fakeUsers struct {
	users     map[string]*models.User
	passwords map[uuid.UUID]string
	err       error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*models.User{}, passwords: map[uuid.UUID]string{}}
}

func (f *fakeUsers) add(email, password string, staff bool) *models.User {
	u := &models.User{ID: uuid.New(), Email: email, IsStaff: staff, DateJoined: time.Now()}
	f.users[email] = u
	f.passwords[u.ID] = password
	return u
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[email], nil
}

func (f *fakeUsers) CheckPassword(u *models.User, password string) bool {
	return f.passwords[u.ID] == password
}

type fakeSessions struct {
	created   []*session.Data
	destroyed int
	err       error
}

func (f *fakeSessions) Create(_ context.Context, w http.ResponseWriter, data *session.Data) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, data)
	http.SetCookie(w, &http.Cookie{Name: session.CookieName, Value: "test-session"})
	return "test-session", nil
}

func (f *fakeSessions) Destroy(_ context.Context, _ http.ResponseWriter, _ *http.Request) error {
	if f.err != nil {
		return f.err
	}
	f.destroyed++
	return nil
}

// --- categories and subscriptions ---

type fakeCategories struct {
	items []models.Category
	err   error
}

func newFakeCategories(slugs ...string) *fakeCategories {
	f := &fakeCategories{}
	for _, s := range slugs {
		f.items = append(f.items, models.Category{ID: uuid.New(), Title: s, Slug: s})
	}
	return f
}

func (f *fakeCategories) bySlug(slug string) models.Category {
	for _, c := range f.items {
		if c.Slug == slug {
			return c
		}
	}
	panic("unknown fixture category " + slug)
}

func (f *fakeCategories) FindBySlugs(_ context.Context, slugs []string) ([]models.Category, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Category
	for _, c := range f.items {
		for _, s := range slugs {
			if c.Slug == s {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeCategories) ListByIDs(_ context.Context, ids []uuid.UUID) ([]models.Category, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Category
	for _, c := range f.items {
		for _, id := range ids {
			if c.ID == id {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

type fakeSubs struct {
	byUser map[uuid.UUID]*models.Subscription
	err    error
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{byUser: map[uuid.UUID]*models.Subscription{}}
}

func (f *fakeSubs) ForUser(_ context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byUser[userID], nil
}

func (f *fakeSubs) Save(_ context.Context, userID uuid.UUID, categoryIDs []uuid.UUID) (*models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.byUser[userID]
	if !ok {
		sub = &models.Subscription{ID: uuid.New(), UserID: userID}
		f.byUser[userID] = sub
	}
	sub.CategoryIDs = append([]uuid.UUID(nil), categoryIDs...)
	return sub, nil
}

// --- posts ---

type fakePosts struct {
	mu        sync.Mutex
	items     []*models.Post
	subs      *fakeSubs
	lastOpts  store.ListOptions
	lookups   int
	updateErr error
	err       error
}

func (f *fakePosts) add(p models.Post) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().Add(-time.Duration(len(f.items)+1) * time.Hour)
	}
	f.items = append(f.items, &p)
	return &p
}

func (f *fakePosts) inSubscription(p *models.Post, subID uuid.UUID) bool {
	if f.subs == nil {
		return false
	}
	for _, sub := range f.subs.byUser {
		if sub.ID != subID {
			continue
		}
		for _, sc := range sub.CategoryIDs {
			for _, pc := range p.CategoryIDs {
				if sc == pc {
					return true
				}
			}
		}
	}
	return false
}

func (f *fakePosts) ListPublished(_ context.Context, opts store.ListOptions) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Post
	for _, p := range f.items {
		if !p.IsPublished || (opts.PublicOnly && !p.IsPublic) {
			continue
		}
		if opts.CategoryID != nil && !containsID(p.CategoryIDs, *opts.CategoryID) {
			continue
		}
		if opts.SubscriptionID != nil && !f.inSubscription(p, *opts.SubscriptionID) {
			continue
		}
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishDate().After(out[j].PublishDate()) })
	return out, nil
}

func (f *fakePosts) FindPublishedBySlug(_ context.Context, slug string, publicOnly bool) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.items {
		if p.Slug == slug && p.IsPublished && (!publicOnly || p.IsPublic) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePosts) NeedingPublishing(_ context.Context, now time.Time) ([]models.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Post
	for _, p := range f.items {
		if p.NeedsPublishing(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePosts) NeedingNotification(_ context.Context, limit int) ([]models.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Post
	for _, p := range f.items {
		if p.NeedsNotifications() && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePosts) FindByID(_ context.Context, id uuid.UUID) (*models.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.items {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePosts) Update(_ context.Context, p *models.Post) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, existing := range f.items {
		if existing.ID == p.ID {
			cp := *p
			cp.NotificationsSent = existing.NotificationsSent
			f.items[i] = &cp
			return nil
		}
	}
	return nil
}

func (f *fakePosts) Delete(_ context.Context, id uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	for i, p := range f.items {
		if p.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// --- read tracking, cache and trending ---

type fakeUnread struct {
	unread map[uuid.UUID]bool
}

func (f *fakeUnread) UnreadPostIDs(_ context.Context, _ uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	for _, id := range ids {
		if f.unread[id] {
			out[id] = true
		}
	}
	return out, nil
}

type readCall struct {
	postID uuid.UUID
	userID uuid.UUID
}

type fakeReader struct {
	calls []readCall
	err   error
}

func (f *fakeReader) MarkAsRead(_ context.Context, p *models.Post, userID uuid.UUID) (bool, error) {
	f.calls = append(f.calls, readCall{postID: p.ID, userID: userID})
	return f.err == nil, f.err
}

type fakeCache struct {
	data        map[string][]byte
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(_ context.Context, slug string) ([]byte, bool) {
	b, ok := f.data[slug]
	return b, ok
}

func (f *fakeCache) Set(_ context.Context, slug string, data []byte) {
	f.data[slug] = data
}

func (f *fakeCache) InvalidatePost(_ context.Context, slugs ...string) {
	for _, s := range slugs {
		delete(f.data, s)
		f.invalidated = append(f.invalidated, s)
	}
}

type fakeTrending struct {
	trending map[string]bool
	views    map[string]int
	err      error
}

func newFakeTrending() *fakeTrending {
	return &fakeTrending{trending: map[string]bool{}, views: map[string]int{}}
}

func (f *fakeTrending) CheckTrending(_ context.Context, slug string) (bool, error) {
	f.views[slug]++
	return f.trending[slug], f.err
}

// --- ops collaborators ---

type fakeDispatcher struct {
	report notify.RunReport
	err    error
	runs   int
}

func (f *fakeDispatcher) Run(_ context.Context) (notify.RunReport, error) {
	f.runs++
	return f.report, f.err
}

type fakeCacheLog struct {
	entries []store.CacheLogEntry
	err     error
}

func (f *fakeCacheLog) Log(_ context.Context, entityType string, entityID uuid.UUID, action string) {
	f.entries = append(f.entries, store.CacheLogEntry{
		ID:            int64(len(f.entries) + 1),
		EntityType:    entityType,
		EntityID:      entityID,
		Action:        action,
		InvalidatedAt: time.Now(),
	})
}

func (f *fakeCacheLog) RecentEntries(_ context.Context, limit int) ([]store.CacheLogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// --- request helpers ---

// ctxWithSession adds session data to a context using the middleware key.
func ctxWithSession(ctx context.Context, data *session.Data) context.Context {
	return context.WithValue(ctx, middleware.SessionKey, data)
}

// testSession creates a session.Data for testing.
func testSession(userID uuid.UUID, staff bool) *session.Data {
	return &session.Data{UserID: userID, Email: "reader@example.com", IsStaff: staff}
}

// withChiURLParam adds a chi URL parameter to a request.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withSession attaches sess to the request; nil leaves it anonymous.
func withSession(r *http.Request, sess *session.Data) *http.Request {
	if sess == nil {
		return r
	}
	return r.WithContext(ctxWithSession(r.Context(), sess))
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

// validationBody mirrors the 422 response shape.
type validationBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}
