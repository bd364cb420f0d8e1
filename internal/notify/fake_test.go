package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsletter/internal/models"
	"newsletter/internal/store"
)

// memStore is an in-memory PostRepository and Ledger with the same
// locking and conflict semantics as the Postgres stores.
type memStore struct {
	mu      sync.Mutex
	posts   map[uuid.UUID]*models.Post
	users   map[uuid.UUID]*models.User
	subs    map[uuid.UUID]*models.Subscription
	entries []*models.SubscriptionNotification

	postLocks  map[uuid.UUID]*sync.Mutex
	entryLocks map[uuid.UUID]*sync.Mutex

	// crashBeforeRecord makes the next entry lock fail after fn ran,
	// as if the process died between sending and recording sent.
	crashBeforeRecord bool
	eligibleErr       map[uuid.UUID]error
}

var errCrash = errors.New("connection lost")

func newMemStore() *memStore {
	return &memStore{
		posts:       make(map[uuid.UUID]*models.Post),
		users:       make(map[uuid.UUID]*models.User),
		subs:        make(map[uuid.UUID]*models.Subscription),
		postLocks:   make(map[uuid.UUID]*sync.Mutex),
		entryLocks:  make(map[uuid.UUID]*sync.Mutex),
		eligibleErr: make(map[uuid.UUID]error),
	}
}

func (m *memStore) addUser(email string, joined time.Time) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: uuid.New(), Email: email, FirstName: "Test", LastName: "User", DateJoined: joined}
	m.users[u.ID] = u
	return u
}

func (m *memStore) subscribe(u *models.User, categories ...uuid.UUID) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == u.ID {
			s.CategoryIDs = categories
			return s
		}
	}
	s := &models.Subscription{ID: uuid.New(), UserID: u.ID, CategoryIDs: categories}
	m.subs[s.ID] = s
	return s
}

func (m *memStore) unsubscribe(s *models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, s.ID)
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.SubscriptionID != s.ID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

func (m *memStore) addPost(title, author string, created time.Time, publishAt *time.Time, published bool, categories ...uuid.UUID) *models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Post{
		ID:          uuid.New(),
		Title:       title,
		Slug:        "slug",
		AuthorName:  author,
		IsPublic:    true,
		IsPublished: published,
		PublishAt:   publishAt,
		CreatedAt:   created,
		UpdatedAt:   created,
		CategoryIDs: categories,
	}
	m.posts[p.ID] = p
	return p
}

func (m *memStore) post(id uuid.UUID) models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.posts[id]
}

func (m *memStore) entryFor(subID, postID uuid.UUID) *models.SubscriptionNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.SubscriptionID == subID && e.PostID == postID {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (m *memStore) entryCount(postID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.PostID == postID {
			n++
		}
	}
	return n
}

func (m *memStore) lockFor(locks map[uuid.UUID]*sync.Mutex, id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := locks[id]
	if !ok {
		l = &sync.Mutex{}
		locks[id] = l
	}
	return l
}

func (m *memStore) PublishDue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.posts {
		if p.NeedsPublishing(now) {
			p.IsPublished = true
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *memStore) NeedingNotification(_ context.Context, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Post
	for _, p := range m.posts {
		if p.NeedsNotifications() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishDate().Equal(out[j].PublishDate()) {
			return out[i].PublishDate().Before(out[j].PublishDate())
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) WithPostLock(ctx context.Context, id uuid.UUID, fn store.PostLockFunc) error {
	l := m.lockFor(m.postLocks, id)
	if !l.TryLock() {
		return store.ErrLocked
	}
	defer l.Unlock()

	m.mu.Lock()
	p, ok := m.posts[id]
	var locked models.Post
	if ok {
		locked = *p
	}
	m.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}

	latchAt, err := fn(ctx, &locked)
	if err != nil {
		return err
	}
	if !latchAt.IsZero() {
		m.mu.Lock()
		if p.NotificationsSent == nil {
			p.NotificationsSent = &latchAt
			p.UpdatedAt = latchAt
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *memStore) EligibleSubscriptions(_ context.Context, post *models.Post) ([]uuid.UUID, error) {
	if !post.IsPublished {
		return nil, store.ErrNotPublished
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.eligibleErr[post.ID]; err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, s := range m.subs {
		if !overlaps(s.CategoryIDs, post.CategoryIDs) {
			continue
		}
		if m.users[s.UserID].DateJoined.After(post.PublishDate()) {
			continue
		}
		if e := m.findEntry(s.ID, post.ID); e != nil && e.Sent != nil {
			continue
		}
		ids = append(ids, s.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (m *memStore) findEntry(subID, postID uuid.UUID) *models.SubscriptionNotification {
	for _, e := range m.entries {
		if e.SubscriptionID == subID && e.PostID == postID {
			return e
		}
	}
	return nil
}

func (m *memStore) EnsureEntries(_ context.Context, postID uuid.UUID, subscriptionIDs []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range subscriptionIDs {
		if m.findEntry(id, postID) != nil {
			continue
		}
		m.entries = append(m.entries, &models.SubscriptionNotification{
			ID: uuid.New(), SubscriptionID: id, PostID: postID,
		})
		n++
	}
	return n, nil
}

func (m *memStore) PendingForPost(_ context.Context, postID uuid.UUID) ([]models.SubscriptionNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SubscriptionNotification
	for _, e := range m.entries {
		if e.PostID == postID && e.Sent == nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) WithEntryLock(ctx context.Context, id uuid.UUID, fn store.EntryLockFunc) error {
	l := m.lockFor(m.entryLocks, id)
	if !l.TryLock() {
		return store.ErrLocked
	}
	defer l.Unlock()

	m.mu.Lock()
	var entry *models.SubscriptionNotification
	for _, e := range m.entries {
		if e.ID == id {
			entry = e
		}
	}
	if entry == nil {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	d := &models.Delivery{
		SubscriptionNotification: *entry,
		Email:                    m.users[m.subs[entry.SubscriptionID].UserID].Email,
	}
	m.mu.Unlock()

	sentAt, err := fn(ctx, d)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.crashBeforeRecord {
		m.crashBeforeRecord = false
		return errCrash
	}
	if !sentAt.IsZero() && entry.Sent == nil {
		entry.Sent = &sentAt
		entry.UpdatedAt = sentAt
	}
	return nil
}

func (m *memStore) MarkRead(_ context.Context, postID, userID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.PostID != postID || e.Read != nil || e.Sent == nil {
			continue
		}
		if s, ok := m.subs[e.SubscriptionID]; ok && s.UserID == userID {
			e.Read = &at
			e.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func overlaps(a, b []uuid.UUID) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sentMail struct {
	Subject, Body, Recipient string
}

// fakeMailer records deliveries and fails for recipients in fail.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail map[string]error
}

func (f *fakeMailer) Send(_ context.Context, subject, body, recipient string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[recipient]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMail{subject, body, recipient})
	return nil
}

func (f *fakeMailer) sentTo(recipient string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Recipient == recipient {
			n++
		}
	}
	return n
}
