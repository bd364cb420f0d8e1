// store_test.go provides a shared test database helper for all store
// integration tests. Tests are skipped if PostgreSQL is not available.
package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"newsletter/internal/database"
	"newsletter/internal/models"
)

// testDSN returns the PostgreSQL connection string for testing.
// Uses environment variables with defaults matching docker-compose.yml.
func testDSN() string {
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "newsletter")
	pass := envOr("POSTGRES_PASSWORD", "changeme")
	name := envOr("POSTGRES_DB", "newsletter")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=disable"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testDB opens a connection to the test database and runs migrations.
// If the database is unavailable, the test is skipped. A cleanup
// function is registered to close the connection when the test finishes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := testDSN()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Skipf("skipping integration test: cannot open DB: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping integration test: DB not reachable: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	// Downgrade goose global state.
	goose.SetBaseFS(nil)

	t.Cleanup(func() { db.Close() })
	return db
}

// cleanUsers removes test users by email. Posts they authored go first
// since authorship blocks user deletion. Call in t.Cleanup().
func cleanUsers(t *testing.T, db *sql.DB, emails ...string) {
	t.Helper()
	for _, email := range emails {
		db.Exec("DELETE FROM posts WHERE author_id IN (SELECT id FROM users WHERE email = $1)", email)
		db.Exec("DELETE FROM users WHERE email = $1", email)
	}
}

// cleanCategories removes test categories by slug. Call in t.Cleanup().
func cleanCategories(t *testing.T, db *sql.DB, slugs ...string) {
	t.Helper()
	for _, slug := range slugs {
		db.Exec("DELETE FROM categories WHERE slug = $1", slug)
	}
}

// fixtureUser creates a user that joined at joined and registers cleanup.
func fixtureUser(t *testing.T, db *sql.DB, email string, joined time.Time) *models.User {
	t.Helper()
	cleanUsers(t, db, email)
	t.Cleanup(func() { cleanUsers(t, db, email) })

	u, err := NewUserStore(db).Create(context.Background(), &models.User{
		Email:      email,
		FirstName:  "Test",
		LastName:   "User",
		DateJoined: joined,
	}, "testpass123")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

// fixtureCategory creates a category and registers cleanup.
func fixtureCategory(t *testing.T, db *sql.DB, slug string) *models.Category {
	t.Helper()
	cleanCategories(t, db, slug)
	t.Cleanup(func() { cleanCategories(t, db, slug) })

	c, err := NewCategoryStore(db).Create(context.Background(), &models.Category{Title: slug, Slug: slug})
	if err != nil {
		t.Fatalf("create category %s: %v", slug, err)
	}
	return c
}

// fixturePost creates a published post by author in the given categories.
// Cleanup happens through the author's cleanUsers.
func fixturePost(t *testing.T, db *sql.DB, slug string, author *models.User, publishAt time.Time, categories ...*models.Category) *models.Post {
	t.Helper()
	db.Exec("DELETE FROM posts WHERE slug = $1", slug)

	var ids []uuid.UUID
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	p, err := NewPostStore(db, 0).Create(context.Background(), &models.Post{
		Title:       "Post " + slug,
		Slug:        slug,
		AuthorID:    author.ID,
		Content:     "content",
		IsPublic:    true,
		IsPublished: true,
		PublishAt:   &publishAt,
		CategoryIDs: ids,
	})
	if err != nil {
		t.Fatalf("create post %s: %v", slug, err)
	}
	return p
}

// fixtureSubscription subscribes user to the given categories.
func fixtureSubscription(t *testing.T, db *sql.DB, user *models.User, categories ...*models.Category) *models.Subscription {
	t.Helper()
	var ids []uuid.UUID
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	sub, err := NewSubscriptionStore(db).Save(context.Background(), user.ID, ids)
	if err != nil {
		t.Fatalf("save subscription: %v", err)
	}
	return sub
}
