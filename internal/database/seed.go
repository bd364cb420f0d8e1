package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// SeedCategories are the categories every development database starts with.
var SeedCategories = []struct{ Title, Slug string }{
	{"Career", "career"},
	{"Family", "family"},
	{"Social", "social"},
	{"Technical", "technical"},
}

// Seed populates the database with initial development data: the default
// categories, and a staff author when there are no users yet.
func Seed(db *sql.DB) error {
	for _, c := range SeedCategories {
		if _, err := db.Exec(`
			INSERT INTO categories (title, slug) VALUES ($1, $2)
			ON CONFLICT (slug) DO NOTHING
		`, c.Title, c.Slug); err != nil {
			return fmt.Errorf("seed category %s: %w", c.Slug, err)
		}
	}

	// Check if any users exist already.
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("seed check users: %w", err)
	}

	if count > 0 {
		slog.Info("database already seeded, skipping")
		return nil
	}

	// Hash the default staff password.
	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("seed bcrypt: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO users (email, password_hash, first_name, last_name, is_staff)
		VALUES ($1, $2, $3, $4, $5)
	`, "admin@newsletter.local", string(hash), "Staff", "Author", true)
	if err != nil {
		return fmt.Errorf("seed insert staff user: %w", err)
	}

	slog.Info("database seeded with default staff user",
		"email", "admin@newsletter.local",
		"password", "admin",
	)

	return nil
}
