// Package router sets up all HTTP routes and middleware chains for the
// newsletter service. It organizes routes into public, member and staff
// groups with appropriate middleware stacks.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"newsletter/internal/handlers"
	"newsletter/internal/middleware"
)

// Deps holds everything the router wires into routes.
type Deps struct {
	Sessions      middleware.SessionGetter
	Auth          *handlers.Auth
	Posts         *handlers.Posts
	Subscriptions *handlers.Subscriptions
	Ops           *handlers.Ops
	LoginLimit    func(http.Handler) http.Handler // optional; wraps POST /login
	SecureCookies bool
}

// New creates and returns the configured Chi router with all middleware
// and route groups wired up.
func New(d Deps) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.LoadSession(d.Sessions))

	// Health check: no auth, no CSRF.
	r.Get("/health", healthHandler)

	// Login starts the session, so there is no CSRF cookie to echo yet.
	r.Group(func(r chi.Router) {
		if d.LoginLimit != nil {
			r.Use(d.LoginLimit)
		}
		r.Post("/login", d.Auth.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRF(d.SecureCookies))

		r.Post("/logout", d.Auth.Logout)

		// Reading is open to everyone; private posts need a session.
		r.Get("/posts", d.Posts.List)
		r.Get("/p/{slug}", d.Posts.Detail)
		r.Get("/p/{slug}/", d.Posts.Detail)

		r.Route("/subscription", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/", d.Subscriptions.Get)
			r.Put("/", d.Subscriptions.Put)
		})

		// Staff operations around publishing and dispatch.
		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(middleware.RequireStaff)
			r.Get("/posts/needs-publishing", d.Ops.NeedsPublishing)
			r.Get("/posts/needs-notifications", d.Ops.NeedsNotifications)
			r.Put("/posts/{id}", d.Ops.UpdatePost)
			r.Delete("/posts/{id}", d.Ops.DeletePost)
			r.Post("/dispatch", d.Ops.Dispatch)
			r.Get("/cache-log", d.Ops.CacheLog)
		})
	})

	return r
}

// healthHandler returns a simple JSON health check response.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
