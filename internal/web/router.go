package web

import (
	"net/http"

	"github.com/erazemk/stoneshop/internal/model"
	webembed "github.com/erazemk/stoneshop/web"
)

// NewRouter creates the web page router with all page routes registered.
// Templates are loaded from the embedded file system unless s already
// carries them.
func NewRouter(s *Server) (http.Handler, error) {
	if s.Templates == nil {
		templates, err := LoadTemplates()
		if err != nil {
			return nil, err
		}
		s.Templates = templates
	}

	mux := http.NewServeMux()
	cookieAuth := CookieAuthMiddleware(s.JWTSecret, s.DB, s.AuthEnabled)
	staff := func(h http.HandlerFunc) http.Handler {
		return cookieAuth(RequireRole(model.RoleStaff)(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return cookieAuth(RequireRole(model.RoleAdmin)(h))
	}

	// Static assets.
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(webembed.StaticFS()))))

	// Public routes.
	mux.HandleFunc("GET /login", s.LoginPage)
	mux.HandleFunc("POST /login", s.LoginSubmit)
	mux.HandleFunc("POST /logout", s.Logout)

	// Authenticated routes.
	mux.Handle("GET /{$}", cookieAuth(http.RedirectHandler("/items", http.StatusSeeOther)))

	mux.Handle("GET /items", cookieAuth(http.HandlerFunc(s.ItemsPage)))
	mux.Handle("GET /items/new", staff(s.ItemNewPage))
	mux.Handle("POST /items", staff(s.ItemCreateSubmit))
	mux.Handle("GET /items/{id}", cookieAuth(http.HandlerFunc(s.ItemDetailPage)))
	mux.Handle("POST /items/{id}", staff(s.ItemUpdateSubmit))
	mux.Handle("POST /items/{id}/delete", staff(s.ItemDeleteSubmit))
	mux.Handle("POST /items/{id}/photos", staff(s.PhotoUploadSubmit))
	mux.Handle("POST /items/{id}/photos/{photoID}/delete", staff(s.PhotoDeleteSubmit))

	mux.Handle("GET /photos/{photoID}", cookieAuth(http.HandlerFunc(s.PhotoGet)))
	mux.Handle("GET /photos/{photoID}/thumb", cookieAuth(http.HandlerFunc(s.PhotoThumb)))

	mux.Handle("GET /users", admin(s.UsersPage))
	mux.Handle("POST /users", admin(s.UserCreateSubmit))
	mux.Handle("POST /users/{id}/password", admin(s.UserResetPasswordSubmit))
	mux.Handle("POST /users/{id}/delete", admin(s.UserDeleteSubmit))

	mux.Handle("GET /settings", cookieAuth(http.HandlerFunc(s.SettingsPage)))
	mux.Handle("POST /settings", cookieAuth(http.HandlerFunc(s.SettingsSubmit)))

	return mux, nil
}
