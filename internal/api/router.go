package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/stoneshop/internal/inventory"
	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/store"
	"github.com/erazemk/stoneshop/internal/workflow"
)

// Deps are the collaborators the API handlers share.
type Deps struct {
	DB          *sql.DB
	Items       *store.Items
	Inventory   *inventory.Service
	Policy      workflow.Policy
	JWTSecret   string
	AuthEnabled bool

	MaxUploadBytes  int64
	MultipartMemory int64
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret}
	usersHandler := &UsersHandler{DB: d.DB}
	itemsHandler := &ItemsHandler{Items: d.Items, Inventory: d.Inventory, Policy: d.Policy}
	photosHandler := &PhotosHandler{
		Inventory:       d.Inventory,
		MaxUploadBytes:  d.MaxUploadBytes,
		MultipartMemory: d.MultipartMemory,
	}

	authMW := AuthMiddleware(d.JWTSecret, d.DB, d.AuthEnabled)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireStaff := RequireRole(model.RoleStaff)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Items: read (all roles), write (staff+).
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(requireStaff(http.HandlerFunc(itemsHandler.Create))))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}", authMW(requireStaff(http.HandlerFunc(itemsHandler.Update))))
	mux.Handle("DELETE /api/items/{id}", authMW(requireStaff(http.HandlerFunc(itemsHandler.Delete))))

	// Photos: read (all roles), write (staff+).
	mux.Handle("POST /api/items/{id}/photos", authMW(requireStaff(http.HandlerFunc(photosHandler.Upload))))
	mux.Handle("DELETE /api/items/{id}/photos/{photoID}", authMW(requireStaff(http.HandlerFunc(photosHandler.Detach))))
	mux.Handle("GET /api/photos/{photoID}", authMW(http.HandlerFunc(photosHandler.Download)))

	return mux
}
