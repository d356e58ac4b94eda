package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/stoneshop/internal/apperr"
	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/store"
)

// UsersPage handles GET /users (admin only).
func (s *Server) UsersPage(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListUsers(r.Context(), s.DB)
	if err != nil {
		slog.Error("failed to list users", "error", err)
	}

	s.Templates.Render(w, "users.html", &struct {
		PageData
		Users []model.User
		Roles []string
	}{
		PageData: s.page(w, r, "Users"),
		Users:    users,
		Roles:    []string{model.RoleViewer, model.RoleStaff, model.RoleAdmin},
	})
}

// UserCreateSubmit handles POST /users (admin only).
func (s *Server) UserCreateSubmit(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	role := r.FormValue("role")

	switch {
	case username == "" || password == "":
		setFlash(w, "Username and password are required.")
	case !model.ValidRole(role):
		setFlash(w, "Unknown role.")
	default:
		if err := model.ValidatePassword(password); err != nil {
			setFlash(w, err.Error())
			break
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "failed to hash password", http.StatusInternalServerError)
			return
		}
		if _, err := store.CreateUser(r.Context(), s.DB, username, string(hash), role); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				setFlash(w, "Username already exists.")
				break
			}
			slog.Error("failed to create user", "username", username, "error", err)
			setFlash(w, "Could not create the account.")
			break
		}
		slog.Info("user created", "user", GetWebClaims(r.Context()).Username, "new_user", username, "role", role)
	}
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}

// UserResetPasswordSubmit handles POST /users/{id}/password (admin only).
func (s *Server) UserResetPasswordSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Redirect(w, r, "/users", http.StatusSeeOther)
		return
	}

	newPassword := r.FormValue("new_password")
	if err := model.ValidatePassword(newPassword); err != nil {
		setFlash(w, err.Error())
		http.Redirect(w, r, "/users", http.StatusSeeOther)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	if err := store.UpdateUserPassword(r.Context(), s.DB, id, string(hash)); err != nil {
		slog.Error("failed to reset password", "target_id", id, "error", err)
		setFlash(w, "Password could not be reset.")
	} else {
		setFlash(w, "Password reset.")
	}
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}

// UserDeleteSubmit handles POST /users/{id}/delete (admin only).
func (s *Server) UserDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Redirect(w, r, "/users", http.StatusSeeOther)
		return
	}

	claims := GetWebClaims(r.Context())
	if claims.UserID == id {
		setFlash(w, "You cannot delete yourself.")
		http.Redirect(w, r, "/users", http.StatusSeeOther)
		return
	}

	if err := store.DeleteUser(r.Context(), s.DB, id); err != nil {
		slog.Error("failed to delete user", "target_id", id, "error", err)
		setFlash(w, "User could not be deleted.")
	} else {
		slog.Info("user deleted", "user", claims.Username, "deleted_id", id)
	}
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}

// SettingsPage handles GET /settings.
func (s *Server) SettingsPage(w http.ResponseWriter, r *http.Request) {
	page := s.page(w, r, "Settings")
	s.Templates.Render(w, "settings.html", &page)
}

// SettingsSubmit handles POST /settings (change own password).
func (s *Server) SettingsSubmit(w http.ResponseWriter, r *http.Request) {
	claims := GetWebClaims(r.Context())
	page := s.page(w, r, "Settings")

	fail := func(msg string) {
		page.Error = msg
		s.Templates.Render(w, "settings.html", &page)
	}

	currentPassword := r.FormValue("current_password")
	newPassword := r.FormValue("new_password")
	if currentPassword == "" || newPassword == "" {
		fail("Enter your current and new password.")
		return
	}
	if err := model.ValidatePassword(newPassword); err != nil {
		fail(err.Error())
		return
	}

	user, err := store.GetUser(r.Context(), s.DB, claims.UserID)
	if err != nil || user == nil {
		fail("Your account could not be loaded.")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		fail("Current password is wrong.")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		fail("Password could not be saved.")
		return
	}
	if err := store.UpdateUserPassword(r.Context(), s.DB, claims.UserID, string(hash)); err != nil {
		slog.Error("failed to update password", "user", claims.Username, "error", err)
		fail("Password could not be saved.")
		return
	}

	slog.Info("user changed own password", "user", claims.Username)
	page.Success = "Password changed."
	s.Templates.Render(w, "settings.html", &page)
}
