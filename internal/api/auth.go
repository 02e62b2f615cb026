package api

import (
	"net/http"
	"strings"

	"github.com/nerrad567/karaoke-core/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// loginRequest accepts the identifier under any of the names clients send.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Platform   string `json:"platform"`
}

func (r loginRequest) identifier() string {
	for _, v := range []string{r.Identifier, r.Username, r.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type syncPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister creates a user account and logs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		s.writeServiceError(w, r, "register", err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// handleLogin authenticates by username or email.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := req.identifier()
	if id == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "identifier and password are required")
		return
	}

	res, err := s.auth.Login(r.Context(), auth.LoginInput{
		Identifier:    id,
		Password:      req.Password,
		AdminPlatform: s.isAdminPlatform(r, req.Platform),
	})
	if err != nil {
		s.writeServiceError(w, r, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// isAdminPlatform reports whether the login came through the admin console,
// flagged either by the body field or by the configured header.
func (s *Server) isAdminPlatform(r *http.Request, bodyPlatform string) bool {
	want := s.secCfg.AdminPlatform.Value
	if want == "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(bodyPlatform), want) {
		return true
	}
	if h := s.secCfg.AdminPlatform.Header; h != "" {
		return strings.EqualFold(strings.TrimSpace(r.Header.Get(h)), want)
	}
	return false
}

// handleGuestLogin creates a throwaway guest account and logs it in.
func (s *Server) handleGuestLogin(w http.ResponseWriter, r *http.Request) {
	res, err := s.auth.GuestLogin(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "guest login", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleRefresh exchanges a refresh token for a new access token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "refresh_token is required")
		return
	}

	access, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, "refresh", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(s.auth.Issuer().AccessTTL().Seconds()),
	})
}

// handleLogout revokes the presented refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "refresh_token is required")
		return
	}

	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeServiceError(w, r, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleLogoutAll revokes every session of the caller.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	n, err := s.auth.LogoutAll(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "logout all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// handleCheckEmail reports whether an email is registered.
func (s *Server) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	exists, err := s.auth.CheckEmail(r.Context(), req.Email)
	if err != nil {
		s.writeServiceError(w, r, "check email", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// handleSyncPassword overwrites the password for an email after an external
// reset and logs the account in.
func (s *Server) handleSyncPassword(w http.ResponseWriter, r *http.Request) {
	var req syncPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "email and password are required")
		return
	}

	res, err := s.auth.SyncPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, r, "sync password", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteGuest lets a guest remove its own account.
func (s *Server) handleDeleteGuest(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	if err := s.auth.DeleteGuest(r.Context(), id); err != nil {
		s.writeServiceError(w, r, "delete guest", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
