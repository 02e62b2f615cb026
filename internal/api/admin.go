package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/karaoke-core/internal/audit"
	"github.com/nerrad567/karaoke-core/internal/auth"
)

type lockRequest struct {
	Duration string `json:"duration"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// handleListUsers returns every account.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	users, err := s.auth.ListUsers(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleDeleteUser removes an account.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	target, err := s.auth.DeleteUser(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "delete user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "user deleted",
		"user_id": target.ID,
	})
}

// handleLockUser locks or unlocks an account. Body: {"duration": "1h"|"1d"|"7d"|"permanent"|"unlock"}.
func (s *Server) handleLockUser(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req lockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := auth.ParseLockDuration(req.Duration)
	if err != nil {
		s.writeServiceError(w, r, "lock user", err)
		return
	}

	target, err := s.auth.LockUser(r.Context(), id, chi.URLParam(r, "id"), d)
	if err != nil {
		s.writeServiceError(w, r, "lock user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      target.ID,
		"locked_until": target.LockedUntil,
	})
}

// handleRevokeUserSessions force-logs-out an account.
func (s *Server) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	n, err := s.auth.RevokeUserSessions(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "revoke sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// handleChangeRole sets an account's role. Owner only.
func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		s.writeServiceError(w, r, "change role", err)
		return
	}

	target, err := s.auth.ChangeRole(r.Context(), id, chi.URLParam(r, "id"), role)
	if err != nil {
		s.writeServiceError(w, r, "change role", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": target.ID,
		"role":    target.Role,
	})
}

// handleListAuditLogs returns audit entries, newest first.
//
// Query parameters:
//   - action: filter by action (login, locked, role_changed, ...)
//   - actor_id: filter by who performed the action
//   - target_id: filter by affected account
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	if !auth.HasPermission(id.Role, auth.PermAuditRead) {
		writeForbidden(w, "audit access required")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		ActorID:  q.Get("actor_id"),
		TargetID: q.Get("target_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeInternal(w, r, "list audit logs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
