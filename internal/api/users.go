package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/karaoke-core/internal/auth"
)

type friendRequest struct {
	FriendID string `json:"friend_id"`
}

// handleGetProfile returns the caller's full profile.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	user, err := s.auth.Profile(r.Context(), id.UserID)
	if err != nil {
		s.writeServiceError(w, r, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateProfile applies a partial profile update. Omitted fields keep
// their current value.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var upd auth.ProfileUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}

	user, err := s.auth.UpdateProfile(r.Context(), id, upd)
	if err != nil {
		s.writeServiceError(w, r, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handlePublicProfile returns anyone's public profile. No email, no role.
func (s *Server) handlePublicProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.auth.PublicProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "get public profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleFriendRequest sends a friend request. Repeating it is a no-op.
func (s *Server) handleFriendRequest(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req friendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.social.Request(r.Context(), id, req.FriendID); err != nil {
		s.writeServiceError(w, r, "friend request", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "friend request sent"})
}

// handleFriendAccept accepts a pending request in either direction.
func (s *Server) handleFriendAccept(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req friendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.social.Accept(r.Context(), id, req.FriendID); err != nil {
		s.writeServiceError(w, r, "accept friend", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "friend request accepted"})
}

// handleListFriends returns the caller's accepted friends.
func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	friends, err := s.social.Friends(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "list friends", err)
		return
	}
	if friends == nil {
		friends = []auth.PublicProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"friends": friends,
		"count":   len(friends),
	})
}
