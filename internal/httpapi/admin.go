package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dsproxy/dsproxy/internal/apperr"
	"github.com/dsproxy/dsproxy/internal/userstore"
)

type createUserRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	QuotaTier string `json:"quota_tier"`
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]userstore.Info{"users": s.users.List()})
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "request body must be JSON"))
		return
	}
	if req.QuotaTier == "" {
		req.QuotaTier = "basic"
	}

	rec, err := s.users.Create(req.Username, req.Password, req.QuotaTier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username": rec.Username,
		"message":  "user created",
	})
}

func (s *Server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	rec, ok := s.users.Get(username)
	if !ok {
		s.writeError(w, r, apperr.Newf(apperr.NotFound, "user %s does not exist", username))
		return
	}
	// Record's password field is excluded from JSON.
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAdminSetActive(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		s.writeError(w, r, apperr.New(apperr.BadRequest, "request body must be JSON with is_active"))
		return
	}

	if err := s.users.SetActive(username, *req.IsActive); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username": username,
		"message":  "user updated",
	})
}
