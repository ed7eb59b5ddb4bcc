package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gatherly/gatherly-api/internal/authz"
	"github.com/gatherly/gatherly-api/internal/invite"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// InviteHandler exposes staff-facing guest invite management: create,
// list, revoke, regenerate, and the access-log view.
type InviteHandler struct {
	invites    *invite.Service
	orgs       repository.OrganizationRepository
	accessLogs repository.AccessLogRepository
	logger     zerolog.Logger
}

func NewInviteHandler(
	invites *invite.Service,
	orgs repository.OrganizationRepository,
	accessLogs repository.AccessLogRepository,
	logger zerolog.Logger,
) *InviteHandler {
	return &InviteHandler{
		invites:    invites,
		orgs:       orgs,
		accessLogs: accessLogs,
		logger:     logger,
	}
}

type createInviteRequest struct {
	SiteID         string  `json:"site_id"`
	GuestID        *string `json:"guest_id"`
	GroupID        *string `json:"group_id"`
	SecurityMode   string  `json:"security_mode"`
	Passcode       *string `json:"passcode"`
	ExpiresInHours *int    `json:"expires_in_hours"`
}

type inviteResponse struct {
	Invite models.Invite `json:"invite"`
	Token  string        `json:"token,omitempty"`
}

func (h *InviteHandler) requireProjectAccess(w http.ResponseWriter, r *http.Request, projectID string) bool {
	user, ok := authz.UserFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return false
	}

	allowed, err := h.orgs.UserHasProjectAccess(user.ID, projectID)
	if err != nil {
		h.logger.Error().Err(err).Msg("project access check failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		http.Error(w, "insufficient permissions for project", http.StatusForbidden)
		return false
	}
	return true
}

func (h *InviteHandler) CreateProjectInvite(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]
	if projectID == "" {
		http.Error(w, "project id is required", http.StatusBadRequest)
		return
	}
	if !h.requireProjectAccess(w, r, projectID) {
		return
	}

	var payload createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.SiteID == "" {
		http.Error(w, "site_id is required", http.StatusBadRequest)
		return
	}

	mode := models.SecurityMode(payload.SecurityMode)
	if payload.SecurityMode == "" {
		mode = models.ModeOpen
	}
	if !models.IsValidSecurityMode(mode) {
		http.Error(w, "invalid security_mode", http.StatusBadRequest)
		return
	}

	var expiresAt *time.Time
	if payload.ExpiresInHours != nil {
		dur := *payload.ExpiresInHours
		if dur <= 0 || dur > 24*365 {
			http.Error(w, "expires_in_hours must be between 1 and 8760", http.StatusBadRequest)
			return
		}
		t := time.Now().Add(time.Duration(dur) * time.Hour)
		expiresAt = &t
	}

	created, rawToken, err := h.invites.Create(invite.CreateParams{
		ProjectID:    projectID,
		SiteID:       payload.SiteID,
		GuestID:      payload.GuestID,
		GroupID:      payload.GroupID,
		SecurityMode: mode,
		Passcode:     payload.Passcode,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		if errors.Is(err, invite.ErrPasscodeRequired) {
			http.Error(w, "passcode is required for passcode mode", http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Msg("failed to create invite")
		http.Error(w, "failed to create invite", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, inviteResponse{Invite: created, Token: rawToken})
}

func (h *InviteHandler) ListProjectInvites(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]
	if projectID == "" {
		http.Error(w, "project id is required", http.StatusBadRequest)
		return
	}
	if !h.requireProjectAccess(w, r, projectID) {
		return
	}

	invites, err := h.invites.ListByProject(projectID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list invites")
		http.Error(w, "failed to list invites", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, invites)
}

func (h *InviteHandler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	inviteID := mux.Vars(r)["inviteID"]
	target, ok := h.loadAndAuthorize(w, r, inviteID)
	if !ok {
		return
	}

	revoked, err := h.invites.Revoke(target.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to revoke invite")
		http.Error(w, "failed to revoke invite", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, inviteResponse{Invite: revoked})
}

func (h *InviteHandler) RegenerateInviteToken(w http.ResponseWriter, r *http.Request) {
	inviteID := mux.Vars(r)["inviteID"]
	target, ok := h.loadAndAuthorize(w, r, inviteID)
	if !ok {
		return
	}

	regenerated, rawToken, err := h.invites.RegenerateToken(target.ID)
	if err != nil {
		if errors.Is(err, invite.ErrInviteRevoked) {
			http.Error(w, "invite has been revoked", http.StatusGone)
			return
		}
		if errors.Is(err, invite.ErrInviteNotFound) {
			http.Error(w, "invite not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to regenerate invite token")
		http.Error(w, "failed to regenerate invite token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, inviteResponse{Invite: regenerated, Token: rawToken})
}

func (h *InviteHandler) ListInviteAccessLog(w http.ResponseWriter, r *http.Request) {
	inviteID := mux.Vars(r)["inviteID"]
	target, ok := h.loadAndAuthorize(w, r, inviteID)
	if !ok {
		return
	}

	entries, err := h.accessLogs.ListByInvite(target.ID, 200)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list access log")
		http.Error(w, "failed to list access log", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *InviteHandler) loadAndAuthorize(w http.ResponseWriter, r *http.Request, inviteID string) (models.Invite, bool) {
	if inviteID == "" {
		http.Error(w, "invite id is required", http.StatusBadRequest)
		return models.Invite{}, false
	}

	target, err := h.invites.GetByID(inviteID)
	if err != nil {
		if errors.Is(err, invite.ErrInviteNotFound) {
			http.Error(w, "invite not found", http.StatusNotFound)
			return models.Invite{}, false
		}
		h.logger.Error().Err(err).Msg("failed to load invite")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return models.Invite{}, false
	}

	if !h.requireProjectAccess(w, r, target.ProjectID) {
		return models.Invite{}, false
	}
	return target, true
}
