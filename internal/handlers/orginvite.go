package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gatherly/gatherly-api/internal/authz"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/notification"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/gatherly/gatherly-api/internal/token"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultOrgInviteTTL = 7 * 24 * time.Hour

// OrgInviteHandler manages invitations for staff to join an
// organization. Unlike guest invites these are single-use: accepting
// one consumes it.
type OrgInviteHandler struct {
	orgInvites repository.OrgInviteRepository
	orgs       repository.OrganizationRepository
	users      repository.UserRepository
	mailer     notification.Mailer
	urlTpl     string
	tokenTTL   time.Duration
	logger     zerolog.Logger
}

func NewOrgInviteHandler(
	orgInvites repository.OrgInviteRepository,
	orgs repository.OrganizationRepository,
	users repository.UserRepository,
	mailer notification.Mailer,
	inviteURLTemplate string,
	logger zerolog.Logger,
) *OrgInviteHandler {
	return &OrgInviteHandler{
		orgInvites: orgInvites,
		orgs:       orgs,
		users:      users,
		mailer:     mailer,
		urlTpl:     inviteURLTemplate,
		tokenTTL:   defaultOrgInviteTTL,
		logger:     logger,
	}
}

type orgInviteRequest struct {
	Email          string `json:"email"`
	Role           string `json:"role"`
	ExpiresInHours *int   `json:"expires_in_hours"`
}

func (h *OrgInviteHandler) requireOrgAdmin(w http.ResponseWriter, r *http.Request, orgID string) (models.User, bool) {
	user, ok := authz.UserFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return models.User{}, false
	}

	membership, err := h.orgs.GetMembership(orgID, user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "insufficient permissions", http.StatusForbidden)
			return models.User{}, false
		}
		h.logger.Error().Err(err).Msg("membership lookup failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return models.User{}, false
	}
	if !models.HasAtLeast(membership.Role, models.RoleAdmin) {
		http.Error(w, "insufficient permissions", http.StatusForbidden)
		return models.User{}, false
	}
	return user, true
}

func (h *OrgInviteHandler) CreateOrgInvite(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]
	if orgID == "" {
		http.Error(w, "organization id is required", http.StatusBadRequest)
		return
	}

	inviter, ok := h.requireOrgAdmin(w, r, orgID)
	if !ok {
		return
	}

	org, err := h.orgs.GetOrganizationByID(orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "organization not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to load organization")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var payload orgInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(strings.ToLower(payload.Email))
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	role := models.MemberRole(strings.ToLower(strings.TrimSpace(payload.Role)))
	if payload.Role == "" {
		role = models.RoleViewer
	}
	if !models.IsValidRole(role) {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	ttl := h.tokenTTL
	if payload.ExpiresInHours != nil {
		dur := *payload.ExpiresInHours
		if dur <= 0 || dur > 24*30 {
			http.Error(w, "expires_in_hours must be between 1 and 720", http.StatusBadRequest)
			return
		}
		ttl = time.Duration(dur) * time.Hour
	}

	raw, err := token.Generate()
	if err != nil {
		http.Error(w, "failed to generate invite token", http.StatusInternalServerError)
		return
	}

	created, err := h.orgInvites.CreateOrgInvite(models.OrgInvite{
		OrganizationID: org.ID,
		Email:          email,
		Role:           role,
		TokenHash:      token.Hash(raw),
		CreatedBy:      &inviter.ID,
		ExpiresAt:      time.Now().Add(ttl),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create org invite")
		http.Error(w, "failed to create invite", http.StatusInternalServerError)
		return
	}

	inviteURL := fmt.Sprintf(h.urlTpl, raw)
	if err := h.mailer.SendOrganizationInvite(created.Email, org.Name, inviter.FullName, string(role), inviteURL); err != nil {
		h.logger.Error().Err(err).Msg("failed to send org invite email")
	}

	writeJSON(w, http.StatusCreated, struct {
		Invite models.OrgInvite `json:"invite"`
		Token  string           `json:"token"`
	}{Invite: created, Token: raw})
}

func (h *OrgInviteHandler) PreviewOrgInvite(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(mux.Vars(r)["token"])
	if raw == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	orgInvite, err := h.orgInvites.GetOrgInviteByTokenHash(token.Hash(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "invite not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to load org invite")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if orgInvite.IsUsed() {
		http.Error(w, "invite already accepted", http.StatusConflict)
		return
	}
	if orgInvite.IsExpired(time.Now()) {
		http.Error(w, "invite expired", http.StatusGone)
		return
	}

	org, err := h.orgs.GetOrganizationByID(orgInvite.OrganizationID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load organization")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Email            string            `json:"email"`
		OrganizationID   string            `json:"organization_id"`
		OrganizationName string            `json:"organization_name"`
		Role             models.MemberRole `json:"role"`
		ExpiresAt        time.Time         `json:"expires_at"`
	}{
		Email:            orgInvite.Email,
		OrganizationID:   orgInvite.OrganizationID,
		OrganizationName: org.Name,
		Role:             orgInvite.Role,
		ExpiresAt:        orgInvite.ExpiresAt,
	})
}

// AcceptOrgInvite consumes the invite for the authenticated user. The
// session's email must match the invited address; users without an
// account register through the magic-link flow first.
func (h *OrgInviteHandler) AcceptOrgInvite(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(mux.Vars(r)["token"])
	if raw == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	user, ok := authz.UserFromRequest(r)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	orgInvite, err := h.orgInvites.GetOrgInviteByTokenHash(token.Hash(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "invite not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to load org invite")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if orgInvite.IsUsed() {
		http.Error(w, "invite already accepted", http.StatusConflict)
		return
	}
	if orgInvite.IsExpired(time.Now()) {
		http.Error(w, "invite expired", http.StatusGone)
		return
	}
	if orgInvite.Email != user.Email {
		http.Error(w, "invite was issued for a different address", http.StatusForbidden)
		return
	}

	if _, err := h.orgInvites.MarkOrgInviteAccepted(orgInvite.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "invite no longer valid", http.StatusGone)
			return
		}
		h.logger.Error().Err(err).Msg("failed to finalize org invite")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	membership, err := h.orgs.AddMember(orgInvite.OrganizationID, user.ID, orgInvite.Role)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to add member")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, membership)
}

func (h *OrgInviteHandler) ListOrgInvites(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["orgID"]
	if orgID == "" {
		http.Error(w, "organization id is required", http.StatusBadRequest)
		return
	}
	if _, ok := h.requireOrgAdmin(w, r, orgID); !ok {
		return
	}

	invites, err := h.orgInvites.ListOrgInvitesByOrganization(orgID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list org invites")
		http.Error(w, "failed to list invites", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, invites)
}

func (h *OrgInviteHandler) CancelOrgInvite(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orgID, inviteID := vars["orgID"], vars["inviteID"]
	if orgID == "" || inviteID == "" {
		http.Error(w, "organization and invite ids are required", http.StatusBadRequest)
		return
	}
	if _, ok := h.requireOrgAdmin(w, r, orgID); !ok {
		return
	}

	if err := h.orgInvites.CancelOrgInvite(inviteID, orgID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "invite not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to cancel org invite")
		http.Error(w, "failed to cancel invite", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
