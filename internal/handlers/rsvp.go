package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gatherly/gatherly-api/internal/invite"
	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/ratelimit"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RSVPHandler is the guest-facing invite redemption surface. Guests
// hold only a raw invite token (and possibly a passcode or one-time
// code); there is no account behind them.
type RSVPHandler struct {
	invites *invite.Service
	logger  zerolog.Logger
}

func NewRSVPHandler(invites *invite.Service, logger zerolog.Logger) *RSVPHandler {
	return &RSVPHandler{invites: invites, logger: logger}
}

type validateRequest struct {
	Token        string  `json:"token"`
	Passcode     *string `json:"passcode"`
	GuestSession string  `json:"guest_session"`
}

type otpRequest struct {
	Token string `json:"token"`
}

type otpVerifyRequest struct {
	Token        string  `json:"token"`
	Code         string  `json:"code"`
	Passcode     *string `json:"passcode"`
	GuestSession string  `json:"guest_session"`
}

type validateResponse struct {
	InviteID     string              `json:"invite_id"`
	ProjectID    string              `json:"project_id"`
	SiteID       string              `json:"site_id"`
	SecurityMode models.SecurityMode `json:"security_mode"`
	RequiresOTP  bool                `json:"requires_otp"`
	OTPState     models.OTPState     `json:"otp_state"`
	GuestSession string              `json:"guest_session,omitempty"`
}

func toValidateResponse(result invite.ValidateResult) validateResponse {
	return validateResponse{
		InviteID:     result.Invite.ID,
		ProjectID:    result.Invite.ProjectID,
		SiteID:       result.Invite.SiteID,
		SecurityMode: result.Invite.SecurityMode,
		RequiresOTP:  result.RequiresOTP,
		OTPState:     result.OTPState,
		GuestSession: result.GuestSessionToken,
	}
}

func (h *RSVPHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	result, err := h.invites.Validate(req.Token, invite.ValidateParams{
		Passcode:          req.Passcode,
		GuestSessionToken: req.GuestSession,
		IPAddress:         ratelimit.ClientIP(r),
		UserAgent:         r.UserAgent(),
	})
	if err != nil {
		h.writeInviteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toValidateResponse(result))
}

func (h *RSVPHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if err := h.invites.RequestOTP(req.Token); err != nil {
		h.writeInviteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "code sent"})
}

func (h *RSVPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.Code == "" {
		http.Error(w, "token and code are required", http.StatusBadRequest)
		return
	}

	result, err := h.invites.VerifyOTP(req.Token, req.Code, invite.ValidateParams{
		Passcode:          req.Passcode,
		GuestSessionToken: req.GuestSession,
		IPAddress:         ratelimit.ClientIP(r),
		UserAgent:         r.UserAgent(),
	})
	if err != nil {
		h.writeInviteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toValidateResponse(result))
}

// writeInviteError maps the invite error taxonomy onto HTTP statuses.
// Terminal invite states get specific reasons; everything about token
// or code validity stays generic.
func (h *RSVPHandler) writeInviteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invite.ErrInvalidToken):
		http.Error(w, "invalid invite token", http.StatusUnauthorized)
	case errors.Is(err, invite.ErrInviteRevoked):
		http.Error(w, "invite has been revoked", http.StatusGone)
	case errors.Is(err, invite.ErrInviteExpired):
		http.Error(w, "invite has expired", http.StatusGone)
	case errors.Is(err, invite.ErrPasscodeRequired):
		http.Error(w, "passcode required", http.StatusUnauthorized)
	case errors.Is(err, invite.ErrInvalidPasscode):
		http.Error(w, "invalid passcode", http.StatusUnauthorized)
	case errors.Is(err, invite.ErrOTPNotRequired):
		http.Error(w, "invite does not use one-time codes", http.StatusBadRequest)
	case errors.Is(err, invite.ErrInvalidOTP), errors.Is(err, invite.ErrOTPExpired):
		http.Error(w, "invalid or expired code", http.StatusUnauthorized)
	case errors.Is(err, invite.ErrTooManyOTPAttempts):
		http.Error(w, "too many incorrect attempts, request a new code", http.StatusTooManyRequests)
	case errors.Is(err, invite.ErrGuestEmailMissing):
		http.Error(w, "no delivery address on file for this invite", http.StatusConflict)
	default:
		h.logger.Error().Err(err).Msg("invite validation failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
