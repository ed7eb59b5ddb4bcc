package routes

import (
	"net/http"

	"github.com/gatherly/gatherly-api/internal/auth"
	"github.com/gatherly/gatherly-api/internal/authz"
	"github.com/gatherly/gatherly-api/internal/handlers"
	"github.com/gatherly/gatherly-api/internal/ratelimit"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Policies groups the rate-limit classes applied to public endpoints.
type Policies struct {
	MagicLinkIP ratelimit.Policy
	OTP         ratelimit.Policy
}

// NewRouter sets up the API routes.
func NewRouter(
	authSvc *auth.Service,
	authHandler *handlers.AuthHandler,
	inviteHandler *handlers.InviteHandler,
	rsvpHandler *handlers.RSVPHandler,
	orgInviteHandler *handlers.OrgInviteHandler,
	limiter *ratelimit.Limiter,
	policies Policies,
	logger zerolog.Logger,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	magicLinkLimit := ratelimit.Middleware(limiter, policies.MagicLinkIP, ratelimit.ClientIP)
	otpLimit := ratelimit.Middleware(limiter, policies.OTP, ratelimit.ClientIP)
	requireSession := authz.RequireSession(authSvc, logger)

	// Public auth endpoints. Issuance is limited per IP here and per
	// target email inside the handler.
	router.Handle("/api/auth/login", magicLinkLimit(http.HandlerFunc(authHandler.RequestMagicLink))).Methods(http.MethodPost)
	router.Handle("/api/auth/register", magicLinkLimit(http.HandlerFunc(authHandler.Register))).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/verify", authHandler.Verify).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/session", authHandler.Session).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/logout", authHandler.Logout).Methods(http.MethodPost)

	// Guest-facing RSVP endpoints; no staff session involved.
	router.HandleFunc("/api/rsvp/validate", rsvpHandler.Validate).Methods(http.MethodPost)
	router.Handle("/api/rsvp/otp/request", otpLimit(http.HandlerFunc(rsvpHandler.RequestOTP))).Methods(http.MethodPost)
	router.Handle("/api/rsvp/otp/verify", otpLimit(http.HandlerFunc(rsvpHandler.VerifyOTP))).Methods(http.MethodPost)

	// Staff invite management.
	staff := router.PathPrefix("/api").Subrouter()
	staff.Use(requireSession)
	staff.HandleFunc("/projects/{projectID}/invites", inviteHandler.CreateProjectInvite).Methods(http.MethodPost)
	staff.HandleFunc("/projects/{projectID}/invites", inviteHandler.ListProjectInvites).Methods(http.MethodGet)
	staff.HandleFunc("/invites/{inviteID}/revoke", inviteHandler.RevokeInvite).Methods(http.MethodPost)
	staff.HandleFunc("/invites/{inviteID}/regenerate", inviteHandler.RegenerateInviteToken).Methods(http.MethodPost)
	staff.HandleFunc("/invites/{inviteID}/access-log", inviteHandler.ListInviteAccessLog).Methods(http.MethodGet)

	// Organization membership invites.
	staff.HandleFunc("/orgs/{orgID}/invites", orgInviteHandler.CreateOrgInvite).Methods(http.MethodPost)
	staff.HandleFunc("/orgs/{orgID}/invites", orgInviteHandler.ListOrgInvites).Methods(http.MethodGet)
	staff.HandleFunc("/orgs/{orgID}/invites/{inviteID}", orgInviteHandler.CancelOrgInvite).Methods(http.MethodDelete)
	staff.HandleFunc("/org-invites/{token}/accept", orgInviteHandler.AcceptOrgInvite).Methods(http.MethodPost)

	// Invite preview is public: the token itself is the credential.
	router.HandleFunc("/api/org-invites/{token}", orgInviteHandler.PreviewOrgInvite).Methods(http.MethodGet)

	return router
}
