package sweeper

import (
	"context"
	"time"

	"github.com/gatherly/gatherly-api/internal/config"
	"github.com/gatherly/gatherly-api/internal/ratelimit"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/rs/zerolog"
)

// SweeperConfig wires the stores the sweeper prunes on each pass.
type SweeperConfig struct {
	MagicLinks   repository.MagicLinkRepository
	Sessions     repository.SessionRepository
	Invites      repository.InviteRepository
	OrgInvites   repository.OrgInviteRepository
	AccessLogs   repository.AccessLogRepository
	MemoryLimits *ratelimit.MemoryStore
	Retention    config.RetentionConfig
	RateWindow   time.Duration
}

// Sweeper periodically removes expired tokens, sessions and OTP
// challenges, and applies the access-log retention policy.
type Sweeper struct {
	cfg    SweeperConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewSweeper(cfg SweeperConfig, logger zerolog.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, logger: logger, now: time.Now}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Retention.SweepInterval).
		Msg("Sweeper started")

	ticker := time.NewTicker(s.cfg.Retention.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pruning pass. Each store is swept independently so a
// failure in one does not starve the others.
func (s *Sweeper) Sweep() {
	now := s.now()

	s.prune("magic_link_tokens", func() (int64, error) {
		return s.cfg.MagicLinks.DeleteExpired(now)
	})
	s.prune("sessions", func() (int64, error) {
		return s.cfg.Sessions.DeleteExpired(now)
	})
	s.prune("guest_sessions", func() (int64, error) {
		return s.cfg.Sessions.DeleteExpiredGuestSessions(now)
	})
	s.prune("invite_otp_challenges", func() (int64, error) {
		return s.cfg.Invites.DeleteExpiredOTPChallenges(now)
	})
	s.prune("org_invites", func() (int64, error) {
		return s.cfg.OrgInvites.DeleteExpired(now)
	})

	if days := s.cfg.Retention.AccessLogDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		s.prune("invite_access_logs", func() (int64, error) {
			return s.cfg.AccessLogs.DeleteOlderThan(cutoff)
		})
	}

	if s.cfg.MemoryLimits != nil {
		s.cfg.MemoryLimits.Cleanup(s.cfg.RateWindow)
	}
}

func (s *Sweeper) prune(table string, fn func() (int64, error)) {
	deleted, err := fn()
	if err != nil {
		s.logger.Error().Err(err).Str("table", table).Msg("Sweep pass failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Str("table", table).Int64("deleted", deleted).Msg("Swept expired rows")
	}
}
