package repository

import (
	"database/sql"
	"time"

	"github.com/gatherly/gatherly-api/internal/models"
)

type SessionRepository interface {
	Create(session models.Session) (models.Session, error)
	GetByTokenHash(tokenHash string) (models.Session, error)
	// Delete is idempotent: removing an absent session is not an error.
	Delete(tokenHash string) error
	DeleteExpired(now time.Time) (int64, error)

	CreateGuestSession(gs models.GuestSession) (models.GuestSession, error)
	GetGuestSessionByTokenHash(tokenHash string) (models.GuestSession, error)
	MarkGuestSessionOTPVerified(sessionID string, at time.Time) error
	DeleteExpiredGuestSessions(now time.Time) (int64, error)
}

type sessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session models.Session) (models.Session, error) {
	const query = `
		INSERT INTO sessions (user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.db.QueryRow(query,
		session.UserID,
		session.TokenHash,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return models.Session{}, err
	}

	return session, nil
}

func (r *sessionRepository) GetByTokenHash(tokenHash string) (models.Session, error) {
	const query = `
		SELECT id, user_id, token_hash, ip_address, user_agent, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1`

	var session models.Session
	err := r.db.QueryRow(query, tokenHash).Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.IPAddress,
		&session.UserAgent,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		return models.Session{}, err
	}

	return session, nil
}

func (r *sessionRepository) Delete(tokenHash string) error {
	_, err := r.db.Exec(`DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

func (r *sessionRepository) DeleteExpired(now time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepository) CreateGuestSession(gs models.GuestSession) (models.GuestSession, error) {
	const query = `
		INSERT INTO guest_sessions (invite_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err := r.db.QueryRow(query, gs.InviteID, gs.TokenHash, gs.ExpiresAt).Scan(&gs.ID, &gs.CreatedAt)
	if err != nil {
		return models.GuestSession{}, err
	}

	return gs, nil
}

func (r *sessionRepository) GetGuestSessionByTokenHash(tokenHash string) (models.GuestSession, error) {
	const query = `
		SELECT id, invite_id, token_hash, otp_verified_at, created_at, expires_at
		FROM guest_sessions
		WHERE token_hash = $1`

	var gs models.GuestSession
	err := r.db.QueryRow(query, tokenHash).Scan(
		&gs.ID,
		&gs.InviteID,
		&gs.TokenHash,
		&gs.OTPVerifiedAt,
		&gs.CreatedAt,
		&gs.ExpiresAt,
	)
	if err != nil {
		return models.GuestSession{}, err
	}

	return gs, nil
}

func (r *sessionRepository) MarkGuestSessionOTPVerified(sessionID string, at time.Time) error {
	result, err := r.db.Exec(
		`UPDATE guest_sessions SET otp_verified_at = $2 WHERE id = $1`,
		sessionID, at,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *sessionRepository) DeleteExpiredGuestSessions(now time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM guest_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
