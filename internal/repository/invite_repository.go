package repository

import (
	"database/sql"
	"time"

	"github.com/gatherly/gatherly-api/internal/models"
)

type InviteRepository interface {
	CreateInvite(invite models.Invite) (models.Invite, error)
	GetInviteByID(inviteID string) (models.Invite, error)
	GetInviteByTokenHash(tokenHash string) (models.Invite, error)
	ListInvitesByProject(projectID string) ([]models.Invite, error)
	// RevokeInvite is terminal; revoking an already-revoked invite
	// returns sql.ErrNoRows.
	RevokeInvite(inviteID string, at time.Time) (models.Invite, error)
	// ReplaceToken swaps the token hash in place, invalidating the
	// previous raw token while preserving the row and its history.
	ReplaceToken(inviteID, newTokenHash string) (models.Invite, error)
	MarkOTPVerified(inviteID string, at time.Time) error
	// OTPDeliveryInfo resolves where a code challenge should be sent.
	OTPDeliveryInfo(inviteID string) (email, projectName string, err error)

	CreateOTPChallenge(c models.OTPChallenge) (models.OTPChallenge, error)
	GetLatestOTPChallenge(inviteID string) (models.OTPChallenge, error)
	IncrementOTPAttempts(challengeID string) (int, error)
	// ConsumeOTPChallenge succeeds at most once per challenge.
	ConsumeOTPChallenge(challengeID string, at time.Time) error
	DeleteExpiredOTPChallenges(now time.Time) (int64, error)
}

type inviteRepository struct {
	db *sql.DB
}

func NewInviteRepository(db *sql.DB) InviteRepository {
	return &inviteRepository{db: db}
}

const inviteColumns = `id, project_id, site_id, guest_id, group_id, security_mode,
	passcode_hash, token_hash, expires_at, revoked_at, otp_verified_at, created_at, updated_at`

func scanInvite(row *sql.Row) (models.Invite, error) {
	var invite models.Invite
	err := row.Scan(
		&invite.ID,
		&invite.ProjectID,
		&invite.SiteID,
		&invite.GuestID,
		&invite.GroupID,
		&invite.SecurityMode,
		&invite.PasscodeHash,
		&invite.TokenHash,
		&invite.ExpiresAt,
		&invite.RevokedAt,
		&invite.OTPVerifiedAt,
		&invite.CreatedAt,
		&invite.UpdatedAt,
	)
	if err != nil {
		return models.Invite{}, err
	}
	return invite, nil
}

func (r *inviteRepository) CreateInvite(invite models.Invite) (models.Invite, error) {
	const query = `
		INSERT INTO invites (project_id, site_id, guest_id, group_id, security_mode, passcode_hash, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + inviteColumns

	return scanInvite(r.db.QueryRow(query,
		invite.ProjectID,
		invite.SiteID,
		invite.GuestID,
		invite.GroupID,
		string(invite.SecurityMode),
		invite.PasscodeHash,
		invite.TokenHash,
		invite.ExpiresAt,
	))
}

func (r *inviteRepository) GetInviteByID(inviteID string) (models.Invite, error) {
	const query = `SELECT ` + inviteColumns + ` FROM invites WHERE id = $1`
	return scanInvite(r.db.QueryRow(query, inviteID))
}

func (r *inviteRepository) GetInviteByTokenHash(tokenHash string) (models.Invite, error) {
	const query = `SELECT ` + inviteColumns + ` FROM invites WHERE token_hash = $1`
	return scanInvite(r.db.QueryRow(query, tokenHash))
}

func (r *inviteRepository) ListInvitesByProject(projectID string) ([]models.Invite, error) {
	const query = `SELECT ` + inviteColumns + ` FROM invites WHERE project_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []models.Invite
	for rows.Next() {
		var invite models.Invite
		if err := rows.Scan(
			&invite.ID,
			&invite.ProjectID,
			&invite.SiteID,
			&invite.GuestID,
			&invite.GroupID,
			&invite.SecurityMode,
			&invite.PasscodeHash,
			&invite.TokenHash,
			&invite.ExpiresAt,
			&invite.RevokedAt,
			&invite.OTPVerifiedAt,
			&invite.CreatedAt,
			&invite.UpdatedAt,
		); err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return invites, nil
}

func (r *inviteRepository) RevokeInvite(inviteID string, at time.Time) (models.Invite, error) {
	const query = `
		UPDATE invites
		SET revoked_at = $2, updated_at = now()
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING ` + inviteColumns

	return scanInvite(r.db.QueryRow(query, inviteID, at))
}

func (r *inviteRepository) ReplaceToken(inviteID, newTokenHash string) (models.Invite, error) {
	const query = `
		UPDATE invites
		SET token_hash = $2, updated_at = now()
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING ` + inviteColumns

	return scanInvite(r.db.QueryRow(query, inviteID, newTokenHash))
}

func (r *inviteRepository) MarkOTPVerified(inviteID string, at time.Time) error {
	_, err := r.db.Exec(
		`UPDATE invites SET otp_verified_at = $2, updated_at = now()
		 WHERE id = $1 AND otp_verified_at IS NULL`,
		inviteID, at,
	)
	return err
}

func (r *inviteRepository) OTPDeliveryInfo(inviteID string) (string, string, error) {
	const query = `
		SELECT g.email, p.name
		FROM invites i
		JOIN guests g ON g.id = i.guest_id
		JOIN projects p ON p.id = i.project_id
		WHERE i.id = $1 AND g.email IS NOT NULL`

	var email, projectName string
	if err := r.db.QueryRow(query, inviteID).Scan(&email, &projectName); err != nil {
		return "", "", err
	}
	return email, projectName, nil
}

func (r *inviteRepository) CreateOTPChallenge(c models.OTPChallenge) (models.OTPChallenge, error) {
	const query = `
		INSERT INTO invite_otp_challenges (invite_id, code_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, attempts, created_at`
	err := r.db.QueryRow(query, c.InviteID, c.CodeHash, c.ExpiresAt).
		Scan(&c.ID, &c.Attempts, &c.CreatedAt)
	if err != nil {
		return models.OTPChallenge{}, err
	}

	return c, nil
}

func (r *inviteRepository) GetLatestOTPChallenge(inviteID string) (models.OTPChallenge, error) {
	const query = `
		SELECT id, invite_id, code_hash, attempts, consumed_at, created_at, expires_at
		FROM invite_otp_challenges
		WHERE invite_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var c models.OTPChallenge
	err := r.db.QueryRow(query, inviteID).Scan(
		&c.ID,
		&c.InviteID,
		&c.CodeHash,
		&c.Attempts,
		&c.ConsumedAt,
		&c.CreatedAt,
		&c.ExpiresAt,
	)
	if err != nil {
		return models.OTPChallenge{}, err
	}

	return c, nil
}

func (r *inviteRepository) IncrementOTPAttempts(challengeID string) (int, error) {
	const query = `
		UPDATE invite_otp_challenges
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts`

	var attempts int
	if err := r.db.QueryRow(query, challengeID).Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *inviteRepository) ConsumeOTPChallenge(challengeID string, at time.Time) error {
	result, err := r.db.Exec(
		`UPDATE invite_otp_challenges SET consumed_at = $2
		 WHERE id = $1 AND consumed_at IS NULL`,
		challengeID, at,
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

func (r *inviteRepository) DeleteExpiredOTPChallenges(now time.Time) (int64, error) {
	result, err := r.db.Exec(
		`DELETE FROM invite_otp_challenges WHERE expires_at <= $1 OR consumed_at IS NOT NULL`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
