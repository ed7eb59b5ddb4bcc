package repository

import (
	"database/sql"
	"time"

	"github.com/gatherly/gatherly-api/internal/models"
)

type OrgInviteRepository interface {
	CreateOrgInvite(invite models.OrgInvite) (models.OrgInvite, error)
	GetOrgInviteByTokenHash(tokenHash string) (models.OrgInvite, error)
	// MarkOrgInviteAccepted succeeds at most once per invite; a second
	// call returns sql.ErrNoRows.
	MarkOrgInviteAccepted(inviteID string) (models.OrgInvite, error)
	ListOrgInvitesByOrganization(orgID string) ([]models.OrgInvite, error)
	CancelOrgInvite(inviteID, orgID string) error
	DeleteExpired(now time.Time) (int64, error)
}

type orgInviteRepository struct {
	db *sql.DB
}

func NewOrgInviteRepository(db *sql.DB) OrgInviteRepository {
	return &orgInviteRepository{db: db}
}

const orgInviteColumns = `id, organization_id, email, role, token_hash, created_by,
	expires_at, accepted_at, created_at, updated_at`

func scanOrgInvite(row *sql.Row) (models.OrgInvite, error) {
	var invite models.OrgInvite
	err := row.Scan(
		&invite.ID,
		&invite.OrganizationID,
		&invite.Email,
		&invite.Role,
		&invite.TokenHash,
		&invite.CreatedBy,
		&invite.ExpiresAt,
		&invite.AcceptedAt,
		&invite.CreatedAt,
		&invite.UpdatedAt,
	)
	if err != nil {
		return models.OrgInvite{}, err
	}
	return invite, nil
}

func (r *orgInviteRepository) CreateOrgInvite(invite models.OrgInvite) (models.OrgInvite, error) {
	const query = `
		INSERT INTO org_invites (organization_id, email, role, token_hash, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + orgInviteColumns

	return scanOrgInvite(r.db.QueryRow(query,
		invite.OrganizationID,
		NormalizeEmail(invite.Email),
		string(invite.Role),
		invite.TokenHash,
		invite.CreatedBy,
		invite.ExpiresAt,
	))
}

func (r *orgInviteRepository) GetOrgInviteByTokenHash(tokenHash string) (models.OrgInvite, error) {
	const query = `SELECT ` + orgInviteColumns + ` FROM org_invites WHERE token_hash = $1`
	return scanOrgInvite(r.db.QueryRow(query, tokenHash))
}

func (r *orgInviteRepository) MarkOrgInviteAccepted(inviteID string) (models.OrgInvite, error) {
	const query = `
		UPDATE org_invites
		SET accepted_at = now(), updated_at = now()
		WHERE id = $1 AND accepted_at IS NULL
		RETURNING ` + orgInviteColumns

	return scanOrgInvite(r.db.QueryRow(query, inviteID))
}

func (r *orgInviteRepository) ListOrgInvitesByOrganization(orgID string) ([]models.OrgInvite, error) {
	const query = `SELECT ` + orgInviteColumns + ` FROM org_invites WHERE organization_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []models.OrgInvite
	for rows.Next() {
		var invite models.OrgInvite
		if err := rows.Scan(
			&invite.ID,
			&invite.OrganizationID,
			&invite.Email,
			&invite.Role,
			&invite.TokenHash,
			&invite.CreatedBy,
			&invite.ExpiresAt,
			&invite.AcceptedAt,
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

func (r *orgInviteRepository) CancelOrgInvite(inviteID, orgID string) error {
	result, err := r.db.Exec(
		`DELETE FROM org_invites WHERE id = $1 AND organization_id = $2 AND accepted_at IS NULL`,
		inviteID, orgID,
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

func (r *orgInviteRepository) DeleteExpired(now time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM org_invites WHERE expires_at <= $1 AND accepted_at IS NULL`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
