package repository

import (
	"database/sql"
	"strings"

	"github.com/gatherly/gatherly-api/internal/models"
)

type OrganizationRepository interface {
	CreateOrganization(name string) (models.Organization, error)
	GetOrganizationByID(orgID string) (models.Organization, error)
	AddMember(orgID, userID string, role models.MemberRole) (models.Membership, error)
	GetMembership(orgID, userID string) (models.Membership, error)
	UpdateMembershipRole(orgID, userID string, role models.MemberRole) (models.Membership, error)
	ListMembers(orgID string) ([]models.Membership, error)
	// UserHasProjectAccess reports whether the user belongs to the
	// organization owning the project.
	UserHasProjectAccess(userID, projectID string) (bool, error)
}

type organizationRepository struct {
	db *sql.DB
}

func NewOrganizationRepository(db *sql.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

func (r *organizationRepository) CreateOrganization(name string) (models.Organization, error) {
	org := models.Organization{Name: strings.TrimSpace(name)}

	const query = `
		INSERT INTO organizations (name)
		VALUES ($1)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(query, org.Name).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return models.Organization{}, err
	}

	return org, nil
}

func (r *organizationRepository) GetOrganizationByID(orgID string) (models.Organization, error) {
	const query = `
		SELECT id, name, created_at, updated_at
		FROM organizations
		WHERE id = $1`

	var org models.Organization
	err := r.db.QueryRow(query, orgID).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return models.Organization{}, err
	}

	return org, nil
}

func (r *organizationRepository) AddMember(orgID, userID string, role models.MemberRole) (models.Membership, error) {
	m := models.Membership{OrganizationID: orgID, UserID: userID, Role: role}

	const query = `
		INSERT INTO memberships (organization_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING id, role, created_at`
	err := r.db.QueryRow(query, orgID, userID, string(role)).Scan(&m.ID, &m.Role, &m.CreatedAt)
	if err != nil {
		return models.Membership{}, err
	}

	return m, nil
}

func (r *organizationRepository) GetMembership(orgID, userID string) (models.Membership, error) {
	const query = `
		SELECT id, organization_id, user_id, role, created_at
		FROM memberships
		WHERE organization_id = $1 AND user_id = $2`

	var m models.Membership
	err := r.db.QueryRow(query, orgID, userID).Scan(
		&m.ID,
		&m.OrganizationID,
		&m.UserID,
		&m.Role,
		&m.CreatedAt,
	)
	if err != nil {
		return models.Membership{}, err
	}

	return m, nil
}

func (r *organizationRepository) UpdateMembershipRole(orgID, userID string, role models.MemberRole) (models.Membership, error) {
	const query = `
		UPDATE memberships
		SET role = $3
		WHERE organization_id = $1 AND user_id = $2
		RETURNING id, organization_id, user_id, role, created_at`

	var m models.Membership
	err := r.db.QueryRow(query, orgID, userID, string(role)).Scan(
		&m.ID,
		&m.OrganizationID,
		&m.UserID,
		&m.Role,
		&m.CreatedAt,
	)
	if err != nil {
		return models.Membership{}, err
	}

	return m, nil
}

func (r *organizationRepository) UserHasProjectAccess(userID, projectID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM projects p
			JOIN memberships m ON m.organization_id = p.organization_id
			WHERE p.id = $1 AND m.user_id = $2
		)`

	var ok bool
	if err := r.db.QueryRow(query, projectID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *organizationRepository) ListMembers(orgID string) ([]models.Membership, error) {
	const query = `
		SELECT id, organization_id, user_id, role, created_at
		FROM memberships
		WHERE organization_id = $1
		ORDER BY created_at`

	rows, err := r.db.Query(query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return members, nil
}
