package repository

import (
	"database/sql"
	"strings"

	"github.com/gatherly/gatherly-api/internal/models"
)

type UserRepository interface {
	CreateUser(email, fullName string) (models.User, error)
	GetUserByEmail(email string) (models.User, error)
	GetUserByID(userID string) (models.User, error)
	CountMemberships(userID string) (int, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// NormalizeEmail lowercases and trims an address. Every path that
// touches users or tokens must go through this so lookups agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (u *userRepository) CreateUser(email, fullName string) (models.User, error) {
	user := models.User{
		Email:    NormalizeEmail(email),
		FullName: strings.TrimSpace(fullName),
		IsActive: true,
	}

	const query = `
		INSERT INTO users (email, full_name, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`
	err := u.db.QueryRow(query, user.Email, user.FullName, user.IsActive).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (u *userRepository) GetUserByEmail(email string) (models.User, error) {
	const query = `
		SELECT id, email, full_name, is_active, created_at, updated_at
		FROM users
		WHERE email = $1`

	var user models.User
	err := u.db.QueryRow(query, NormalizeEmail(email)).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (u *userRepository) GetUserByID(userID string) (models.User, error) {
	const query = `
		SELECT id, email, full_name, is_active, created_at, updated_at
		FROM users
		WHERE id = $1`

	var user models.User
	err := u.db.QueryRow(query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (u *userRepository) CountMemberships(userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM memberships WHERE user_id = $1`

	var count int
	if err := u.db.QueryRow(query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
