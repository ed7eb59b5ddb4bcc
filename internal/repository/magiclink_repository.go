package repository

import (
	"database/sql"
	"time"

	"github.com/gatherly/gatherly-api/internal/models"
)

type MagicLinkRepository interface {
	Create(email, tokenHash string, expiresAt time.Time) (models.MagicLinkToken, error)
	// Redeem atomically deletes and returns the token if it exists and
	// has not expired. Concurrent redemptions of the same raw token can
	// therefore succeed at most once.
	Redeem(tokenHash string, now time.Time) (models.MagicLinkToken, error)
	DeleteExpired(now time.Time) (int64, error)
}

type magicLinkRepository struct {
	db *sql.DB
}

func NewMagicLinkRepository(db *sql.DB) MagicLinkRepository {
	return &magicLinkRepository{db: db}
}

func (r *magicLinkRepository) Create(email, tokenHash string, expiresAt time.Time) (models.MagicLinkToken, error) {
	ml := models.MagicLinkToken{
		Email:     NormalizeEmail(email),
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
	}

	const query = `
		INSERT INTO magic_link_tokens (email, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	err := r.db.QueryRow(query, ml.Email, ml.TokenHash, ml.ExpiresAt).Scan(&ml.ID, &ml.CreatedAt)
	if err != nil {
		return models.MagicLinkToken{}, err
	}

	return ml, nil
}

func (r *magicLinkRepository) Redeem(tokenHash string, now time.Time) (models.MagicLinkToken, error) {
	const query = `
		DELETE FROM magic_link_tokens
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING id, email, token_hash, created_at, expires_at`

	var ml models.MagicLinkToken
	err := r.db.QueryRow(query, tokenHash, now).Scan(
		&ml.ID,
		&ml.Email,
		&ml.TokenHash,
		&ml.CreatedAt,
		&ml.ExpiresAt,
	)
	if err != nil {
		return models.MagicLinkToken{}, err
	}

	return ml, nil
}

func (r *magicLinkRepository) DeleteExpired(now time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM magic_link_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
