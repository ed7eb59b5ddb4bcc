package repository

import (
	"database/sql"
	"time"

	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/google/uuid"
)

type AccessLogRepository interface {
	Append(entry models.InviteAccessLog) error
	ListByInvite(inviteID string, limit int) ([]models.InviteAccessLog, error)
	CountByInvite(inviteID string) (int, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

type accessLogRepository struct {
	db *sql.DB
}

func NewAccessLogRepository(db *sql.DB) AccessLogRepository {
	return &accessLogRepository{db: db}
}

func (r *accessLogRepository) Append(entry models.InviteAccessLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.AccessedAt.IsZero() {
		entry.AccessedAt = time.Now()
	}

	const query = `
		INSERT INTO invite_access_logs (id, invite_id, accessed_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(query, entry.ID, entry.InviteID, entry.AccessedAt, entry.IPAddress, entry.UserAgent)
	return err
}

func (r *accessLogRepository) ListByInvite(inviteID string, limit int) ([]models.InviteAccessLog, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, invite_id, accessed_at, ip_address, user_agent
		FROM invite_access_logs
		WHERE invite_id = $1
		ORDER BY accessed_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, inviteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.InviteAccessLog
	for rows.Next() {
		var entry models.InviteAccessLog
		if err := rows.Scan(&entry.ID, &entry.InviteID, &entry.AccessedAt, &entry.IPAddress, &entry.UserAgent); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *accessLogRepository) CountByInvite(inviteID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM invite_access_logs WHERE invite_id = $1`, inviteID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *accessLogRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM invite_access_logs WHERE accessed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
