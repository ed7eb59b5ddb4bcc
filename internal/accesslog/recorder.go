// Package accesslog persists the append-only invite audit trail. Writes
// are decoupled from the request path: a failed or slow insert must
// never fail the validation it records.
package accesslog

import (
	"sync"
	"time"

	"github.com/gatherly/gatherly-api/internal/models"
	"github.com/gatherly/gatherly-api/internal/repository"
	"github.com/rs/zerolog"
)

const defaultBuffer = 256

// Recorder buffers access-log entries and writes them from a single
// background goroutine.
type Recorder struct {
	repo    repository.AccessLogRepository
	logger  zerolog.Logger
	entries chan models.InviteAccessLog
	done    chan struct{}
	once    sync.Once
}

func NewRecorder(repo repository.AccessLogRepository, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		repo:    repo,
		logger:  logger.With().Str("component", "accesslog").Logger(),
		entries: make(chan models.InviteAccessLog, defaultBuffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues one audit row. It never blocks and never fails the
// caller; if the buffer is full the entry is dropped with a warning.
func (r *Recorder) Record(inviteID, ipAddress, userAgent string) {
	entry := models.InviteAccessLog{
		InviteID:   inviteID,
		AccessedAt: time.Now(),
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
	}

	select {
	case r.entries <- entry:
	default:
		r.logger.Warn().Str("invite_id", inviteID).Msg("access log buffer full, dropping entry")
	}
}

func (r *Recorder) run() {
	for entry := range r.entries {
		if err := r.repo.Append(entry); err != nil {
			r.logger.Error().Err(err).Str("invite_id", entry.InviteID).Msg("failed to write access log entry")
		}
	}
	close(r.done)
}

// Close drains buffered entries and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.entries)
	})
	<-r.done
}
