package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nerrad567/karaoke-core/internal/auth"
)

// Where an audited action came from.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// chanSize is the buffer size for the async audit channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const chanSize = 256

// ErrQueueFull is returned when an entry had to be dropped.
var ErrQueueFull = errors.New("audit queue full")

// Recorder turns account events into audit log rows. Writes happen on a
// single goroutine started by Run, so callers never wait on SQLite.
type Recorder struct {
	repo   Repository
	ch     chan *AuditLog
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		ch:     make(chan *AuditLog, chanSize),
		logger: logger,
	}
}

// PublishEvent enqueues ev for asynchronous write. It implements auth.EventPublisher.
func (r *Recorder) PublishEvent(ev auth.Event) error {
	return r.Enqueue(entryFromEvent(ev))
}

// Enqueue queues an entry. If the channel is full the entry is dropped.
func (r *Recorder) Enqueue(entry *AuditLog) error {
	select {
	case r.ch <- entry:
		return nil
	default:
		r.logger.Warn("audit log channel full, dropping entry", "action", entry.Action)
		return ErrQueueFull
	}
}

// Run reads entries from the channel and writes them serially until ctx is
// cancelled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case entry := <-r.ch:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.ch:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *AuditLog) {
	// The request context is long gone by now; give each write its own budget.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:mnd // single-row insert
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"target_id", entry.TargetID,
			"error", err,
		)
	}
}

func entryFromEvent(ev auth.Event) *AuditLog {
	source := SourceAPI
	if ev.ActorID == auth.OperatorActor {
		source = SourceMQTT
	}

	var details map[string]any
	if ev.Role != "" || ev.LockedUntil != nil {
		details = map[string]any{}
		if ev.Role != "" {
			details["role"] = string(ev.Role)
		}
		if ev.LockedUntil != nil {
			details["locked_until"] = ev.LockedUntil.UTC().Format(time.RFC3339)
		}
	}

	return &AuditLog{
		Action:    string(ev.Kind),
		ActorID:   ev.ActorID,
		TargetID:  ev.UserID,
		Source:    source,
		Details:   details,
		CreatedAt: ev.At,
	}
}
