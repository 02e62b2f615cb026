package auth

import "time"

// EventKind names an account lifecycle event.
type EventKind string

// Account events published to observers.
const (
	EventRegistered      EventKind = "registered"
	EventLogin           EventKind = "login"
	EventLoginFailed     EventKind = "login_failed"
	EventLoginLocked     EventKind = "login_locked"
	EventRefreshed       EventKind = "refreshed"
	EventLogout          EventKind = "logout"
	EventSessionsRevoked EventKind = "sessions_revoked"
	EventLocked          EventKind = "locked"
	EventUnlocked        EventKind = "unlocked"
	EventDeleted         EventKind = "deleted"
	EventRoleChanged     EventKind = "role_changed"
	EventPasswordSynced  EventKind = "password_synced"
)

// OperatorActor is the actor recorded for out-of-band operator commands.
const OperatorActor = "operator"

// Event describes something that happened to an account.
type Event struct {
	Kind        EventKind  `json:"kind"`
	UserID      string     `json:"user_id,omitempty"`
	ActorID     string     `json:"actor_id,omitempty"`
	Role        Role       `json:"role,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	At          time.Time  `json:"at"`
}

// EventPublisher receives account events. Delivery is best-effort: a failing
// publisher never fails the operation that produced the event.
type EventPublisher interface {
	PublishEvent(ev Event) error
}

// EventPublisherFunc adapts a plain function to EventPublisher.
type EventPublisherFunc func(ev Event) error

// PublishEvent calls f(ev).
func (f EventPublisherFunc) PublishEvent(ev Event) error { return f(ev) }

// multiPublisher fans an event out to several publishers.
type multiPublisher []EventPublisher

// MultiPublisher combines publishers; nil entries are skipped.
func MultiPublisher(pubs ...EventPublisher) EventPublisher {
	var out multiPublisher
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// PublishEvent delivers ev to every publisher and returns the first error.
func (m multiPublisher) PublishEvent(ev Event) error {
	var first error
	for _, p := range m {
		if err := p.PublishEvent(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
